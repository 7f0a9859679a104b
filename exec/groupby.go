package exec

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/vector"
)

// aggGroup is one group's accumulators plus the first input row that
// produced it, which supplies the key values and the output order.
type aggGroup struct {
	firstRow int
	states   []expr.AggState
}

// runGroupBy hash-aggregates the materialized input. Rows are
// scattered over the worker pool in chunks, each building partial
// groups, then merged chunk by chunk so output order is the order in
// which keys first appear in the input.
func (r *runner) runGroupBy(ctx context.Context, t *plan.GroupBy) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}

	kvecs := make([]*vector.Vector, len(t.Keys))
	for i, k := range t.Keys {
		ev, err := expr.Compile(k, t.Input.Schema())
		if err != nil {
			return nil, err
		}
		if kvecs[i], err = ev.Fn(in); err != nil {
			return nil, err
		}
	}

	aggs := make([]*expr.AggExpr, len(t.Aggs))
	avecs := make([]*vector.Vector, len(t.Aggs))
	for i, a := range t.Aggs {
		aggs[i] = plan.UnwrapAgg(a)
		ev, err := expr.Compile(aggs[i].Input, t.Input.Schema())
		if err != nil {
			return nil, err
		}
		if avecs[i], err = ev.Fn(in); err != nil {
			return nil, err
		}
	}

	partials, err := r.scatterGroups(ctx, in.Len(), kvecs, aggs, avecs)
	if err != nil {
		return nil, err
	}
	groups, err := mergeGroups(partials, kvecs, aggs)
	if err != nil {
		return nil, err
	}

	schema := t.Schema()
	cols := make([]*vector.Vector, schema.Len())
	for i := range kvecs {
		col := vector.New(schema.Field(i).Type)
		for _, g := range groups {
			col.AppendFrom(kvecs[i], g.firstRow)
		}
		cols[i] = col
	}
	for i := range aggs {
		col := vector.New(schema.Field(len(kvecs) + i).Type)
		for _, g := range groups {
			if err := col.Append(g.states[i].Final()); err != nil {
				return nil, err
			}
		}
		cols[len(kvecs)+i] = col
	}
	out, err := vector.NewBatch(schema, cols)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}

// partialGroups is one chunk's aggregation state, groups in the order
// their keys first appeared within the chunk.
type partialGroups struct {
	hashes []uint64
	groups []*aggGroup
}

func (r *runner) scatterGroups(ctx context.Context, n int, kvecs []*vector.Vector, aggs []*expr.AggExpr, avecs []*vector.Vector) ([]*partialGroups, error) {
	hashes := vector.HashRows(kvecs, n)
	size := r.ex.opts.BatchSize
	nchunks := (n + size - 1) / size
	if nchunks == 0 {
		return nil, nil
	}
	partials := make([]*partialGroups, nchunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.ex.opts.Parallelism)
	for c := 0; c < nchunks; c++ {
		c := c
		g.Go(func() error {
			if err := checkCtx(gctx); err != nil {
				return err
			}
			lo, hi := c*size, (c+1)*size
			if hi > n {
				hi = n
			}
			p := &partialGroups{}
			buckets := map[uint64][]int{}
			for i := lo; i < hi; i++ {
				h := hashes[i]
				gid := -1
				for _, cand := range buckets[h] {
					if vector.RowsEqual(kvecs, p.groups[cand].firstRow, kvecs, i) {
						gid = cand
						break
					}
				}
				if gid < 0 {
					states, err := newStates(aggs, avecs)
					if err != nil {
						return err
					}
					gid = len(p.groups)
					buckets[h] = append(buckets[h], gid)
					p.groups = append(p.groups, &aggGroup{firstRow: i, states: states})
					p.hashes = append(p.hashes, h)
				}
				for a := range aggs {
					p.groups[gid].states[a].Update(avecs[a], i)
				}
			}
			partials[c] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partials, nil
}

// mergeGroups folds chunk partials together in chunk order, so a key's
// group lands at the position of its globally first occurrence.
func mergeGroups(partials []*partialGroups, kvecs []*vector.Vector, aggs []*expr.AggExpr) ([]*aggGroup, error) {
	buckets := map[uint64][]int{}
	var groups []*aggGroup
	for _, p := range partials {
		for i, pg := range p.groups {
			h := p.hashes[i]
			gid := -1
			for _, cand := range buckets[h] {
				if vector.RowsEqual(kvecs, groups[cand].firstRow, kvecs, pg.firstRow) {
					gid = cand
					break
				}
			}
			if gid < 0 {
				buckets[h] = append(buckets[h], len(groups))
				groups = append(groups, pg)
				continue
			}
			for a := range aggs {
				groups[gid].states[a].Merge(pg.states[a])
			}
		}
	}
	return groups, nil
}

func newStates(aggs []*expr.AggExpr, avecs []*vector.Vector) ([]expr.AggState, error) {
	states := make([]expr.AggState, len(aggs))
	for i, a := range aggs {
		st, err := expr.NewAggState(a.Op, avecs[i].Type)
		if err != nil {
			return nil, err
		}
		states[i] = st
	}
	return states, nil
}

// runDistinct keeps the first row per key. A nil subset keys on every
// column.
func (r *runner) runDistinct(ctx context.Context, t *plan.Distinct) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	subset := t.Subset
	if subset == nil {
		subset = in.Schema().Names()
	}
	kvecs := make([]*vector.Vector, len(subset))
	for i, name := range subset {
		if kvecs[i], err = in.ColumnByName(name); err != nil {
			return nil, err
		}
	}

	hashes := vector.HashRows(kvecs, in.Len())
	buckets := map[uint64][]int{}
	var kept []int
	for i := 0; i < in.Len(); i++ {
		h := hashes[i]
		dup := false
		for _, j := range buckets[h] {
			if vector.RowsEqual(kvecs, j, kvecs, i) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[h] = append(buckets[h], i)
		kept = append(kept, i)
	}
	out, err := in.Take(kept)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}
