package stream

import (
	"context"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// scanSource adapts a source iterator, re-applying pushdown hints the
// source may have ignored.
type scanSource struct {
	it       source.Iterator
	schema   *types.Schema
	pred     *expr.Evaluator
	limit    int64
	produced int64
}

func newScanSource(ctx context.Context, t *plan.Scan, batchSize int) (*scanSource, error) {
	hint := source.Hint{Columns: t.Projection, Predicate: t.Predicate, Limit: t.Limit}
	it, err := t.Src.Scan(ctx, hint, batchSize)
	if err != nil {
		return nil, qerr.Wrapf(err, "scan open")
	}
	s := &scanSource{it: it, schema: t.Schema(), limit: t.Limit}
	if t.Predicate != nil {
		if s.pred, err = expr.Compile(t.Predicate, t.Schema()); err != nil {
			_ = it.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *scanSource) Next(ctx context.Context) (*vector.Batch, error) {
	for {
		if s.limit >= 0 && s.produced >= s.limit {
			return nil, nil
		}
		b, err := s.it.Next(ctx)
		if err != nil {
			return nil, qerr.Wrapf(err, "scan next")
		}
		if b == nil {
			return nil, nil
		}
		if !b.Schema().Equal(s.schema) {
			if b, err = b.Select(s.schema.Names()); err != nil {
				return nil, err
			}
		}
		if s.pred != nil {
			mask, err := s.pred.Fn(b)
			if err != nil {
				return nil, err
			}
			if b, err = b.Filter(mask); err != nil {
				return nil, err
			}
		}
		if s.limit >= 0 {
			left := s.limit - s.produced
			if int64(b.Len()) > left {
				if b, err = b.Slice(0, int(left)); err != nil {
					return nil, err
				}
			}
		}
		if b.Len() == 0 {
			continue
		}
		s.produced += int64(b.Len())
		return b, nil
	}
}

func (s *scanSource) Close() error { return s.it.Close() }

type filterStage struct {
	ev *expr.Evaluator
}

func (f *filterStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	mask, err := f.ev.Fn(b)
	if err != nil {
		return nil, false, err
	}
	out, err := b.Filter(mask)
	return out, false, err
}

func (f *filterStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }

type projectStage struct {
	schema *types.Schema
	evs    []*expr.Evaluator
}

func (p *projectStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	cols := make([]*vector.Vector, len(p.evs))
	for i, ev := range p.evs {
		v, err := ev.Fn(b)
		if err != nil {
			return nil, false, err
		}
		cols[i] = v
	}
	out, err := vector.NewBatch(p.schema, cols)
	return out, false, err
}

func (p *projectStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }

// sliceStage skips then takes; once the take is satisfied it signals
// done so the pipeline stops pulling the source early.
type sliceStage struct {
	skip   int64
	remain int64 // negative means unbounded
}

func (s *sliceStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	if s.remain == 0 {
		return nil, true, nil
	}
	if s.skip >= int64(b.Len()) {
		s.skip -= int64(b.Len())
		return nil, false, nil
	}
	if s.skip > 0 {
		var err error
		if b, err = b.Slice(int(s.skip), -1); err != nil {
			return nil, false, err
		}
		s.skip = 0
	}
	if s.remain > 0 && int64(b.Len()) > s.remain {
		var err error
		if b, err = b.Slice(0, int(s.remain)); err != nil {
			return nil, false, err
		}
	}
	if s.remain > 0 {
		s.remain -= int64(b.Len())
	}
	return b, s.remain == 0, nil
}

func (s *sliceStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }

// groupByStage accumulates aggregate state morsel by morsel and emits
// one batch at flush, groups in the order keys first arrived.
type groupByStage struct {
	schema   *types.Schema
	keyEvs   []*expr.Evaluator
	aggOps   []expr.AggOp
	aggEvs   []*expr.Evaluator
	keyStore []*vector.Vector
	states   [][]expr.AggState
	buckets  map[uint64][]int
}

func newGroupByStage(t *plan.GroupBy) (*groupByStage, error) {
	in := t.Input.Schema()
	g := &groupByStage{schema: t.Schema(), buckets: map[uint64][]int{}}
	for _, k := range t.Keys {
		ev, err := expr.Compile(k, in)
		if err != nil {
			return nil, err
		}
		g.keyEvs = append(g.keyEvs, ev)
		g.keyStore = append(g.keyStore, vector.New(ev.Type))
	}
	for _, a := range t.Aggs {
		agg := plan.UnwrapAgg(a)
		ev, err := expr.Compile(agg.Input, in)
		if err != nil {
			return nil, err
		}
		g.aggOps = append(g.aggOps, agg.Op)
		g.aggEvs = append(g.aggEvs, ev)
	}
	return g, nil
}

func (g *groupByStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	kvecs := make([]*vector.Vector, len(g.keyEvs))
	for i, ev := range g.keyEvs {
		v, err := ev.Fn(b)
		if err != nil {
			return nil, false, err
		}
		kvecs[i] = v
	}
	avecs := make([]*vector.Vector, len(g.aggEvs))
	for i, ev := range g.aggEvs {
		v, err := ev.Fn(b)
		if err != nil {
			return nil, false, err
		}
		avecs[i] = v
	}

	hashes := vector.HashRows(kvecs, b.Len())
	for i := 0; i < b.Len(); i++ {
		gid := -1
		for _, cand := range g.buckets[hashes[i]] {
			if vector.RowsEqual(kvecs, i, g.keyStore, cand) {
				gid = cand
				break
			}
		}
		if gid < 0 {
			gid = len(g.states)
			for k := range g.keyStore {
				g.keyStore[k].AppendFrom(kvecs[k], i)
			}
			states := make([]expr.AggState, len(g.aggOps))
			for a := range g.aggOps {
				st, err := expr.NewAggState(g.aggOps[a], avecs[a].Type)
				if err != nil {
					return nil, false, err
				}
				states[a] = st
			}
			g.states = append(g.states, states)
			g.buckets[hashes[i]] = append(g.buckets[hashes[i]], gid)
		}
		for a := range g.aggOps {
			g.states[gid][a].Update(avecs[a], i)
		}
	}
	return nil, false, nil
}

func (g *groupByStage) Finish(ctx context.Context) (*vector.Batch, error) {
	cols := make([]*vector.Vector, 0, g.schema.Len())
	cols = append(cols, g.keyStore...)
	for a := range g.aggOps {
		col := vector.New(g.schema.Field(len(g.keyStore) + a).Type)
		for _, states := range g.states {
			if err := col.Append(states[a].Final()); err != nil {
				return nil, err
			}
		}
		cols = append(cols, col)
	}
	return vector.NewBatch(g.schema, cols)
}

// distinctStage passes first-seen rows through immediately and drops
// the rest, remembering keys across morsels.
type distinctStage struct {
	subset  []string
	store   []*vector.Vector
	buckets map[uint64][]int
}

func newDistinctStage(t *plan.Distinct) *distinctStage {
	subset := t.Subset
	if subset == nil {
		subset = t.Input.Schema().Names()
	}
	d := &distinctStage{subset: subset, buckets: map[uint64][]int{}}
	for _, name := range subset {
		f, _ := t.Input.Schema().Lookup(name)
		d.store = append(d.store, vector.New(f.Type))
	}
	return d
}

func (d *distinctStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	kvecs := make([]*vector.Vector, len(d.subset))
	for i, name := range d.subset {
		v, err := b.ColumnByName(name)
		if err != nil {
			return nil, false, err
		}
		kvecs[i] = v
	}
	hashes := vector.HashRows(kvecs, b.Len())
	var kept []int
	for i := 0; i < b.Len(); i++ {
		seen := false
		for _, cand := range d.buckets[hashes[i]] {
			if vector.RowsEqual(kvecs, i, d.store, cand) {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		d.buckets[hashes[i]] = append(d.buckets[hashes[i]], d.store[0].Len())
		for k := range d.store {
			d.store[k].AppendFrom(kvecs[k], i)
		}
		kept = append(kept, i)
	}
	out, err := b.Take(kept)
	return out, false, err
}

func (d *distinctStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }

// meltStage unpivots each morsel column-major within the morsel.
type meltStage struct {
	m      *plan.Melt
	schema *types.Schema
	vtype  types.DataType
}

func (m *meltStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	idCols := make([]*vector.Vector, len(m.m.IDVars))
	outIDs := make([]*vector.Vector, len(m.m.IDVars))
	for i, name := range m.m.IDVars {
		c, err := b.ColumnByName(name)
		if err != nil {
			return nil, false, err
		}
		idCols[i] = c
		outIDs[i] = vector.New(c.Type)
	}
	varCol := vector.New(types.String)
	valCol := vector.New(m.vtype)
	for _, name := range m.m.ValueVars {
		src, err := b.ColumnByName(name)
		if err != nil {
			return nil, false, err
		}
		if src.Type != m.vtype {
			if src, err = vector.Cast(src, m.vtype); err != nil {
				return nil, false, err
			}
		}
		for i := 0; i < b.Len(); i++ {
			for k := range outIDs {
				outIDs[k].AppendFrom(idCols[k], i)
			}
			varCol.AppendStr(name)
			valCol.AppendFrom(src, i)
		}
	}
	cols := make([]*vector.Vector, 0, m.schema.Len())
	cols = append(cols, outIDs...)
	cols = append(cols, varCol, valCol)
	out, err := vector.NewBatch(m.schema, cols)
	return out, false, err
}

func (m *meltStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }

type explodeStage struct {
	counts string
}

func (e *explodeStage) Process(ctx context.Context, b *vector.Batch) (*vector.Batch, bool, error) {
	counts, err := b.ColumnByName(e.counts)
	if err != nil {
		return nil, false, err
	}
	var idxs []int
	for i := 0; i < b.Len(); i++ {
		if counts.IsNull(i) {
			continue
		}
		for k := int64(0); k < counts.Int64(i); k++ {
			idxs = append(idxs, i)
		}
	}
	out, err := b.Take(idxs)
	return out, false, err
}

func (e *explodeStage) Finish(ctx context.Context) (*vector.Batch, error) { return nil, nil }
