package exec

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func (r *runner) runJoin(ctx context.Context, t *plan.Join) (*vector.Batch, error) {
	left, err := r.run(ctx, t.Left)
	if err != nil {
		return nil, err
	}
	right, err := r.run(ctx, t.Right)
	if err != nil {
		return nil, err
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	switch t.Kind {
	case plan.CrossJoin:
		return r.crossJoin(t, left, right)
	case plan.AsOfJoin:
		return r.asofJoin(t, left, right)
	default:
		return r.hashJoin(ctx, t, left, right)
	}
}

// keyColumns resolves the join key vectors for one side.
func keyColumns(b *vector.Batch, on []string) ([]*vector.Vector, error) {
	cols := make([]*vector.Vector, len(on))
	for i, name := range on {
		c, err := b.ColumnByName(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return cols, nil
}

// hashJoin builds a hash table over one side on the coordinator, then
// probes it read-only over the worker pool in chunks. Null keys never
// match: inner and semi drop them, left, outer and anti keep them
// unmatched.
func (r *runner) hashJoin(ctx context.Context, t *plan.Join, left, right *vector.Batch) (*vector.Batch, error) {
	switch t.Kind {
	case plan.InnerJoin, plan.LeftJoin, plan.OuterJoin, plan.SemiJoin, plan.AntiJoin:
	default:
		return nil, qerr.InvalidOpf("hash join cannot execute %s join", t.Kind)
	}
	leftOn := make([]string, len(t.LeftOn))
	rightOn := make([]string, len(t.RightOn))
	for i := range t.LeftOn {
		leftOn[i] = t.LeftOn[i].Name
		rightOn[i] = t.RightOn[i].Name
	}
	lk, err := keyColumns(left, leftOn)
	if err != nil {
		return nil, err
	}
	rk, err := keyColumns(right, rightOn)
	if err != nil {
		return nil, err
	}

	buildLeft := t.Kind == plan.InnerJoin && t.BuildLeft
	bk, pk := rk, lk
	bn, pn := right.Len(), left.Len()
	if buildLeft {
		bk, pk = lk, rk
		bn, pn = left.Len(), right.Len()
	}

	table := buildTable(bk, bn)
	phashes := vector.HashRows(pk, pn)

	chunks, err := r.probeChunks(ctx, t.Kind, buildLeft, table, pk, bk, phashes, pn, bn)
	if err != nil {
		return nil, err
	}

	// Concatenate per-chunk matches in chunk order; output order is the
	// same as a sequential probe regardless of parallelism.
	var li, ri []int
	matchedBuild := make([]bool, bn)
	for _, p := range chunks {
		li = append(li, p.li...)
		ri = append(ri, p.ri...)
		for j, m := range p.matched {
			if m {
				matchedBuild[j] = true
			}
		}
	}
	if t.Kind == plan.OuterJoin {
		for j := 0; j < bn; j++ {
			if !matchedBuild[j] {
				li = append(li, -1)
				ri = append(ri, j)
			}
		}
	}

	if t.Kind == plan.SemiJoin || t.Kind == plan.AntiJoin {
		out, err := left.Take(li)
		if err != nil {
			return nil, err
		}
		if err := r.mem.reserve(out.ByteSize()); err != nil {
			return nil, err
		}
		return out, nil
	}
	return r.assemble(t, left, right, li, ri)
}

// probeChunk is one probe range's match pairs. matched marks build rows
// hit by this chunk, tracked only for outer joins.
type probeChunk struct {
	li, ri  []int
	matched []bool
}

// probeChunks scans the probe side in batch-sized ranges over the
// worker pool. The hash table is complete before any worker starts and
// no worker mutates it. Cancellation is checked per chunk.
func (r *runner) probeChunks(ctx context.Context, kind plan.JoinKind, buildLeft bool, table *hashTable, pk, bk []*vector.Vector, phashes []uint64, pn, bn int) ([]*probeChunk, error) {
	size := r.ex.opts.BatchSize
	nchunks := (pn + size - 1) / size
	if nchunks == 0 {
		return nil, nil
	}
	chunks := make([]*probeChunk, nchunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.ex.opts.Parallelism)
	for c := 0; c < nchunks; c++ {
		c := c
		g.Go(func() error {
			if err := checkCtx(gctx); err != nil {
				return err
			}
			lo, hi := c*size, (c+1)*size
			if hi > pn {
				hi = pn
			}
			p := &probeChunk{}
			if kind == plan.OuterJoin {
				p.matched = make([]bool, bn)
			}
			for i := lo; i < hi; i++ {
				matches := table.lookup(phashes[i], pk, i, bk)
				switch kind {
				case plan.InnerJoin:
					for _, m := range matches {
						if buildLeft {
							p.li = append(p.li, m)
							p.ri = append(p.ri, i)
						} else {
							p.li = append(p.li, i)
							p.ri = append(p.ri, m)
						}
					}
				case plan.LeftJoin, plan.OuterJoin:
					if len(matches) == 0 {
						p.li = append(p.li, i)
						p.ri = append(p.ri, -1)
						continue
					}
					for _, m := range matches {
						p.li = append(p.li, i)
						p.ri = append(p.ri, m)
						if p.matched != nil {
							p.matched[m] = true
						}
					}
				case plan.SemiJoin:
					if len(matches) > 0 {
						p.li = append(p.li, i)
					}
				case plan.AntiJoin:
					if len(matches) == 0 {
						p.li = append(p.li, i)
					}
				}
			}
			chunks[c] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

type hashTable struct {
	buckets map[uint64][]int
}

// buildTable indexes non-null-key rows by hash.
func buildTable(keys []*vector.Vector, n int) *hashTable {
	hashes := vector.HashRows(keys, n)
	t := &hashTable{buckets: make(map[uint64][]int, n)}
	for i := 0; i < n; i++ {
		if anyNull(keys, i) {
			continue
		}
		t.buckets[hashes[i]] = append(t.buckets[hashes[i]], i)
	}
	return t
}

func (t *hashTable) lookup(h uint64, probe []*vector.Vector, i int, build []*vector.Vector) []int {
	if anyNull(probe, i) {
		return nil
	}
	var out []int
	for _, j := range t.buckets[h] {
		if vector.RowsEqual(probe, i, build, j) {
			out = append(out, j)
		}
	}
	return out
}

func anyNull(cols []*vector.Vector, i int) bool {
	for _, c := range cols {
		if c.IsNull(i) {
			return true
		}
	}
	return false
}

func (r *runner) crossJoin(t *plan.Join, left, right *vector.Batch) (*vector.Batch, error) {
	pairs := int64(left.Len()) * int64(right.Len())
	// two int indexes per output row, charged before allocation
	if err := r.mem.reserve(pairs * 2 * 8); err != nil {
		return nil, err
	}
	li := make([]int, 0, pairs)
	ri := make([]int, 0, pairs)
	for i := 0; i < left.Len(); i++ {
		for j := 0; j < right.Len(); j++ {
			li = append(li, i)
			ri = append(ri, j)
		}
	}
	return r.assemble(t, left, right, li, ri)
}

// asofJoin matches each left row with the nearest right row on a
// sorted numeric key. Per strategy the nearest key at or before, at or
// after, or closest on either side wins, bounded by the tolerance.
func (r *runner) asofJoin(t *plan.Join, left, right *vector.Batch) (*vector.Batch, error) {
	lk, err := left.ColumnByName(t.LeftOn[0].Name)
	if err != nil {
		return nil, err
	}
	rk, err := right.ColumnByName(t.RightOn[0].Name)
	if err != nil {
		return nil, err
	}

	// Sorted view of non-null right keys; equal keys keep input order.
	idx := make([]int, 0, right.Len())
	for j := 0; j < right.Len(); j++ {
		if !rk.IsNull(j) {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return numKey(rk, idx[a]) < numKey(rk, idx[b])
	})
	keys := make([]float64, len(idx))
	for i, j := range idx {
		keys[i] = numKey(rk, j)
	}

	tol := t.AsOf.Tolerance
	li := make([]int, left.Len())
	ri := make([]int, left.Len())
	for i := 0; i < left.Len(); i++ {
		li[i] = i
		ri[i] = -1
		if lk.IsNull(i) {
			continue
		}
		lv := numKey(lk, i)
		// first position with key >= lv
		pos := sort.SearchFloat64s(keys, lv)
		back, fwd := pos-1, pos
		if pos < len(keys) && keys[pos] == lv {
			// backward and nearest prefer the latest exact match
			last := pos
			for last+1 < len(keys) && keys[last+1] == lv {
				last++
			}
			back = last
		}
		var m int
		switch t.AsOf.Strategy {
		case plan.AsOfBackward:
			m = pick(keys, lv, tol, back, -1)
		case plan.AsOfForward:
			m = pick(keys, lv, tol, -1, fwd)
		default:
			m = pick(keys, lv, tol, back, fwd)
		}
		if m >= 0 {
			ri[i] = idx[m]
		}
	}
	return r.assemble(t, left, right, li, ri)
}

// pick chooses between the backward and forward candidate, honoring
// the tolerance; ties go backward.
func pick(keys []float64, lv, tol float64, back, fwd int) int {
	bd, fd := math.Inf(1), math.Inf(1)
	if back >= 0 && back < len(keys) {
		bd = math.Abs(lv - keys[back])
	}
	if fwd >= 0 && fwd < len(keys) {
		fd = math.Abs(keys[fwd] - lv)
	}
	if tol >= 0 {
		if bd > tol {
			bd = math.Inf(1)
		}
		if fd > tol {
			fd = math.Inf(1)
		}
	}
	switch {
	case math.IsInf(bd, 1) && math.IsInf(fd, 1):
		return -1
	case bd <= fd:
		return back
	default:
		return fwd
	}
}

func numKey(v *vector.Vector, i int) float64 {
	if v.Type == types.Int64 {
		return float64(v.Int64(i))
	}
	return v.Float64(i)
}

// assemble gathers the output batch from index pairs; -1 yields a
// null-padded row for that side. Right columns follow the join
// schema's dedup and suffix rules.
func (r *runner) assemble(t *plan.Join, left, right *vector.Batch, li, ri []int) (*vector.Batch, error) {
	schema := t.Schema()
	dropped := map[string]bool{}
	if t.Kind != plan.CrossJoin && t.Kind != plan.OuterJoin && !t.KeepRightKeys {
		for _, c := range t.RightOn {
			dropped[c.Name] = true
		}
	}

	cols := make([]*vector.Vector, 0, schema.Len())
	for _, c := range left.Columns() {
		cols = append(cols, c.Take(li))
	}
	for i, f := range right.Schema().Fields() {
		if dropped[f.Name] {
			continue
		}
		cols = append(cols, right.Column(i).Take(ri))
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
