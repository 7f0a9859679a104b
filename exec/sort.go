package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// runSort orders the materialized input by the key expressions. The
// sort is stable, so equal keys keep their input order. Null placement
// follows the key's NullsFirst flag and is unaffected by Desc.
func (r *runner) runSort(ctx context.Context, t *plan.Sort) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	kvecs := make([]*vector.Vector, len(t.Keys))
	for i, k := range t.Keys {
		ev, err := expr.Compile(k.Input, t.Input.Schema())
		if err != nil {
			return nil, err
		}
		if kvecs[i], err = ev.Fn(in); err != nil {
			return nil, err
		}
	}

	perm := make([]int, in.Len())
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return compareKeyed(kvecs, t.Keys, perm[a], perm[b]) < 0
	})

	out, err := in.Take(perm)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}

func compareKeyed(kvecs []*vector.Vector, keys []*expr.SortKey, a, b int) int {
	for k, v := range kvecs {
		an, bn := v.IsNull(a), v.IsNull(b)
		if an || bn {
			if an && bn {
				continue
			}
			less := -1
			if !keys[k].NullsFirst {
				less = 1
			}
			if an {
				return less
			}
			return -less
		}
		c := vector.CompareRows(v, a, v, b)
		if c == 0 {
			continue
		}
		if keys[k].Desc {
			return -c
		}
		return c
	}
	return 0
}

// projectWithWindows evaluates window expressions over the whole input
// first, widening the batch with one synthetic column per distinct
// window, then compiles the projection as scalar expressions over the
// widened schema.
func (r *runner) projectWithWindows(ctx context.Context, t *plan.Projection, in *vector.Batch) (*vector.Batch, error) {
	fields := append([]types.Field(nil), in.Schema().Fields()...)
	cols := append([]*vector.Vector(nil), in.Columns()...)
	windows := map[string]string{}

	for _, e := range t.Exprs {
		var werr error
		expr.Walk(e, func(n expr.Expr) bool {
			if werr != nil {
				return false
			}
			w, ok := n.(*expr.WindowExpr)
			if !ok {
				return true
			}
			key := w.String()
			if _, done := windows[key]; done {
				return false
			}
			v, err := r.evalWindow(ctx, w, in)
			if err != nil {
				werr = err
				return false
			}
			name := fmt.Sprintf("__win_%d", len(windows))
			windows[key] = name
			fields = append(fields, types.Field{Name: name, Type: v.Type})
			cols = append(cols, v)
			return false
		})
		if werr != nil {
			return nil, werr
		}
	}

	wschema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	wide, err := vector.NewBatch(wschema, cols)
	if err != nil {
		return nil, err
	}

	outCols := make([]*vector.Vector, len(t.Exprs))
	for i, e := range t.Exprs {
		ne := expr.Rewrite(e, func(n expr.Expr) expr.Expr {
			if w, ok := n.(*expr.WindowExpr); ok {
				return expr.Col(windows[w.String()])
			}
			return n
		})
		ev, err := expr.Compile(ne, wschema)
		if err != nil {
			return nil, err
		}
		if outCols[i], err = ev.Fn(wide); err != nil {
			return nil, err
		}
	}
	out, err := vector.NewBatch(t.Schema(), outCols)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}

// evalWindow computes one aggregate per partition and broadcasts the
// group value back onto each member row.
func (r *runner) evalWindow(ctx context.Context, w *expr.WindowExpr, in *vector.Batch) (*vector.Vector, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	kvecs := make([]*vector.Vector, len(w.PartitionBy))
	for i, p := range w.PartitionBy {
		ev, err := expr.Compile(p, in.Schema())
		if err != nil {
			return nil, err
		}
		if kvecs[i], err = ev.Fn(in); err != nil {
			return nil, err
		}
	}
	aev, err := expr.Compile(w.Agg.Input, in.Schema())
	if err != nil {
		return nil, err
	}
	av, err := aev.Fn(in)
	if err != nil {
		return nil, err
	}
	outType, err := expr.AggResultType(w.Agg.Op, av.Type)
	if err != nil {
		return nil, err
	}

	results := make([]interface{}, in.Len())
	for _, idxs := range groupRows(kvecs, in.Len()) {
		val, err := expr.EvalAggIndices(w.Agg.Op, av, idxs)
		if err != nil {
			return nil, err
		}
		for _, i := range idxs {
			results[i] = val
		}
	}
	out := vector.New(outType)
	for _, v := range results {
		if err := out.Append(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// groupRows buckets row indices by key-column equality, groups in
// first-seen order, rows within a group in input order. Null keys form
// their own group.
func groupRows(keys []*vector.Vector, n int) [][]int {
	hashes := vector.HashRows(keys, n)
	buckets := map[uint64][]int{}
	var groups [][]int
	for i := 0; i < n; i++ {
		h := hashes[i]
		found := -1
		for _, gid := range buckets[h] {
			if vector.RowsEqual(keys, groups[gid][0], keys, i) {
				found = gid
				break
			}
		}
		if found < 0 {
			buckets[h] = append(buckets[h], len(groups))
			groups = append(groups, []int{i})
		} else {
			groups[found] = append(groups[found], i)
		}
	}
	return groups
}
