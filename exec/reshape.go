package exec

import (
	"context"

	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// runMelt unpivots the value columns, stacking column-major: every row
// of the first value column, then the second, and so on. Values are
// cast to the common value type resolved at plan time.
func (r *runner) runMelt(ctx context.Context, t *plan.Melt) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	schema := t.Schema()
	vtype := t.ValueType()

	idCols := make([]*vector.Vector, len(t.IDVars))
	outIDs := make([]*vector.Vector, len(t.IDVars))
	for i, name := range t.IDVars {
		if idCols[i], err = in.ColumnByName(name); err != nil {
			return nil, err
		}
		outIDs[i] = vector.New(idCols[i].Type)
	}
	varCol := vector.New(types.String)
	valCol := vector.New(vtype)

	for _, name := range t.ValueVars {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		src, err := in.ColumnByName(name)
		if err != nil {
			return nil, err
		}
		if src.Type != vtype {
			if src, err = vector.Cast(src, vtype); err != nil {
				return nil, err
			}
		}
		for i := 0; i < in.Len(); i++ {
			for k := range outIDs {
				outIDs[k].AppendFrom(idCols[k], i)
			}
			varCol.AppendStr(name)
			valCol.AppendFrom(src, i)
		}
	}

	cols := make([]*vector.Vector, 0, schema.Len())
	cols = append(cols, outIDs...)
	cols = append(cols, varCol, valCol)
	out, err := vector.NewBatch(schema, cols)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}

// runExplode repeats each row count times; null or non-positive counts
// drop the row.
func (r *runner) runExplode(ctx context.Context, t *plan.Explode) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	counts, err := in.ColumnByName(t.Counts)
	if err != nil {
		return nil, err
	}
	var idxs []int
	for i := 0; i < in.Len(); i++ {
		if counts.IsNull(i) {
			continue
		}
		for k := int64(0); k < counts.Int64(i); k++ {
			idxs = append(idxs, i)
		}
	}
	out, err := in.Take(idxs)
	if err != nil {
		return nil, err
	}
	if err := r.mem.reserve(out.ByteSize()); err != nil {
		return nil, err
	}
	return out, nil
}
