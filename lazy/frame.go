// Package lazy is the query entry surface: a Frame is a deferred
// computation graph built fluently over a scan source. Nothing runs
// until Collect or Stream; the whole graph is optimized first. Builder
// errors are deferred onto the Frame and surface at the terminal call,
// so chains read cleanly without per-step error checks.
package lazy

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// Frame is a lazy query. A Frame never mutates; every builder method
// returns a new Frame over a new plan node.
type Frame struct {
	node plan.Node
	err  error
}

// Scan starts a query over a scan source.
func Scan(src source.Source) *Frame {
	n, err := plan.NewScan(src)
	if err != nil {
		return &Frame{err: err}
	}
	return &Frame{node: n}
}

// FromBatch starts a query over an in-memory table.
func FromBatch(b *vector.Batch) *Frame {
	return Scan(source.NewInMemory(b))
}

// Err reports the first builder error, if any.
func (f *Frame) Err() error { return f.err }

// Plan returns the unoptimized logical plan.
func (f *Frame) Plan() (plan.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.node, nil
}

// Schema resolves the output schema without executing.
func (f *Frame) Schema() (*types.Schema, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.node.Schema(), nil
}

func (f *Frame) derive(n plan.Node, err error) *Frame {
	if f.err != nil {
		return f
	}
	if err != nil {
		return &Frame{err: err}
	}
	return &Frame{node: n}
}

// Filter keeps rows where the predicate is true; null is not true.
func (f *Frame) Filter(pred expr.Expr) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewFilter(f.node, pred))
}

// Select projects to exactly the given expressions.
func (f *Frame) Select(exprs ...expr.Expr) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewProjection(f.node, exprs))
}

// WithColumns keeps every existing column and adds or replaces the
// given ones. An expression whose output name matches an existing
// column replaces it in place.
func (f *Frame) WithColumns(exprs ...expr.Expr) *Frame {
	if f.err != nil {
		return f
	}
	byName := make(map[string]expr.Expr, len(exprs))
	for _, e := range exprs {
		byName[expr.OutputName(e)] = e
	}
	var out []expr.Expr
	for _, name := range f.node.Schema().Names() {
		if e, ok := byName[name]; ok {
			out = append(out, e)
			delete(byName, name)
			continue
		}
		out = append(out, expr.Col(name))
	}
	for _, e := range exprs {
		if _, ok := byName[expr.OutputName(e)]; ok {
			out = append(out, e)
		}
	}
	return f.derive(plan.NewProjection(f.node, out))
}

// Sort orders rows by the given keys, stable.
func (f *Frame) Sort(keys ...*expr.SortKey) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewSort(f.node, keys))
}

// Slice keeps length rows starting at offset, clamped to the input.
func (f *Frame) Slice(offset, length int64) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewSlice(f.node, offset, length))
}

// Limit keeps the first n rows.
func (f *Frame) Limit(n int64) *Frame { return f.Slice(0, n) }

// Head is Limit under its DataFrame name.
func (f *Frame) Head(n int64) *Frame { return f.Limit(n) }

// Distinct keeps the first row per key. With no subset, every column
// is part of the key.
func (f *Frame) Distinct(subset ...string) *Frame {
	if f.err != nil {
		return f
	}
	if len(subset) == 0 {
		subset = nil
	}
	return f.derive(plan.NewDistinct(f.node, subset))
}

// Union concatenates frames with identical schemas, inputs in order.
func (f *Frame) Union(others ...*Frame) *Frame {
	if f.err != nil {
		return f
	}
	inputs := []plan.Node{f.node}
	for _, o := range others {
		if o.err != nil {
			return &Frame{err: o.err}
		}
		inputs = append(inputs, o.node)
	}
	return f.derive(plan.NewUnion(inputs))
}

// Join joins against another frame on equality keys.
func (f *Frame) Join(other *Frame, kind plan.JoinKind, leftOn, rightOn []*expr.Column) *Frame {
	if f.err != nil {
		return f
	}
	if other.err != nil {
		return &Frame{err: other.err}
	}
	return f.derive(plan.NewJoin(f.node, other.node, kind, leftOn, rightOn))
}

// Cross joins every row pair.
func (f *Frame) Cross(other *Frame) *Frame {
	return f.Join(other, plan.CrossJoin, nil, nil)
}

// AsOf joins each left row to the nearest right row per the strategy.
func (f *Frame) AsOf(other *Frame, leftOn, rightOn *expr.Column, opts plan.AsOfOpts) *Frame {
	if f.err != nil {
		return f
	}
	if other.err != nil {
		return &Frame{err: other.err}
	}
	return f.derive(plan.NewAsOfJoin(f.node, other.node, leftOn, rightOn, opts))
}

// Melt unpivots value columns into variable/value rows.
func (f *Frame) Melt(idVars, valueVars []string) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewMelt(f.node, idVars, valueVars, "variable", "value"))
}

// Explode repeats each row by the integer count column; null or
// non-positive counts drop the row.
func (f *Frame) Explode(counts string) *Frame {
	if f.err != nil {
		return f
	}
	return f.derive(plan.NewExplode(f.node, counts))
}

// GroupBy starts a grouped aggregation; Agg completes it.
func (f *Frame) GroupBy(keys ...expr.Expr) *GroupedFrame {
	return &GroupedFrame{f: f, keys: keys}
}

type GroupedFrame struct {
	f    *Frame
	keys []expr.Expr
}

// Agg aggregates each group, keys first in the output, groups in
// first-seen input order.
func (g *GroupedFrame) Agg(aggs ...expr.Expr) *Frame {
	if g.f.err != nil {
		return g.f
	}
	return g.f.derive(plan.NewGroupBy(g.f.node, g.keys, aggs))
}
