package plan

import (
	"strings"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// GroupBy partitions rows by hash of the key expressions and evaluates
// the aggregates per group. Group iteration order is first-seen order;
// callers sort explicitly when another order matters.
type GroupBy struct {
	Input Node
	Keys  []expr.Expr
	Aggs  []expr.Expr // AggExpr, optionally wrapped in Alias

	schema *types.Schema
}

func NewGroupBy(input Node, keys, aggs []expr.Expr) (*GroupBy, error) {
	if len(keys) == 0 {
		return nil, qerr.InvalidOpf("group_by requires at least one key")
	}
	if len(aggs) == 0 {
		return nil, qerr.InvalidOpf("group_by requires at least one aggregate")
	}
	in := input.Schema()
	fields := make([]types.Field, 0, len(keys)+len(aggs))
	for _, k := range keys {
		if err := expr.Validate(k, in); err != nil {
			return nil, err
		}
		if expr.HasAgg(k) || expr.HasWindow(k) {
			return nil, qerr.InvalidOpf("group key %s contains an aggregate", k)
		}
		tp, err := expr.TypeOf(k, in)
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.Field{Name: expr.OutputName(k), Type: tp})
	}
	for _, a := range aggs {
		if err := expr.Validate(a, in); err != nil {
			return nil, err
		}
		if UnwrapAgg(a) == nil {
			return nil, qerr.InvalidOpf("group_by aggregate %s must be an aggregate expression", a)
		}
		tp, err := expr.TypeOf(a, in)
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.Field{Name: expr.OutputName(a), Type: tp})
	}
	schema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, qerr.Schemaf("group_by: %s", err)
	}
	return &GroupBy{Input: input, Keys: keys, Aggs: aggs, schema: schema}, nil
}

// UnwrapAgg strips aliases and returns the aggregate node, nil when the
// expression is not a plain (possibly aliased) aggregate.
func UnwrapAgg(e expr.Expr) *expr.AggExpr {
	for {
		switch t := e.(type) {
		case *expr.Alias:
			e = t.Input
		case *expr.AggExpr:
			return t
		default:
			return nil
		}
	}
}

func (g *GroupBy) Schema() *types.Schema { return g.schema }
func (g *GroupBy) Children() []Node      { return []Node{g.Input} }

func (g *GroupBy) WithChildren(children []Node) (Node, error) {
	if err := arity(g, children, 1); err != nil {
		return nil, err
	}
	return NewGroupBy(children[0], g.Keys, g.Aggs)
}

func (g *GroupBy) String() string {
	keys := make([]string, len(g.Keys))
	for i, k := range g.Keys {
		keys[i] = k.String()
	}
	aggs := make([]string, len(g.Aggs))
	for i, a := range g.Aggs {
		aggs[i] = a.String()
	}
	return "GroupBy keys=[" + strings.Join(keys, ", ") + "] aggs=[" + strings.Join(aggs, ", ") + "]"
}

// KeyNames returns the output column names of the group keys.
func (g *GroupBy) KeyNames() []string {
	names := make([]string, len(g.Keys))
	for i, k := range g.Keys {
		names[i] = expr.OutputName(k)
	}
	return names
}
