package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
)

// coercionRule resolves operator operand types bottom-up and inserts
// explicit casts where implicit widening is required, so downstream
// passes and executors see type-stable expressions. Pairs with no
// coercion fail here, before execution.
type coercionRule struct{}

func (coercionRule) Name() string { return "type_coercion" }

func (coercionRule) Apply(root plan.Node) (plan.Node, error) {
	return rewriteUp(root, func(n plan.Node) (plan.Node, error) {
		return rewriteNodeExprs(n, insertCasts)
	})
}

// insertCasts widens mismatched binary operands to their supertype.
func insertCasts(e expr.Expr, schema *types.Schema) (expr.Expr, error) {
	var rewriteErr error
	out := expr.Rewrite(e, func(n expr.Expr) expr.Expr {
		if rewriteErr != nil {
			return n
		}
		b, ok := n.(*expr.BinaryExpr)
		if !ok || b.Op.IsLogical() {
			return n
		}
		lt, err := expr.TypeOf(b.Left, schema)
		if err != nil {
			rewriteErr = err
			return n
		}
		rt, err := expr.TypeOf(b.Right, schema)
		if err != nil {
			rewriteErr = err
			return n
		}
		if lt == rt {
			return n
		}
		st, ok := types.Supertype(lt, rt)
		if !ok {
			// TypeOf above would have failed already; keep the guard.
			return n
		}
		left, right := b.Left, b.Right
		if lt != st {
			left = expr.CastTo(left, st)
		}
		if rt != st {
			right = expr.CastTo(right, st)
		}
		return &expr.BinaryExpr{Op: b.Op, Left: left, Right: right}
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}
	return out, nil
}

// rewriteNodeExprs applies f to every expression a node carries, with
// the schema the expression resolves against, and rebuilds the node
// when anything changed.
func rewriteNodeExprs(n plan.Node, f func(expr.Expr, *types.Schema) (expr.Expr, error)) (plan.Node, error) {
	switch t := n.(type) {
	case *plan.Scan:
		if t.Predicate == nil {
			return n, nil
		}
		pred, err := f(t.Predicate, t.Schema())
		if err != nil {
			return nil, err
		}
		if pred == t.Predicate {
			return n, nil
		}
		return t.With(t.Projection, pred, t.Limit)
	case *plan.Filter:
		pred, err := f(t.Predicate, t.Input.Schema())
		if err != nil {
			return nil, err
		}
		if pred == t.Predicate {
			return n, nil
		}
		return plan.NewFilter(t.Input, pred)
	case *plan.Projection:
		exprs, changed, err := rewriteNamed(t.Exprs, t.Input.Schema(), f)
		if err != nil {
			return nil, err
		}
		if !changed {
			return n, nil
		}
		return plan.NewProjection(t.Input, exprs)
	case *plan.GroupBy:
		keys, kc, err := rewriteNamed(t.Keys, t.Input.Schema(), f)
		if err != nil {
			return nil, err
		}
		aggs, ac, err := rewriteNamed(t.Aggs, t.Input.Schema(), f)
		if err != nil {
			return nil, err
		}
		if !kc && !ac {
			return n, nil
		}
		return plan.NewGroupBy(t.Input, keys, aggs)
	case *plan.Sort:
		changed := false
		keys := make([]*expr.SortKey, len(t.Keys))
		for i, k := range t.Keys {
			in, err := f(k.Input, t.Input.Schema())
			if err != nil {
				return nil, err
			}
			if in != k.Input {
				changed = true
				keys[i] = &expr.SortKey{Input: in, Desc: k.Desc, NullsFirst: k.NullsFirst}
			} else {
				keys[i] = k
			}
		}
		if !changed {
			return n, nil
		}
		return plan.NewSort(t.Input, keys)
	default:
		// join keys are bare columns, remaining nodes carry no expressions
		return n, nil
	}
}

// rewriteNamed rewrites output-producing expressions, re-aliasing when
// a rewrite would change the produced column name.
func rewriteNamed(exprs []expr.Expr, schema *types.Schema, f func(expr.Expr, *types.Schema) (expr.Expr, error)) ([]expr.Expr, bool, error) {
	out := make([]expr.Expr, len(exprs))
	changed := false
	for i, e := range exprs {
		ne, err := f(e, schema)
		if err != nil {
			return nil, false, err
		}
		if ne != e && expr.OutputName(ne) != expr.OutputName(e) {
			ne = expr.As(ne, expr.OutputName(e))
		}
		out[i] = ne
		if ne != e {
			changed = true
		}
	}
	return out, changed, nil
}
