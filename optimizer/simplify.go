package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// simplifyRule folds constants and applies algebraic and boolean
// identities: redundant casts, double negation, AND/OR with a known
// side. Folding that would fail at runtime (say a division by zero) is
// skipped and left for execution to report.
type simplifyRule struct{}

func (simplifyRule) Name() string { return "simplify_expressions" }

func (simplifyRule) Apply(root plan.Node) (plan.Node, error) {
	return rewriteUp(root, func(n plan.Node) (plan.Node, error) {
		return rewriteNodeExprs(n, simplifyExpr)
	})
}

func simplifyExpr(e expr.Expr, schema *types.Schema) (expr.Expr, error) {
	return expr.Rewrite(e, func(n expr.Expr) expr.Expr {
		switch t := n.(type) {
		case *expr.Cast:
			if in, err := expr.TypeOf(t.Input, schema); err == nil && in == t.To {
				return t.Input
			}
		case *expr.UnaryExpr:
			if inner, ok := t.Input.(*expr.UnaryExpr); ok && inner.Op == t.Op {
				if t.Op == expr.OpNot || t.Op == expr.OpNeg {
					return inner.Input
				}
			}
		case *expr.BinaryExpr:
			if t.Op == expr.OpAnd || t.Op == expr.OpOr {
				if out := simplifyLogical(t); out != nil {
					return out
				}
			}
		}
		return fold(n, schema)
	}), nil
}

// simplifyLogical applies three-valued identities with a known operand:
// x AND false is false and x OR true is true regardless of x; the
// neutral element just disappears.
func simplifyLogical(b *expr.BinaryExpr) expr.Expr {
	lit, other := literalBool(b.Left), b.Right
	if lit == nil {
		lit, other = literalBool(b.Right), b.Left
	}
	if lit == nil {
		return nil
	}
	val := lit.Val.(bool)
	switch {
	case b.Op == expr.OpAnd && !val:
		return expr.Lit(false)
	case b.Op == expr.OpAnd && val:
		return other
	case b.Op == expr.OpOr && val:
		return expr.Lit(true)
	default: // OR false
		return other
	}
}

func literalBool(e expr.Expr) *expr.Literal {
	l, ok := e.(*expr.Literal)
	if !ok || l.Type != types.Bool || l.Val == nil {
		return nil
	}
	return l
}

var foldSchema = types.MustSchema(types.Field{Name: "__fold", Type: types.Bool})

// fold evaluates a pure, column-free, non-leaf expression to a literal.
func fold(e expr.Expr, schema *types.Schema) expr.Expr {
	switch e.(type) {
	case *expr.Literal, *expr.Column, *expr.Alias, *expr.SortKey:
		// aliases and sort keys carry naming and ordering flags that a
		// literal cannot
		return e
	}
	if !expr.IsPure(e) || len(expr.RootColumns(e)) > 0 {
		return e
	}
	b, err := vector.NewBatch(foldSchema, []*vector.Vector{vector.MustFromValues(types.Bool, true)})
	if err != nil {
		return e
	}
	out, err := expr.Eval(e, b)
	if err != nil || out.Len() != 1 {
		// runtime failures are not folded away
		return e
	}
	if out.IsNull(0) {
		return expr.NullLit(out.Type)
	}
	return &expr.Literal{Type: out.Type, Val: out.Value(0)}
}
