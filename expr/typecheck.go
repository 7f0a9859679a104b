package expr

import (
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// TypeOf infers the output type of e against a schema. Missing columns
// and uncoercible operand pairs are schema errors. Inference tolerates
// operand pairs the coercion pass has not widened yet by answering with
// the supertype.
func TypeOf(e Expr, schema *types.Schema) (types.DataType, error) {
	switch t := e.(type) {
	case *Column:
		f, ok := schema.Lookup(t.Name)
		if !ok {
			return types.Unknown, qerr.Schemaf("column %q not found in schema %s", t.Name, schema)
		}
		return f.Type, nil
	case *Literal:
		return t.Type, nil
	case *Alias:
		return TypeOf(t.Input, schema)
	case *SortKey:
		return TypeOf(t.Input, schema)
	case *Cast:
		from, err := TypeOf(t.Input, schema)
		if err != nil {
			return types.Unknown, err
		}
		if !types.CanCast(from, t.To) {
			return types.Unknown, qerr.Schemaf("no cast from %s to %s", from, t.To)
		}
		return t.To, nil
	case *UnaryExpr:
		in, err := TypeOf(t.Input, schema)
		if err != nil {
			return types.Unknown, err
		}
		switch t.Op {
		case OpNot:
			if in != types.Bool {
				return types.Unknown, qerr.Schemaf("NOT expects bool, got %s", in)
			}
			return types.Bool, nil
		case OpNeg:
			if !in.IsNumeric() {
				return types.Unknown, qerr.Schemaf("negation expects a numeric operand, got %s", in)
			}
			return in, nil
		default:
			return types.Bool, nil
		}
	case *BinaryExpr:
		lt, err := TypeOf(t.Left, schema)
		if err != nil {
			return types.Unknown, err
		}
		rt, err := TypeOf(t.Right, schema)
		if err != nil {
			return types.Unknown, err
		}
		switch {
		case t.Op.IsLogical():
			if lt != types.Bool || rt != types.Bool {
				return types.Unknown, qerr.Schemaf("%s expects bool operands, got %s and %s", t.Op, lt, rt)
			}
			return types.Bool, nil
		case t.Op.IsComparison():
			if _, ok := types.Supertype(lt, rt); !ok {
				return types.Unknown, qerr.Schemaf("cannot compare %s with %s", lt, rt)
			}
			return types.Bool, nil
		default:
			st, ok := types.Supertype(lt, rt)
			if !ok {
				return types.Unknown, qerr.Schemaf("no coercion between %s and %s for %s", lt, rt, t.Op)
			}
			if !st.IsNumeric() {
				return types.Unknown, qerr.Schemaf("arithmetic %s expects numeric operands, got %s", t.Op, st)
			}
			if t.Op == OpMod && st != types.Int64 {
				return types.Unknown, qerr.Schemaf("modulo expects integer operands, got %s", st)
			}
			return st, nil
		}
	case *FuncExpr:
		args := make([]types.DataType, len(t.Args))
		for i, a := range t.Args {
			tp, err := TypeOf(a, schema)
			if err != nil {
				return types.Unknown, err
			}
			args[i] = tp
		}
		return t.Fn.ReturnType(args)
	case *AggExpr:
		in, err := TypeOf(t.Input, schema)
		if err != nil {
			return types.Unknown, err
		}
		return AggResultType(t.Op, in)
	case *WindowExpr:
		for _, p := range t.PartitionBy {
			if _, err := TypeOf(p, schema); err != nil {
				return types.Unknown, err
			}
		}
		return TypeOf(t.Agg, schema)
	default:
		return types.Unknown, qerr.InvalidOpf("unknown expression node %T", e)
	}
}

// AggResultType infers the output type of an aggregate over an input type.
func AggResultType(op AggOp, in types.DataType) (types.DataType, error) {
	switch op {
	case AggCount, AggNUnique:
		return types.Int64, nil
	case AggMean:
		if !in.IsNumeric() {
			return types.Unknown, qerr.Schemaf("mean expects a numeric input, got %s", in)
		}
		return types.Float64, nil
	case AggSum:
		if !in.IsNumeric() {
			return types.Unknown, qerr.Schemaf("sum expects a numeric input, got %s", in)
		}
		return in, nil
	default: // min, max, first, last
		return in, nil
	}
}

// Validate type-checks e and additionally rejects nested aggregates,
// which have no defined evaluation order.
func Validate(e Expr, schema *types.Schema) error {
	if _, err := TypeOf(e, schema); err != nil {
		return err
	}
	var err error
	Walk(e, func(n Expr) bool {
		if agg, ok := n.(*AggExpr); ok {
			if HasAgg(agg.Input) || HasWindow(agg.Input) {
				err = qerr.InvalidOpf("nested aggregate in %s", e)
				return false
			}
		}
		return true
	})
	return err
}
