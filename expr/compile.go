package expr

import (
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// Evaluator is an expression compiled against a fixed input schema.
// Column references are resolved to positions up front, so repeated
// evaluation over batches does no name lookups. Window and aggregate
// nodes are rejected here; the group-by and window engines drive those
// through the AggState path with explicit partitions.
type Evaluator struct {
	Name string
	Type types.DataType
	Fn   func(*vector.Batch) (*vector.Vector, error)
}

// Compile resolves and compiles a scalar expression. Any column missing
// from the schema is a schema-resolution error, never a panic.
func Compile(e Expr, schema *types.Schema) (*Evaluator, error) {
	tp, err := TypeOf(e, schema)
	if err != nil {
		return nil, err
	}
	fn, err := compile(e, schema)
	if err != nil {
		return nil, err
	}
	return &Evaluator{Name: OutputName(e), Type: tp, Fn: fn}, nil
}

func compile(e Expr, schema *types.Schema) (func(*vector.Batch) (*vector.Vector, error), error) {
	switch t := e.(type) {
	case *Column:
		idx := schema.Index(t.Name)
		if idx < 0 {
			return nil, qerr.Schemaf("column %q not found in schema %s", t.Name, schema)
		}
		return func(b *vector.Batch) (*vector.Vector, error) {
			return b.Column(idx), nil
		}, nil
	case *Literal:
		tp, val := t.Type, t.Val
		return func(b *vector.Batch) (*vector.Vector, error) {
			return vector.Repeat(tp, val, b.Len())
		}, nil
	case *Alias:
		return compile(t.Input, schema)
	case *SortKey:
		return compile(t.Input, schema)
	case *Cast:
		in, err := compile(t.Input, schema)
		if err != nil {
			return nil, err
		}
		to := t.To
		return func(b *vector.Batch) (*vector.Vector, error) {
			v, err := in(b)
			if err != nil {
				return nil, err
			}
			return vector.Cast(v, to)
		}, nil
	case *UnaryExpr:
		in, err := compile(t.Input, schema)
		if err != nil {
			return nil, err
		}
		op := t.Op
		return func(b *vector.Batch) (*vector.Vector, error) {
			v, err := in(b)
			if err != nil {
				return nil, err
			}
			switch op {
			case OpNot:
				return vector.Not(v)
			case OpNeg:
				return vector.Negate(v)
			case OpIsNull:
				return vector.IsNullVec(v, false), nil
			default:
				return vector.IsNullVec(v, true), nil
			}
		}, nil
	case *BinaryExpr:
		return compileBinary(t, schema)
	case *FuncExpr:
		args := make([]func(*vector.Batch) (*vector.Vector, error), len(t.Args))
		for i, a := range t.Args {
			fn, err := compile(a, schema)
			if err != nil {
				return nil, err
			}
			args[i] = fn
		}
		eval := t.Fn.Eval
		name := t.Fn.Name
		return func(b *vector.Batch) (*vector.Vector, error) {
			vs := make([]*vector.Vector, len(args))
			for i, fn := range args {
				v, err := fn(b)
				if err != nil {
					return nil, err
				}
				vs[i] = v
			}
			out, err := eval(vs)
			if err != nil {
				return nil, qerr.Wrapf(err, "function %s", name)
			}
			return out, nil
		}, nil
	case *AggExpr, *WindowExpr:
		return nil, qerr.InvalidOpf("aggregate %s outside of an aggregation context", e)
	default:
		return nil, qerr.InvalidOpf("cannot compile expression node %T", e)
	}
}

func compileBinary(t *BinaryExpr, schema *types.Schema) (func(*vector.Batch) (*vector.Vector, error), error) {
	left, err := compile(t.Left, schema)
	if err != nil {
		return nil, err
	}
	right, err := compile(t.Right, schema)
	if err != nil {
		return nil, err
	}
	lt, err := TypeOf(t.Left, schema)
	if err != nil {
		return nil, err
	}
	rt, err := TypeOf(t.Right, schema)
	if err != nil {
		return nil, err
	}
	// Operands are widened here when the coercion pass is disabled; the
	// pass being off must not change results.
	st := lt
	if lt != rt {
		var ok bool
		st, ok = types.Supertype(lt, rt)
		if !ok {
			return nil, qerr.Schemaf("no coercion between %s and %s for %s", lt, rt, t.Op)
		}
	}
	op := t.Op
	return func(b *vector.Batch) (*vector.Vector, error) {
		lv, err := left(b)
		if err != nil {
			return nil, err
		}
		rv, err := right(b)
		if err != nil {
			return nil, err
		}
		if lv.Type != st {
			if lv, err = vector.Cast(lv, st); err != nil {
				return nil, err
			}
		}
		if rv.Type != st {
			if rv, err = vector.Cast(rv, st); err != nil {
				return nil, err
			}
		}
		switch {
		case op == OpAnd:
			return vector.And(lv, rv)
		case op == OpOr:
			return vector.Or(lv, rv)
		case op.IsComparison():
			return vector.Compare(cmpOpFor(op), lv, rv)
		default:
			return vector.Arith(arithOpFor(op), lv, rv)
		}
	}, nil
}

func cmpOpFor(op BinaryOp) vector.CmpOp {
	switch op {
	case OpEq:
		return vector.CmpEq
	case OpNeq:
		return vector.CmpNeq
	case OpLt:
		return vector.CmpLt
	case OpLtEq:
		return vector.CmpLtEq
	case OpGt:
		return vector.CmpGt
	default:
		return vector.CmpGtEq
	}
}

func arithOpFor(op BinaryOp) vector.ArithOp {
	switch op {
	case OpAdd:
		return vector.ArithAdd
	case OpSub:
		return vector.ArithSub
	case OpMul:
		return vector.ArithMul
	case OpDiv:
		return vector.ArithDiv
	default:
		return vector.ArithMod
	}
}

// Eval compiles against the batch schema and evaluates once. Convenience
// for the optimizer's constant folding and for tests; execution paths
// compile once and reuse the evaluator.
func Eval(e Expr, b *vector.Batch) (*vector.Vector, error) {
	ev, err := Compile(e, b.Schema())
	if err != nil {
		return nil, err
	}
	return ev.Fn(b)
}
