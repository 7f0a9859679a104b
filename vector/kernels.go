package vector

import (
	"math"
	"strconv"

	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// CmpOp enumerates comparison kernels.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNeq
	CmpLt
	CmpLtEq
	CmpGt
	CmpGtEq
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpNeq:
		return "!="
	case CmpLt:
		return "<"
	case CmpLtEq:
		return "<="
	case CmpGt:
		return ">"
	default:
		return ">="
	}
}

// ArithOp enumerates arithmetic kernels.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithMod
)

func (op ArithOp) String() string {
	switch op {
	case ArithAdd:
		return "+"
	case ArithSub:
		return "-"
	case ArithMul:
		return "*"
	case ArithDiv:
		return "/"
	default:
		return "%"
	}
}

func checkSameLen(a, b *Vector) error {
	if a.Len() != b.Len() {
		return qerr.Computef("kernel operand lengths differ: %d vs %d", a.Len(), b.Len())
	}
	return nil
}

// CompareRows orders row i of a against row j of b. Both vectors must
// share a type; nulls sort last. Used by the sort and merge paths.
func CompareRows(a *Vector, i int, b *Vector, j int) int {
	an, bn := a.IsNull(i), b.IsNull(j)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	switch a.Type {
	case types.Bool:
		x, y := a.Bool(i), b.Bool(j)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case types.Int64:
		x, y := a.Int64(i), b.Int64(j)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case types.Float64:
		x, y := a.Float64(i), b.Float64(j)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	default:
		x, y := a.Str(i), b.Str(j)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
}

// Compare evaluates an element-wise comparison. Operands must share a
// type (the coercion pass inserts casts beforehand). A null operand
// yields a null result.
func Compare(op CmpOp, a, b *Vector) (*Vector, error) {
	if a.Type != b.Type {
		return nil, qerr.Computef("compare operands have different types: %s vs %s", a.Type, b.Type)
	}
	if err := checkSameLen(a, b); err != nil {
		return nil, err
	}
	out := New(types.Bool)
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) || b.IsNull(i) {
			out.AppendNull()
			continue
		}
		c := CompareRows(a, i, b, i)
		var r bool
		switch op {
		case CmpEq:
			r = c == 0
		case CmpNeq:
			r = c != 0
		case CmpLt:
			r = c < 0
		case CmpLtEq:
			r = c <= 0
		case CmpGt:
			r = c > 0
		case CmpGtEq:
			r = c >= 0
		}
		out.AppendBool(r)
	}
	return out, nil
}

// Arith evaluates element-wise arithmetic over same-typed numeric
// operands. Integer division or modulo by zero is a compute error;
// float division by zero follows IEEE semantics.
func Arith(op ArithOp, a, b *Vector) (*Vector, error) {
	if a.Type != b.Type {
		return nil, qerr.Computef("arithmetic operands have different types: %s vs %s", a.Type, b.Type)
	}
	if !a.Type.IsNumeric() {
		return nil, qerr.Computef("arithmetic on non-numeric type %s", a.Type)
	}
	if err := checkSameLen(a, b); err != nil {
		return nil, err
	}
	if op == ArithMod && a.Type != types.Int64 {
		return nil, qerr.Computef("modulo requires integer operands, got %s", a.Type)
	}
	out := New(a.Type)
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) || b.IsNull(i) {
			out.AppendNull()
			continue
		}
		if a.Type == types.Int64 {
			x, y := a.Int64(i), b.Int64(i)
			switch op {
			case ArithAdd:
				out.AppendInt64(x + y)
			case ArithSub:
				out.AppendInt64(x - y)
			case ArithMul:
				out.AppendInt64(x * y)
			case ArithDiv:
				if y == 0 {
					return nil, qerr.Computef("integer division by zero at row %d", i)
				}
				out.AppendInt64(x / y)
			case ArithMod:
				if y == 0 {
					return nil, qerr.Computef("integer modulo by zero at row %d", i)
				}
				out.AppendInt64(x % y)
			}
			continue
		}
		x, y := a.Float64(i), b.Float64(i)
		switch op {
		case ArithAdd:
			out.AppendFloat64(x + y)
		case ArithSub:
			out.AppendFloat64(x - y)
		case ArithMul:
			out.AppendFloat64(x * y)
		case ArithDiv:
			out.AppendFloat64(x / y)
		}
	}
	return out, nil
}

// And implements three-valued logical AND: false wins over null.
func And(a, b *Vector) (*Vector, error) {
	if a.Type != types.Bool || b.Type != types.Bool {
		return nil, qerr.Computef("AND requires bool operands, got %s and %s", a.Type, b.Type)
	}
	if err := checkSameLen(a, b); err != nil {
		return nil, err
	}
	out := New(types.Bool)
	for i := 0; i < a.Len(); i++ {
		an, bn := a.IsNull(i), b.IsNull(i)
		switch {
		case !an && !a.Bool(i), !bn && !b.Bool(i):
			out.AppendBool(false)
		case an || bn:
			out.AppendNull()
		default:
			out.AppendBool(true)
		}
	}
	return out, nil
}

// Or implements three-valued logical OR: true wins over null.
func Or(a, b *Vector) (*Vector, error) {
	if a.Type != types.Bool || b.Type != types.Bool {
		return nil, qerr.Computef("OR requires bool operands, got %s and %s", a.Type, b.Type)
	}
	if err := checkSameLen(a, b); err != nil {
		return nil, err
	}
	out := New(types.Bool)
	for i := 0; i < a.Len(); i++ {
		an, bn := a.IsNull(i), b.IsNull(i)
		switch {
		case !an && a.Bool(i), !bn && b.Bool(i):
			out.AppendBool(true)
		case an || bn:
			out.AppendNull()
		default:
			out.AppendBool(false)
		}
	}
	return out, nil
}

// Not negates a bool vector; null stays null.
func Not(a *Vector) (*Vector, error) {
	if a.Type != types.Bool {
		return nil, qerr.Computef("NOT requires a bool operand, got %s", a.Type)
	}
	out := New(types.Bool)
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			out.AppendNull()
			continue
		}
		out.AppendBool(!a.Bool(i))
	}
	return out, nil
}

// Negate flips the sign of a numeric vector.
func Negate(a *Vector) (*Vector, error) {
	if !a.Type.IsNumeric() {
		return nil, qerr.Computef("negation on non-numeric type %s", a.Type)
	}
	out := New(a.Type)
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			out.AppendNull()
			continue
		}
		if a.Type == types.Int64 {
			out.AppendInt64(-a.Int64(i))
		} else {
			out.AppendFloat64(-a.Float64(i))
		}
	}
	return out, nil
}

// IsNullVec materializes the null mask as a non-nullable bool vector.
func IsNullVec(a *Vector, negate bool) *Vector {
	out := New(types.Bool)
	for i := 0; i < a.Len(); i++ {
		out.AppendBool(a.IsNull(i) != negate)
	}
	return out
}

// Cast converts a vector to another type. Unsupported conversions and
// unparseable strings are compute errors; nulls pass through.
func Cast(a *Vector, to types.DataType) (*Vector, error) {
	if a.Type == to {
		return a, nil
	}
	if !types.CanCast(a.Type, to) {
		return nil, qerr.Computef("unsupported cast from %s to %s", a.Type, to)
	}
	out := New(to)
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			out.AppendNull()
			continue
		}
		switch a.Type {
		case types.Int64:
			x := a.Int64(i)
			switch to {
			case types.Float64:
				out.AppendFloat64(float64(x))
			case types.String:
				out.AppendStr(strconv.FormatInt(x, 10))
			case types.Bool:
				out.AppendBool(x != 0)
			}
		case types.Float64:
			x := a.Float64(i)
			switch to {
			case types.Int64:
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return nil, qerr.Computef("cannot cast %v to i64 at row %d", x, i)
				}
				out.AppendInt64(int64(x))
			case types.String:
				out.AppendStr(strconv.FormatFloat(x, 'g', -1, 64))
			}
		case types.Bool:
			x := a.Bool(i)
			switch to {
			case types.Int64:
				if x {
					out.AppendInt64(1)
				} else {
					out.AppendInt64(0)
				}
			case types.String:
				out.AppendStr(strconv.FormatBool(x))
			}
		case types.String:
			s := a.Str(i)
			switch to {
			case types.Int64:
				x, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return nil, qerr.Computef("cannot cast %q to i64 at row %d", s, i)
				}
				out.AppendInt64(x)
			case types.Float64:
				x, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, qerr.Computef("cannot cast %q to f64 at row %d", s, i)
				}
				out.AppendFloat64(x)
			}
		}
	}
	return out, nil
}
