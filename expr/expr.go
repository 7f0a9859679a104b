// Package expr holds the expression IR: scalar and aggregate operations
// referencing columns, literals and registry functions. Expressions are
// immutable trees; rewrites build new nodes.
package expr

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/types"
)

type Expr interface {
	String() string
	Children() []Expr
	// WithChildren builds a copy of the node with replaced children. The
	// slice length must match Children().
	WithChildren(children []Expr) Expr
}

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
)

var binaryOpNames = [...]string{"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&&", "||"}

func (op BinaryOp) String() string { return binaryOpNames[op] }

func (op BinaryOp) IsArithmetic() bool { return op <= OpMod }
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpGtEq }
func (op BinaryOp) IsLogical() bool    { return op == OpAnd || op == OpOr }

// UnaryOp enumerates unary operators.
type UnaryOp uint8

const (
	OpNot UnaryOp = iota
	OpNeg
	OpIsNull
	OpIsNotNull
)

// AggOp enumerates aggregate operators.
type AggOp uint8

const (
	AggSum AggOp = iota
	AggMin
	AggMax
	AggCount
	AggMean
	AggFirst
	AggLast
	AggNUnique
)

var aggOpNames = [...]string{"sum", "min", "max", "count", "mean", "first", "last", "n_unique"}

func (op AggOp) String() string { return aggOpNames[op] }

// Column references a named column of the enclosing plan node's input.
type Column struct {
	Name string
}

func Col(name string) *Column { return &Column{Name: name} }

func (c *Column) String() string              { return `col("` + c.Name + `")` }
func (c *Column) Children() []Expr            { return nil }
func (c *Column) WithChildren(ch []Expr) Expr { return c }

// Literal is a typed constant; a nil Val is the typed null.
type Literal struct {
	Type types.DataType
	Val  interface{}
}

// Lit builds a literal from a Go value.
func Lit(v interface{}) *Literal {
	switch x := v.(type) {
	case bool:
		return &Literal{Type: types.Bool, Val: x}
	case int:
		return &Literal{Type: types.Int64, Val: int64(x)}
	case int64:
		return &Literal{Type: types.Int64, Val: x}
	case float64:
		return &Literal{Type: types.Float64, Val: x}
	case string:
		return &Literal{Type: types.String, Val: x}
	default:
		panic(fmt.Sprintf("unsupported literal type %T", v))
	}
}

// NullLit builds a typed null literal.
func NullLit(tp types.DataType) *Literal { return &Literal{Type: tp, Val: nil} }

func (l *Literal) String() string {
	if l.Val == nil {
		return "null:" + l.Type.String()
	}
	if l.Type == types.String {
		return fmt.Sprintf("%q", l.Val)
	}
	return fmt.Sprintf("%v:%s", l.Val, l.Type)
}
func (l *Literal) Children() []Expr            { return nil }
func (l *Literal) WithChildren(ch []Expr) Expr { return l }

type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (b *BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + b.Op.String() + " " + b.Right.String() + ")"
}
func (b *BinaryExpr) Children() []Expr { return []Expr{b.Left, b.Right} }
func (b *BinaryExpr) WithChildren(ch []Expr) Expr {
	return &BinaryExpr{Op: b.Op, Left: ch[0], Right: ch[1]}
}

type UnaryExpr struct {
	Op    UnaryOp
	Input Expr
}

func (u *UnaryExpr) String() string {
	switch u.Op {
	case OpNot:
		return "!(" + u.Input.String() + ")"
	case OpNeg:
		return "-(" + u.Input.String() + ")"
	case OpIsNull:
		return u.Input.String() + ".is_null()"
	default:
		return u.Input.String() + ".is_not_null()"
	}
}
func (u *UnaryExpr) Children() []Expr            { return []Expr{u.Input} }
func (u *UnaryExpr) WithChildren(ch []Expr) Expr { return &UnaryExpr{Op: u.Op, Input: ch[0]} }

type Cast struct {
	Input Expr
	To    types.DataType
}

func (c *Cast) String() string              { return c.Input.String() + ".cast(" + c.To.String() + ")" }
func (c *Cast) Children() []Expr            { return []Expr{c.Input} }
func (c *Cast) WithChildren(ch []Expr) Expr { return &Cast{Input: ch[0], To: c.To} }

type Alias struct {
	Input Expr
	Name  string
}

func (a *Alias) String() string              { return a.Input.String() + `.alias("` + a.Name + `")` }
func (a *Alias) Children() []Expr            { return []Expr{a.Input} }
func (a *Alias) WithChildren(ch []Expr) Expr { return &Alias{Input: ch[0], Name: a.Name} }

// FuncExpr is a resolved call against the process-wide registry.
type FuncExpr struct {
	Fn   *Function
	Args []Expr
}

func (f *FuncExpr) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Fn.Name + "(" + strings.Join(args, ", ") + ")"
}
func (f *FuncExpr) Children() []Expr { return f.Args }
func (f *FuncExpr) WithChildren(ch []Expr) Expr {
	return &FuncExpr{Fn: f.Fn, Args: ch}
}

type AggExpr struct {
	Op    AggOp
	Input Expr
}

func (a *AggExpr) String() string              { return a.Input.String() + "." + a.Op.String() + "()" }
func (a *AggExpr) Children() []Expr            { return []Expr{a.Input} }
func (a *AggExpr) WithChildren(ch []Expr) Expr { return &AggExpr{Op: a.Op, Input: ch[0]} }

// WindowExpr evaluates an aggregate per partition and broadcasts the
// result back onto every row of the partition.
type WindowExpr struct {
	Agg         *AggExpr
	PartitionBy []Expr
}

func (w *WindowExpr) String() string {
	parts := make([]string, len(w.PartitionBy))
	for i, p := range w.PartitionBy {
		parts[i] = p.String()
	}
	return w.Agg.String() + ".over(" + strings.Join(parts, ", ") + ")"
}
func (w *WindowExpr) Children() []Expr {
	ch := make([]Expr, 0, len(w.PartitionBy)+1)
	ch = append(ch, w.Agg)
	ch = append(ch, w.PartitionBy...)
	return ch
}
func (w *WindowExpr) WithChildren(ch []Expr) Expr {
	return &WindowExpr{Agg: ch[0].(*AggExpr), PartitionBy: ch[1:]}
}

// SortKey wraps an expression with ordering flags for sort operators.
type SortKey struct {
	Input      Expr
	Desc       bool
	NullsFirst bool
}

func (s *SortKey) String() string {
	dir := "asc"
	if s.Desc {
		dir = "desc"
	}
	return s.Input.String() + "." + dir + "()"
}
func (s *SortKey) Children() []Expr { return []Expr{s.Input} }
func (s *SortKey) WithChildren(ch []Expr) Expr {
	return &SortKey{Input: ch[0], Desc: s.Desc, NullsFirst: s.NullsFirst}
}

// Constructor helpers; these make fluent plan building readable.

func Add(l, r Expr) Expr  { return &BinaryExpr{Op: OpAdd, Left: l, Right: r} }
func Sub(l, r Expr) Expr  { return &BinaryExpr{Op: OpSub, Left: l, Right: r} }
func Mul(l, r Expr) Expr  { return &BinaryExpr{Op: OpMul, Left: l, Right: r} }
func Div(l, r Expr) Expr  { return &BinaryExpr{Op: OpDiv, Left: l, Right: r} }
func Mod(l, r Expr) Expr  { return &BinaryExpr{Op: OpMod, Left: l, Right: r} }
func Eq(l, r Expr) Expr   { return &BinaryExpr{Op: OpEq, Left: l, Right: r} }
func Neq(l, r Expr) Expr  { return &BinaryExpr{Op: OpNeq, Left: l, Right: r} }
func Lt(l, r Expr) Expr   { return &BinaryExpr{Op: OpLt, Left: l, Right: r} }
func LtEq(l, r Expr) Expr { return &BinaryExpr{Op: OpLtEq, Left: l, Right: r} }
func Gt(l, r Expr) Expr   { return &BinaryExpr{Op: OpGt, Left: l, Right: r} }
func GtEq(l, r Expr) Expr { return &BinaryExpr{Op: OpGtEq, Left: l, Right: r} }
func And(l, r Expr) Expr  { return &BinaryExpr{Op: OpAnd, Left: l, Right: r} }
func Or(l, r Expr) Expr   { return &BinaryExpr{Op: OpOr, Left: l, Right: r} }

func Not(e Expr) Expr       { return &UnaryExpr{Op: OpNot, Input: e} }
func Neg(e Expr) Expr       { return &UnaryExpr{Op: OpNeg, Input: e} }
func IsNull(e Expr) Expr    { return &UnaryExpr{Op: OpIsNull, Input: e} }
func IsNotNull(e Expr) Expr { return &UnaryExpr{Op: OpIsNotNull, Input: e} }

func CastTo(e Expr, to types.DataType) Expr { return &Cast{Input: e, To: to} }
func As(e Expr, name string) Expr           { return &Alias{Input: e, Name: name} }

func Sum(e Expr) *AggExpr     { return &AggExpr{Op: AggSum, Input: e} }
func Min(e Expr) *AggExpr     { return &AggExpr{Op: AggMin, Input: e} }
func Max(e Expr) *AggExpr     { return &AggExpr{Op: AggMax, Input: e} }
func Count(e Expr) *AggExpr   { return &AggExpr{Op: AggCount, Input: e} }
func Mean(e Expr) *AggExpr    { return &AggExpr{Op: AggMean, Input: e} }
func First(e Expr) *AggExpr   { return &AggExpr{Op: AggFirst, Input: e} }
func Last(e Expr) *AggExpr    { return &AggExpr{Op: AggLast, Input: e} }
func NUnique(e Expr) *AggExpr { return &AggExpr{Op: AggNUnique, Input: e} }

func Over(agg *AggExpr, partitionBy ...Expr) Expr {
	return &WindowExpr{Agg: agg, PartitionBy: partitionBy}
}

func Asc(e Expr) *SortKey  { return &SortKey{Input: e} }
func Desc(e Expr) *SortKey { return &SortKey{Input: e, Desc: true} }

// OutputName is the column name an expression produces when projected.
func OutputName(e Expr) string {
	switch t := e.(type) {
	case *Alias:
		return t.Name
	case *Column:
		return t.Name
	case *Cast:
		return OutputName(t.Input)
	case *SortKey:
		return OutputName(t.Input)
	case *AggExpr:
		return OutputName(t.Input)
	case *WindowExpr:
		return OutputName(t.Agg)
	default:
		return e.String()
	}
}

// Rewrite applies f bottom-up, rebuilding nodes whose children changed.
func Rewrite(e Expr, f func(Expr) Expr) Expr {
	children := e.Children()
	if len(children) > 0 {
		changed := false
		next := make([]Expr, len(children))
		for i, c := range children {
			next[i] = Rewrite(c, f)
			if next[i] != c {
				changed = true
			}
		}
		if changed {
			e = e.WithChildren(next)
		}
	}
	return f(e)
}

// Walk visits e and all descendants pre-order. Stops when f returns false.
func Walk(e Expr, f func(Expr) bool) {
	if !f(e) {
		return
	}
	for _, c := range e.Children() {
		Walk(c, f)
	}
}

// RootColumns collects the distinct column names an expression reads.
func RootColumns(e Expr) []string {
	seen := map[string]bool{}
	var names []string
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Column); ok && !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
		return true
	})
	return names
}

// HasAgg reports whether the tree contains an aggregate outside a window.
func HasAgg(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		switch n.(type) {
		case *WindowExpr:
			return false // window owns its aggregate
		case *AggExpr:
			found = true
			return false
		}
		return true
	})
	return found
}

// HasWindow reports whether the tree contains a window expression.
func HasWindow(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if _, ok := n.(*WindowExpr); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsPure reports whether the expression may be computed once and reused:
// no aggregates, no windows, only pure functions.
func IsPure(e Expr) bool {
	pure := true
	Walk(e, func(n Expr) bool {
		switch t := n.(type) {
		case *AggExpr, *WindowExpr:
			pure = false
			return false
		case *FuncExpr:
			if !t.Fn.Pure {
				pure = false
				return false
			}
		}
		return true
	})
	return pure
}

// Equal compares two expressions structurally. String forms are
// canonical, which also gives CSE its subtree identity key.
func Equal(a, b Expr) bool {
	return a.String() == b.String()
}

// IsLiteral reports whether e is a constant (possibly null) literal.
func IsLiteral(e Expr) bool {
	_, ok := e.(*Literal)
	return ok
}
