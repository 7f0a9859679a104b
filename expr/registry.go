package expr

import (
	"math"
	"strings"
	"sync"

	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// Function is a scalar function registered process-wide before any
// query runs. The registry is read-only after initialization.
type Function struct {
	Name string
	Pure bool
	// ReturnType validates argument types and infers the output type.
	ReturnType func(args []types.DataType) (types.DataType, error)
	// Eval consumes argument columns of equal length.
	Eval func(args []*vector.Vector) (*vector.Vector, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Function{}
)

// RegisterFunc installs a function. Duplicate names fail at
// initialization time, never at query time.
func RegisterFunc(f *Function) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[f.Name]; ok {
		return qerr.InvalidOpf("function %q already registered", f.Name)
	}
	registry[f.Name] = f
	return nil
}

func mustRegister(f *Function) {
	if err := RegisterFunc(f); err != nil {
		panic(err)
	}
}

// Func resolves a call against the registry at plan-build time. Unknown
// names fail immediately.
func Func(name string, args ...Expr) (Expr, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, qerr.InvalidOpf("unknown function %q", name)
	}
	return &FuncExpr{Fn: f, Args: args}, nil
}

func oneArg(name string, args []types.DataType) error {
	if len(args) != 1 {
		return qerr.Schemaf("%s expects 1 argument, got %d", name, len(args))
	}
	return nil
}

func init() {
	mustRegister(&Function{
		Name: "abs",
		Pure: true,
		ReturnType: func(args []types.DataType) (types.DataType, error) {
			if err := oneArg("abs", args); err != nil {
				return types.Unknown, err
			}
			if !args[0].IsNumeric() {
				return types.Unknown, qerr.Schemaf("abs expects a numeric argument, got %s", args[0])
			}
			return args[0], nil
		},
		Eval: func(args []*vector.Vector) (*vector.Vector, error) {
			in := args[0]
			out := vector.New(in.Type)
			for i := 0; i < in.Len(); i++ {
				if in.IsNull(i) {
					out.AppendNull()
					continue
				}
				if in.Type == types.Int64 {
					x := in.Int64(i)
					if x < 0 {
						x = -x
					}
					out.AppendInt64(x)
				} else {
					out.AppendFloat64(math.Abs(in.Float64(i)))
				}
			}
			return out, nil
		},
	})

	strFunc := func(name string, fn func(string) string) *Function {
		return &Function{
			Name: name,
			Pure: true,
			ReturnType: func(args []types.DataType) (types.DataType, error) {
				if err := oneArg(name, args); err != nil {
					return types.Unknown, err
				}
				if args[0] != types.String {
					return types.Unknown, qerr.Schemaf("%s expects a string argument, got %s", name, args[0])
				}
				return types.String, nil
			},
			Eval: func(args []*vector.Vector) (*vector.Vector, error) {
				in := args[0]
				out := vector.New(types.String)
				for i := 0; i < in.Len(); i++ {
					if in.IsNull(i) {
						out.AppendNull()
						continue
					}
					out.AppendStr(fn(in.Str(i)))
				}
				return out, nil
			},
		}
	}
	mustRegister(strFunc("upper", strings.ToUpper))
	mustRegister(strFunc("lower", strings.ToLower))

	mustRegister(&Function{
		Name: "strlen",
		Pure: true,
		ReturnType: func(args []types.DataType) (types.DataType, error) {
			if err := oneArg("strlen", args); err != nil {
				return types.Unknown, err
			}
			if args[0] != types.String {
				return types.Unknown, qerr.Schemaf("strlen expects a string argument, got %s", args[0])
			}
			return types.Int64, nil
		},
		Eval: func(args []*vector.Vector) (*vector.Vector, error) {
			in := args[0]
			out := vector.New(types.Int64)
			for i := 0; i < in.Len(); i++ {
				if in.IsNull(i) {
					out.AppendNull()
					continue
				}
				out.AppendInt64(int64(len(in.Str(i))))
			}
			return out, nil
		},
	})

	mustRegister(&Function{
		Name: "coalesce",
		Pure: true,
		ReturnType: func(args []types.DataType) (types.DataType, error) {
			if len(args) == 0 {
				return types.Unknown, qerr.Schemaf("coalesce expects at least 1 argument")
			}
			tp := args[0]
			for _, a := range args[1:] {
				if a != tp {
					return types.Unknown, qerr.Schemaf("coalesce arguments must share one type, got %s and %s", tp, a)
				}
			}
			return tp, nil
		},
		Eval: func(args []*vector.Vector) (*vector.Vector, error) {
			first := args[0]
			out := vector.New(first.Type)
			for i := 0; i < first.Len(); i++ {
				appended := false
				for _, a := range args {
					if !a.IsNull(i) {
						out.AppendFrom(a, i)
						appended = true
						break
					}
				}
				if !appended {
					out.AppendNull()
				}
			}
			return out, nil
		},
	})
}
