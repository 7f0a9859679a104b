// Package vector implements the columnar container the engine computes
// over: typed vectors with validity bitmaps, batches of equally sized
// vectors, and the per-type kernels (compare, arithmetic, cast, hash)
// the expression engine invokes.
package vector

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// Vector is a contiguous sequence of values of one data type plus a
// validity bitmap. Only the slice matching Type is populated. A Vector
// is append-only while being built and treated as immutable once handed
// to a consumer.
type Vector struct {
	Type types.DataType

	bools   []bool
	ints    []int64
	floats  []float64
	strs    []string
	valid   *Bitmap
	nullCnt int
}

func New(tp types.DataType) *Vector {
	return &Vector{Type: tp, valid: NewBitmap(0)}
}

func (v *Vector) Len() int { return v.valid.Len() }

func (v *Vector) NullCount() int { return v.nullCnt }

func (v *Vector) IsNull(i int) bool { return !v.valid.Get(i) }

func (v *Vector) Bool(i int) bool       { return v.bools[i] }
func (v *Vector) Int64(i int) int64     { return v.ints[i] }
func (v *Vector) Float64(i int) float64 { return v.floats[i] }
func (v *Vector) Str(i int) string      { return v.strs[i] }

func (v *Vector) AppendBool(x bool) {
	v.bools = append(v.bools, x)
	v.valid.Append(true)
}

func (v *Vector) AppendInt64(x int64) {
	v.ints = append(v.ints, x)
	v.valid.Append(true)
}

func (v *Vector) AppendFloat64(x float64) {
	v.floats = append(v.floats, x)
	v.valid.Append(true)
}

func (v *Vector) AppendStr(x string) {
	v.strs = append(v.strs, x)
	v.valid.Append(true)
}

func (v *Vector) AppendNull() {
	switch v.Type {
	case types.Bool:
		v.bools = append(v.bools, false)
	case types.Int64:
		v.ints = append(v.ints, 0)
	case types.Float64:
		v.floats = append(v.floats, 0)
	case types.String:
		v.strs = append(v.strs, "")
	}
	v.valid.Append(false)
	v.nullCnt++
}

// Append adds a dynamically typed value; nil appends a null. The value
// must match the vector type.
func (v *Vector) Append(x interface{}) error {
	if x == nil {
		v.AppendNull()
		return nil
	}
	switch val := x.(type) {
	case bool:
		if v.Type != types.Bool {
			return qerr.Schemaf("cannot append bool to %s vector", v.Type)
		}
		v.AppendBool(val)
	case int:
		if v.Type != types.Int64 {
			return qerr.Schemaf("cannot append int to %s vector", v.Type)
		}
		v.AppendInt64(int64(val))
	case int64:
		if v.Type != types.Int64 {
			return qerr.Schemaf("cannot append int64 to %s vector", v.Type)
		}
		v.AppendInt64(val)
	case float64:
		if v.Type != types.Float64 {
			return qerr.Schemaf("cannot append float64 to %s vector", v.Type)
		}
		v.AppendFloat64(val)
	case string:
		if v.Type != types.String {
			return qerr.Schemaf("cannot append string to %s vector", v.Type)
		}
		v.AppendStr(val)
	default:
		return qerr.Schemaf("unsupported value type %T", x)
	}
	return nil
}

// AppendFrom copies row i of src, which must have the same type.
func (v *Vector) AppendFrom(src *Vector, i int) {
	if src.IsNull(i) {
		v.AppendNull()
		return
	}
	switch v.Type {
	case types.Bool:
		v.AppendBool(src.bools[i])
	case types.Int64:
		v.AppendInt64(src.ints[i])
	case types.Float64:
		v.AppendFloat64(src.floats[i])
	case types.String:
		v.AppendStr(src.strs[i])
	}
}

// Value returns row i as an interface value, nil when null. Test and
// diagnostic helper, not used on hot paths.
func (v *Vector) Value(i int) interface{} {
	if v.IsNull(i) {
		return nil
	}
	switch v.Type {
	case types.Bool:
		return v.bools[i]
	case types.Int64:
		return v.ints[i]
	case types.Float64:
		return v.floats[i]
	case types.String:
		return v.strs[i]
	}
	return nil
}

// FromValues builds a vector from dynamically typed values.
func FromValues(tp types.DataType, vals ...interface{}) (*Vector, error) {
	v := New(tp)
	for _, x := range vals {
		if err := v.Append(x); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// MustFromValues is FromValues for known-good inputs, mostly tests.
func MustFromValues(tp types.DataType, vals ...interface{}) *Vector {
	v, err := FromValues(tp, vals...)
	if err != nil {
		panic(err)
	}
	return v
}

// Repeat broadcasts a single value (nil for null) to length n.
func Repeat(tp types.DataType, val interface{}, n int) (*Vector, error) {
	v := New(tp)
	for i := 0; i < n; i++ {
		if err := v.Append(val); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Take gathers rows by index into a new vector. Negative indices yield
// nulls; used by outer joins for unmatched rows.
func (v *Vector) Take(indices []int) *Vector {
	out := New(v.Type)
	for _, i := range indices {
		if i < 0 {
			out.AppendNull()
			continue
		}
		out.AppendFrom(v, i)
	}
	return out
}

// Filter keeps rows where mask is true. Null mask entries drop the row.
func (v *Vector) Filter(mask *Vector) (*Vector, error) {
	if mask.Type != types.Bool {
		return nil, qerr.Computef("filter mask must be bool, got %s", mask.Type)
	}
	if mask.Len() != v.Len() {
		return nil, qerr.Computef("filter mask length %d != vector length %d", mask.Len(), v.Len())
	}
	out := New(v.Type)
	for i := 0; i < v.Len(); i++ {
		if !mask.IsNull(i) && mask.Bool(i) {
			out.AppendFrom(v, i)
		}
	}
	return out, nil
}

// Slice copies rows [offset, offset+length). Out-of-range tails clamp.
func (v *Vector) Slice(offset, length int) *Vector {
	out := New(v.Type)
	if offset < 0 {
		offset = 0
	}
	end := offset + length
	if length < 0 || end > v.Len() {
		end = v.Len()
	}
	for i := offset; i < end; i++ {
		out.AppendFrom(v, i)
	}
	return out
}

// AppendVector appends all rows of o, which must share the type.
func (v *Vector) AppendVector(o *Vector) error {
	if v.Type != o.Type {
		return qerr.Schemaf("cannot append %s vector to %s vector", o.Type, v.Type)
	}
	for i := 0; i < o.Len(); i++ {
		v.AppendFrom(o, i)
	}
	return nil
}

// Equal compares two vectors for identical contents, nulls included.
func (v *Vector) Equal(o *Vector) bool {
	if v.Type != o.Type || v.Len() != o.Len() {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if v.IsNull(i) != o.IsNull(i) {
			return false
		}
		if v.IsNull(i) {
			continue
		}
		if v.Value(i) != o.Value(i) {
			return false
		}
	}
	return true
}

func (v *Vector) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if v.IsNull(i) {
			sb.WriteString("null")
		} else {
			fmt.Fprintf(&sb, "%v", v.Value(i))
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// ByteSize is an accounting estimate of the vector's heap footprint.
func (v *Vector) ByteSize() int64 {
	var n int64
	switch v.Type {
	case types.Bool:
		n = int64(len(v.bools))
	case types.Int64:
		n = int64(len(v.ints)) * 8
	case types.Float64:
		n = int64(len(v.floats)) * 8
	case types.String:
		n = 0
		for _, s := range v.strs {
			n += int64(len(s)) + 16
		}
	}
	return n + int64(len(v.valid.words))*8
}
