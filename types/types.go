package types

import "github.com/pkg/errors"

// DataType identifies the physical type of a column.
type DataType uint8

const (
	Unknown DataType = iota
	Bool
	Int64
	Float64
	String
)

func (t DataType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int64:
		return "i64"
	case Float64:
		return "f64"
	case String:
		return "str"
	default:
		return "unknown"
	}
}

func (t DataType) IsNumeric() bool {
	return t == Int64 || t == Float64
}

// Supertype returns the smallest type both a and b can be widened to
// without losing ordering semantics. ok is false when no such type exists.
func Supertype(a, b DataType) (DataType, bool) {
	if a == b {
		return a, true
	}
	if a.IsNumeric() && b.IsNumeric() {
		// mixed int/float widens to float
		return Float64, true
	}
	return Unknown, false
}

// CanCast reports whether an explicit cast from one type to the other
// is supported by the cast kernel.
func CanCast(from, to DataType) bool {
	if from == to {
		return true
	}
	switch from {
	case Int64:
		return to == Float64 || to == String || to == Bool
	case Float64:
		return to == Int64 || to == String
	case Bool:
		return to == Int64 || to == String
	case String:
		return to == Int64 || to == Float64
	}
	return false
}

// Field is a named, typed column slot in a schema.
type Field struct {
	Name string
	Type DataType
}

func (f Field) String() string {
	return f.Name + ": " + f.Type.String()
}

// Schema is an ordered mapping of column name to data type. Names are
// unique; uniqueness is enforced at construction.
type Schema struct {
	fields []Field
	byName map[string]int
}

func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: fields,
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, errors.New("schema: empty column name")
		}
		if _, ok := s.byName[f.Name]; ok {
			return nil, errors.Errorf("schema: duplicate column %q", f.Name)
		}
		s.byName[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema for statically known-good field lists, mostly tests.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int { return len(s.fields) }

func (s *Schema) Fields() []Field { return s.fields }

func (s *Schema) Field(i int) Field { return s.fields[i] }

func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Lookup returns the field for name.
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema) Equal(o *Schema) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i, f := range s.fields {
		if o.fields[i] != f {
			return false
		}
	}
	return true
}

// Select builds a sub-schema containing names in the given order.
func (s *Schema) Select(names []string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f, ok := s.Lookup(n)
		if !ok {
			return nil, errors.Errorf("schema: column %q not found", n)
		}
		fields = append(fields, f)
	}
	return NewSchema(fields...)
}

// Merge appends o's fields after s's. Duplicate names fail.
func (s *Schema) Merge(o *Schema) (*Schema, error) {
	fields := make([]Field, 0, s.Len()+o.Len())
	fields = append(fields, s.fields...)
	fields = append(fields, o.fields...)
	return NewSchema(fields...)
}

func (s *Schema) String() string {
	out := "["
	for i, f := range s.fields {
		if i > 0 {
			out += ", "
		}
		out += f.String()
	}
	return out + "]"
}
