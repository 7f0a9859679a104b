package plan

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// Sort orders rows by the key expressions, stable, nulls last unless a
// key requests nulls first.
type Sort struct {
	Input Node
	Keys  []*expr.SortKey
}

func NewSort(input Node, keys []*expr.SortKey) (*Sort, error) {
	if len(keys) == 0 {
		return nil, qerr.InvalidOpf("sort requires at least one key")
	}
	in := input.Schema()
	for _, k := range keys {
		if err := expr.Validate(k, in); err != nil {
			return nil, err
		}
		if expr.HasAgg(k) || expr.HasWindow(k) {
			return nil, qerr.InvalidOpf("sort key %s contains an aggregate", k)
		}
	}
	return &Sort{Input: input, Keys: keys}, nil
}

func (s *Sort) Schema() *types.Schema { return s.Input.Schema() }
func (s *Sort) Children() []Node      { return []Node{s.Input} }

func (s *Sort) WithChildren(children []Node) (Node, error) {
	if err := arity(s, children, 1); err != nil {
		return nil, err
	}
	return NewSort(children[0], s.Keys)
}

func (s *Sort) String() string {
	keys := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = k.String()
	}
	return "Sort [" + strings.Join(keys, ", ") + "]"
}

// Union concatenates inputs with equal schemas, in input order.
type Union struct {
	Inputs []Node
}

func NewUnion(inputs []Node) (*Union, error) {
	if len(inputs) < 2 {
		return nil, qerr.InvalidOpf("union requires at least two inputs")
	}
	first := inputs[0].Schema()
	for _, in := range inputs[1:] {
		if !first.Equal(in.Schema()) {
			return nil, qerr.Schemaf("union inputs have different schemas: %s vs %s", first, in.Schema())
		}
	}
	return &Union{Inputs: inputs}, nil
}

func (u *Union) Schema() *types.Schema { return u.Inputs[0].Schema() }
func (u *Union) Children() []Node      { return u.Inputs }

func (u *Union) WithChildren(children []Node) (Node, error) {
	if len(children) != len(u.Inputs) {
		return nil, qerr.InvalidOpf("union expects %d inputs, got %d", len(u.Inputs), len(children))
	}
	return NewUnion(children)
}

func (u *Union) String() string { return fmt.Sprintf("Union %d inputs", len(u.Inputs)) }

// Distinct keeps the first row per key. A nil subset keys on all columns.
type Distinct struct {
	Input  Node
	Subset []string
}

func NewDistinct(input Node, subset []string) (*Distinct, error) {
	in := input.Schema()
	for _, name := range subset {
		if !in.Has(name) {
			return nil, qerr.Schemaf("distinct subset column %q not found in schema %s", name, in)
		}
	}
	return &Distinct{Input: input, Subset: subset}, nil
}

func (d *Distinct) Schema() *types.Schema { return d.Input.Schema() }
func (d *Distinct) Children() []Node      { return []Node{d.Input} }

func (d *Distinct) WithChildren(children []Node) (Node, error) {
	if err := arity(d, children, 1); err != nil {
		return nil, err
	}
	return NewDistinct(children[0], d.Subset)
}

func (d *Distinct) String() string {
	if d.Subset == nil {
		return "Distinct"
	}
	return fmt.Sprintf("Distinct subset=%v", d.Subset)
}

// Explode repeats each row by the value of an integer count column;
// null and non-positive counts drop the row.
type Explode struct {
	Input  Node
	Counts string
}

func NewExplode(input Node, counts string) (*Explode, error) {
	f, ok := input.Schema().Lookup(counts)
	if !ok {
		return nil, qerr.Schemaf("explode column %q not found in schema %s", counts, input.Schema())
	}
	if f.Type != types.Int64 {
		return nil, qerr.Schemaf("explode column %q must be %s, got %s", counts, types.Int64, f.Type)
	}
	return &Explode{Input: input, Counts: counts}, nil
}

func (e *Explode) Schema() *types.Schema { return e.Input.Schema() }
func (e *Explode) Children() []Node      { return []Node{e.Input} }

func (e *Explode) WithChildren(children []Node) (Node, error) {
	if err := arity(e, children, 1); err != nil {
		return nil, err
	}
	return NewExplode(children[0], e.Counts)
}

func (e *Explode) String() string { return fmt.Sprintf("Explode by=%s", e.Counts) }

// Melt unpivots value columns into variable/value pairs, stacked
// column-major: all rows of the first value column, then the second.
type Melt struct {
	Input     Node
	IDVars    []string
	ValueVars []string
	VarName   string
	ValueName string

	schema *types.Schema
}

func NewMelt(input Node, idVars, valueVars []string, varName, valueName string) (*Melt, error) {
	if len(valueVars) == 0 {
		return nil, qerr.InvalidOpf("melt requires at least one value column")
	}
	if varName == "" {
		varName = "variable"
	}
	if valueName == "" {
		valueName = "value"
	}
	in := input.Schema()
	fields := make([]types.Field, 0, len(idVars)+2)
	for _, name := range idVars {
		f, ok := in.Lookup(name)
		if !ok {
			return nil, qerr.Schemaf("melt id column %q not found in schema %s", name, in)
		}
		fields = append(fields, f)
	}
	valueType := types.Unknown
	for _, name := range valueVars {
		f, ok := in.Lookup(name)
		if !ok {
			return nil, qerr.Schemaf("melt value column %q not found in schema %s", name, in)
		}
		if valueType == types.Unknown {
			valueType = f.Type
			continue
		}
		st, ok := types.Supertype(valueType, f.Type)
		if !ok {
			return nil, qerr.Schemaf("melt value columns mix %s and %s with no common type", valueType, f.Type)
		}
		valueType = st
	}
	fields = append(fields,
		types.Field{Name: varName, Type: types.String},
		types.Field{Name: valueName, Type: valueType},
	)
	schema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, qerr.Schemaf("melt: %s", err)
	}
	return &Melt{
		Input: input, IDVars: idVars, ValueVars: valueVars,
		VarName: varName, ValueName: valueName, schema: schema,
	}, nil
}

func (m *Melt) Schema() *types.Schema { return m.schema }
func (m *Melt) Children() []Node      { return []Node{m.Input} }

func (m *Melt) WithChildren(children []Node) (Node, error) {
	if err := arity(m, children, 1); err != nil {
		return nil, err
	}
	return NewMelt(children[0], m.IDVars, m.ValueVars, m.VarName, m.ValueName)
}

func (m *Melt) String() string {
	return fmt.Sprintf("Melt id=%v value=%v", m.IDVars, m.ValueVars)
}

// ValueType is the inferred type of the melted value column.
func (m *Melt) ValueType() types.DataType {
	return m.schema.Field(m.schema.Len() - 1).Type
}
