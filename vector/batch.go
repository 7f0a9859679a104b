package vector

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
)

// Batch is an ordered set of named columns sharing one row count. It is
// the unit of exchange between operators; ownership passes from producer
// to consumer.
type Batch struct {
	schema *types.Schema
	cols   []*Vector
	rows   int
}

func NewBatch(schema *types.Schema, cols []*Vector) (*Batch, error) {
	if schema.Len() != len(cols) {
		return nil, qerr.Schemaf("batch has %d columns, schema expects %d", len(cols), schema.Len())
	}
	rows := 0
	for i, c := range cols {
		f := schema.Field(i)
		if c.Type != f.Type {
			return nil, qerr.Schemaf("column %q has type %s, schema expects %s", f.Name, c.Type, f.Type)
		}
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, qerr.Schemaf("column %q has %d rows, batch has %d", f.Name, c.Len(), rows)
		}
	}
	return &Batch{schema: schema, cols: cols, rows: rows}, nil
}

// Empty builds a zero-row batch for a schema.
func Empty(schema *types.Schema) *Batch {
	cols := make([]*Vector, schema.Len())
	for i, f := range schema.Fields() {
		cols[i] = New(f.Type)
	}
	b, _ := NewBatch(schema, cols)
	return b
}

func (b *Batch) Schema() *types.Schema { return b.schema }

func (b *Batch) Len() int { return b.rows }

func (b *Batch) Columns() []*Vector { return b.cols }

func (b *Batch) Column(i int) *Vector { return b.cols[i] }

// ColumnByName returns the named column or a schema error.
func (b *Batch) ColumnByName(name string) (*Vector, error) {
	i := b.schema.Index(name)
	if i < 0 {
		return nil, qerr.Schemaf("column %q not found in batch schema %s", name, b.schema)
	}
	return b.cols[i], nil
}

// Filter keeps rows where mask is true.
func (b *Batch) Filter(mask *Vector) (*Batch, error) {
	cols := make([]*Vector, len(b.cols))
	for i, c := range b.cols {
		out, err := c.Filter(mask)
		if err != nil {
			return nil, err
		}
		cols[i] = out
	}
	return NewBatch(b.schema, cols)
}

// Take gathers rows by index; negative indices become null rows.
func (b *Batch) Take(indices []int) (*Batch, error) {
	cols := make([]*Vector, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Take(indices)
	}
	return NewBatch(b.schema, cols)
}

// Slice copies rows [offset, offset+length); length < 0 means the rest.
func (b *Batch) Slice(offset, length int) (*Batch, error) {
	cols := make([]*Vector, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Slice(offset, length)
	}
	return NewBatch(b.schema, cols)
}

// Select projects the named columns in order.
func (b *Batch) Select(names []string) (*Batch, error) {
	schema, err := b.schema.Select(names)
	if err != nil {
		return nil, qerr.Schemaf("%s", err)
	}
	cols := make([]*Vector, len(names))
	for i, n := range names {
		cols[i] = b.cols[b.schema.Index(n)]
	}
	return NewBatch(schema, cols)
}

// Append concatenates o's rows onto b in place. Schemas must be equal.
func (b *Batch) Append(o *Batch) error {
	if !b.schema.Equal(o.schema) {
		return qerr.Schemaf("cannot append batch with schema %s to %s", o.schema, b.schema)
	}
	for i := range b.cols {
		if err := b.cols[i].AppendVector(o.cols[i]); err != nil {
			return err
		}
	}
	b.rows += o.rows
	return nil
}

// Concat materializes a sequence of same-schema batches into one.
func Concat(schema *types.Schema, batches []*Batch) (*Batch, error) {
	out := Empty(schema)
	for _, b := range batches {
		if err := out.Append(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ByteSize estimates the heap footprint for memory accounting.
func (b *Batch) ByteSize() int64 {
	var n int64
	for _, c := range b.cols {
		n += c.ByteSize()
	}
	return n
}

// Equal compares schema and every cell, nulls included.
func (b *Batch) Equal(o *Batch) bool {
	if !b.schema.Equal(o.schema) || b.rows != o.rows {
		return false
	}
	for i := range b.cols {
		if !b.cols[i].Equal(o.cols[i]) {
			return false
		}
	}
	return true
}

func (b *Batch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch%s %d rows\n", b.schema, b.rows)
	for i, f := range b.schema.Fields() {
		fmt.Fprintf(&sb, "  %s: %s\n", f.Name, b.cols[i])
	}
	return sb.String()
}
