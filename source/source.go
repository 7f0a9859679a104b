// Package source defines the scan collaborator contract: something that
// produces an ordered sequence of columnar batches conforming to a
// schema. Pushdown hints are an optimization, never a correctness
// requirement; the engine re-applies filter, projection and slice itself
// when a source cannot honor them.
package source

import (
	"context"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// Hint carries pushed-down requirements to a source. A source is free
// to ignore any of it.
type Hint struct {
	// Columns restricts the scan to a subset, in order. nil means all.
	Columns []string
	// Predicate filters rows early. nil means no filter.
	Predicate expr.Expr
	// Limit caps the total rows produced. Negative means unbounded.
	Limit int64
}

// NoHint scans everything.
func NoHint() Hint { return Hint{Limit: -1} }

// Iterator pulls batches one at a time. Next returns (nil, nil) once
// the source is exhausted. Close releases held resources and is safe to
// call more than once.
type Iterator interface {
	Next(ctx context.Context) (*vector.Batch, error)
	Close() error
}

// Source is the scan collaborator.
type Source interface {
	// Schema is the full schema before any projection hint.
	Schema() (*types.Schema, error)
	// Scan opens an iterator. BatchSize bounds the rows per batch the
	// source should aim for; it is the streaming morsel size.
	Scan(ctx context.Context, hint Hint, batchSize int) (Iterator, error)
	// EstimatedRows is a cardinality estimate, -1 when unknown. Feeds
	// join build-side selection.
	EstimatedRows() int64
}
