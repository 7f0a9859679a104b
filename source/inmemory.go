package source

import (
	"context"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// InMemory serves a materialized table in batch-size chunks. It honors
// pushdown hints only when HonorHints is set, which lets tests exercise
// the engine's obligation to re-apply hints itself.
type InMemory struct {
	table *vector.Batch
	// HonorHints applies projection, predicate and limit hints inside
	// the source instead of leaving them to the engine.
	HonorHints bool

	// ScannedColumns records the columns actually read by the last scan,
	// observable by pushdown tests.
	ScannedColumns []string
}

func NewInMemory(table *vector.Batch) *InMemory {
	return &InMemory{table: table}
}

func (s *InMemory) Schema() (*types.Schema, error) {
	return s.table.Schema(), nil
}

func (s *InMemory) EstimatedRows() int64 {
	return int64(s.table.Len())
}

func (s *InMemory) Scan(ctx context.Context, hint Hint, batchSize int) (Iterator, error) {
	data := s.table
	if hint.Columns != nil {
		s.ScannedColumns = append([]string(nil), hint.Columns...)
	} else {
		s.ScannedColumns = data.Schema().Names()
	}
	if s.HonorHints {
		var err error
		if hint.Columns != nil {
			if data, err = data.Select(hint.Columns); err != nil {
				return nil, err
			}
		}
		if hint.Predicate != nil {
			mask, err := expr.Eval(hint.Predicate, data)
			if err != nil {
				return nil, err
			}
			if data, err = data.Filter(mask); err != nil {
				return nil, err
			}
		}
		if hint.Limit >= 0 && int64(data.Len()) > hint.Limit {
			if data, err = data.Slice(0, int(hint.Limit)); err != nil {
				return nil, err
			}
		}
	}
	if batchSize <= 0 {
		batchSize = 1 << 10
	}
	return &memIterator{data: data, batchSize: batchSize}, nil
}

type memIterator struct {
	data      *vector.Batch
	batchSize int
	offset    int
	closed    bool
}

func (it *memIterator) Next(ctx context.Context) (*vector.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.closed || it.offset >= it.data.Len() {
		return nil, nil
	}
	n := it.batchSize
	if it.offset+n > it.data.Len() {
		n = it.data.Len() - it.offset
	}
	out, err := it.data.Slice(it.offset, n)
	if err != nil {
		return nil, err
	}
	it.offset += n
	return out, nil
}

func (it *memIterator) Close() error {
	it.closed = true
	return nil
}
