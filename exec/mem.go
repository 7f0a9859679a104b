package exec

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"

	"github.com/vireodb/vireo/qerr"
)

// memTracker accounts bytes materialized during one Run. It counts
// every operator output without releasing, an upper bound that keeps
// accounting cheap and race-free across worker goroutines.
type memTracker struct {
	limit int64
	used  atomic.Int64
}

func newMemTracker(limit int64) *memTracker {
	return &memTracker{limit: limit}
}

func (m *memTracker) reserve(n int64) error {
	if m.limit <= 0 {
		return nil
	}
	if used := m.used.Add(n); used > m.limit {
		return qerr.Exhaustedf("query materialized %s, limit is %s",
			humanize.IBytes(uint64(used)), humanize.IBytes(uint64(m.limit)))
	}
	return nil
}
