package vector

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/vireodb/vireo/types"
)

const nullMarker = 0xfd

// HashRows computes one xxhash per row across the given key vectors.
// Nulls hash to a dedicated marker so null keys group together.
func HashRows(cols []*Vector, n int) []uint64 {
	hashes := make([]uint64, n)
	var d xxhash.Digest
	var scratch [9]byte
	for i := 0; i < n; i++ {
		d.Reset()
		for _, c := range cols {
			if c.IsNull(i) {
				scratch[0] = nullMarker
				_, _ = d.Write(scratch[:1])
				continue
			}
			switch c.Type {
			case types.Bool:
				scratch[0] = 1
				if c.Bool(i) {
					scratch[1] = 1
				} else {
					scratch[1] = 0
				}
				_, _ = d.Write(scratch[:2])
			case types.Int64:
				scratch[0] = 2
				binary.LittleEndian.PutUint64(scratch[1:], uint64(c.Int64(i)))
				_, _ = d.Write(scratch[:9])
			case types.Float64:
				scratch[0] = 3
				binary.LittleEndian.PutUint64(scratch[1:], math.Float64bits(c.Float64(i)))
				_, _ = d.Write(scratch[:9])
			case types.String:
				scratch[0] = 4
				_, _ = d.Write(scratch[:1])
				_, _ = d.WriteString(c.Str(i))
			}
		}
		hashes[i] = d.Sum64()
	}
	return hashes
}

// RowsEqual reports whether row i of a and row j of b match across all
// key columns. Null equals null here: grouping and join keys treat null
// as a distinct joinable value only for grouping, so join paths must
// exclude null keys before probing.
func RowsEqual(a []*Vector, i int, b []*Vector, j int) bool {
	for k := range a {
		an, bn := a[k].IsNull(i), b[k].IsNull(j)
		if an != bn {
			return false
		}
		if an {
			continue
		}
		if CompareRows(a[k], i, b[k], j) != 0 {
			return false
		}
	}
	return true
}
