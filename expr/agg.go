package expr

import (
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

// AggState accumulates one aggregate over one group. The in-memory
// group-by scatters rows into per-partition states and merges them; the
// streaming group-by updates states morsel by morsel and finalizes on
// end-of-input.
type AggState interface {
	// Update folds row i of v into the state.
	Update(v *vector.Vector, i int)
	// Merge folds another state for the same group into this one.
	Merge(other AggState)
	// Final returns the aggregate value, nil for a null result.
	Final() interface{}
}

// NewAggState builds the accumulator for an aggregate op over inputs of
// the given type.
func NewAggState(op AggOp, in types.DataType) (AggState, error) {
	if _, err := AggResultType(op, in); err != nil {
		return nil, err
	}
	switch op {
	case AggCount:
		return &countState{}, nil
	case AggSum:
		return &sumState{tp: in}, nil
	case AggMean:
		return &meanState{}, nil
	case AggMin:
		return &extremeState{tp: in, wantMin: true}, nil
	case AggMax:
		return &extremeState{tp: in}, nil
	case AggFirst:
		return &edgeState{tp: in, first: true}, nil
	case AggLast:
		return &edgeState{tp: in}, nil
	case AggNUnique:
		return &nuniqueState{seen: map[interface{}]bool{}}, nil
	default:
		return nil, qerr.InvalidOpf("unknown aggregate op %d", op)
	}
}

// countState counts non-null values.
type countState struct {
	n int64
}

func (s *countState) Update(v *vector.Vector, i int) {
	if !v.IsNull(i) {
		s.n++
	}
}
func (s *countState) Merge(other AggState) { s.n += other.(*countState).n }
func (s *countState) Final() interface{}   { return s.n }

// sumState sums non-null values; with no non-null input the sum is null.
type sumState struct {
	tp    types.DataType
	i     int64
	f     float64
	valid bool
}

func (s *sumState) Update(v *vector.Vector, i int) {
	if v.IsNull(i) {
		return
	}
	s.valid = true
	if s.tp == types.Int64 {
		s.i += v.Int64(i)
	} else {
		s.f += v.Float64(i)
	}
}

func (s *sumState) Merge(other AggState) {
	o := other.(*sumState)
	s.valid = s.valid || o.valid
	s.i += o.i
	s.f += o.f
}

func (s *sumState) Final() interface{} {
	if !s.valid {
		return nil
	}
	if s.tp == types.Int64 {
		return s.i
	}
	return s.f
}

type meanState struct {
	sum float64
	n   int64
}

func (s *meanState) Update(v *vector.Vector, i int) {
	if v.IsNull(i) {
		return
	}
	if v.Type == types.Int64 {
		s.sum += float64(v.Int64(i))
	} else {
		s.sum += v.Float64(i)
	}
	s.n++
}

func (s *meanState) Merge(other AggState) {
	o := other.(*meanState)
	s.sum += o.sum
	s.n += o.n
}

func (s *meanState) Final() interface{} {
	if s.n == 0 {
		return nil
	}
	return s.sum / float64(s.n)
}

// extremeState tracks min or max over non-null values.
type extremeState struct {
	tp      types.DataType
	wantMin bool
	val     interface{}
	keep    *vector.Vector
}

func (s *extremeState) Update(v *vector.Vector, i int) {
	if v.IsNull(i) {
		return
	}
	if s.keep == nil {
		s.keep = vector.New(s.tp)
		s.keep.AppendFrom(v, i)
		s.val = s.keep.Value(0)
		return
	}
	c := vector.CompareRows(v, i, s.keep, 0)
	if (s.wantMin && c < 0) || (!s.wantMin && c > 0) {
		s.keep = vector.New(s.tp)
		s.keep.AppendFrom(v, i)
		s.val = s.keep.Value(0)
	}
}

func (s *extremeState) Merge(other AggState) {
	o := other.(*extremeState)
	if o.keep == nil {
		return
	}
	s.Update(o.keep, 0)
}

func (s *extremeState) Final() interface{} { return s.val }

// edgeState keeps the first or last value seen, nulls included.
type edgeState struct {
	tp    types.DataType
	first bool
	keep  *vector.Vector
}

func (s *edgeState) Update(v *vector.Vector, i int) {
	if s.first && s.keep != nil {
		return
	}
	s.keep = vector.New(s.tp)
	s.keep.AppendFrom(v, i)
}

func (s *edgeState) Merge(other AggState) {
	o := other.(*edgeState)
	if o.keep == nil {
		return
	}
	if s.first {
		if s.keep == nil {
			s.keep = o.keep
		}
		return
	}
	s.keep = o.keep
}

func (s *edgeState) Final() interface{} {
	if s.keep == nil {
		return nil
	}
	return s.keep.Value(0)
}

// nuniqueState counts distinct values; null counts as one value.
type nuniqueState struct {
	seen    map[interface{}]bool
	hasNull bool
}

func (s *nuniqueState) Update(v *vector.Vector, i int) {
	if v.IsNull(i) {
		s.hasNull = true
		return
	}
	s.seen[v.Value(i)] = true
}

func (s *nuniqueState) Merge(other AggState) {
	o := other.(*nuniqueState)
	s.hasNull = s.hasNull || o.hasNull
	for k := range o.seen {
		s.seen[k] = true
	}
}

func (s *nuniqueState) Final() interface{} {
	n := int64(len(s.seen))
	if s.hasNull {
		n++
	}
	return n
}

// EvalAggIndices evaluates an aggregate over one partition given as row
// indices of the input vector.
func EvalAggIndices(op AggOp, input *vector.Vector, indices []int) (interface{}, error) {
	st, err := NewAggState(op, input.Type)
	if err != nil {
		return nil, err
	}
	for _, i := range indices {
		st.Update(input, i)
	}
	return st.Final(), nil
}
