package physical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func scanOf(t *testing.T, fields ...types.Field) *plan.Scan {
	t.Helper()
	schema, err := types.NewSchema(fields...)
	require.Nil(t, err)
	s, err := plan.NewScan(source.NewInMemory(vector.Empty(schema)))
	require.Nil(t, err)
	return s
}

func TestStreamingPipeline(t *testing.T) {
	scan := scanOf(t, types.Field{Name: "a", Type: types.Int64})
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)
	p, err := plan.NewProjection(f, []expr.Expr{expr.Col("a")})
	require.Nil(t, err)
	s, err := plan.NewSlice(p, 0, 10)
	require.Nil(t, err)

	op := Plan(s)
	assert.Equal(t, Streaming, op.Strategy)
	assert.Equal(t, Streaming, op.Inputs[0].Strategy)
	assert.False(t, op.Boundary(0))
}

func TestSortForcesInMemory(t *testing.T) {
	scan := scanOf(t, types.Field{Name: "a", Type: types.Int64})
	s, err := plan.NewSort(scan, []*expr.SortKey{expr.Asc(expr.Col("a"))})
	require.Nil(t, err)
	f, err := plan.NewFilter(s, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)

	op := Plan(f)
	// an in-memory input poisons the subtree above it
	assert.Equal(t, InMemory, op.Strategy)
	assert.Equal(t, InMemory, op.Inputs[0].Strategy)
	assert.Equal(t, Streaming, op.Inputs[0].Inputs[0].Strategy)
	assert.True(t, op.Inputs[0].Boundary(0))
}

func TestWindowProjectionIsInMemory(t *testing.T) {
	scan := scanOf(t,
		types.Field{Name: "k", Type: types.String},
		types.Field{Name: "v", Type: types.Int64},
	)
	p, err := plan.NewProjection(scan, []expr.Expr{
		expr.Col("k"),
		expr.As(expr.Over(expr.Sum(expr.Col("v")), expr.Col("k")), "total"),
	})
	require.Nil(t, err)

	op := Plan(p)
	assert.Equal(t, InMemory, op.Strategy)
	assert.True(t, op.Boundary(0))
}

func TestJoinIsInMemoryWithStreamingSides(t *testing.T) {
	left := scanOf(t, types.Field{Name: "id", Type: types.Int64})
	right := scanOf(t,
		types.Field{Name: "id", Type: types.Int64},
		types.Field{Name: "v", Type: types.Int64},
	)
	j, err := plan.NewJoin(left, right, plan.InnerJoin,
		[]*expr.Column{expr.Col("id")}, []*expr.Column{expr.Col("id")})
	require.Nil(t, err)

	op := Plan(j)
	assert.Equal(t, InMemory, op.Strategy)
	assert.True(t, op.Boundary(0))
	assert.True(t, op.Boundary(1))
}

func TestGroupByStreams(t *testing.T) {
	scan := scanOf(t,
		types.Field{Name: "k", Type: types.String},
		types.Field{Name: "v", Type: types.Int64},
	)
	g, err := plan.NewGroupBy(scan,
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{expr.As(expr.Sum(expr.Col("v")), "total")},
	)
	require.Nil(t, err)

	op := Plan(g)
	assert.Equal(t, Streaming, op.Strategy)
}

func TestExplainMarksBoundaries(t *testing.T) {
	scan := scanOf(t, types.Field{Name: "a", Type: types.Int64})
	s, err := plan.NewSort(scan, []*expr.SortKey{expr.Asc(expr.Col("a"))})
	require.Nil(t, err)

	out := Explain(Plan(s))
	assert.True(t, strings.Contains(out, "[in-memory]"))
	assert.True(t, strings.Contains(out, "[streaming] <materialize>"))
}
