package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func batchOf(t *testing.T, fields []types.Field, cols ...*vector.Vector) *vector.Batch {
	t.Helper()
	schema, err := types.NewSchema(fields...)
	require.Nil(t, err)
	b, err := vector.NewBatch(schema, cols)
	require.Nil(t, err)
	return b
}

func scanOf(t *testing.T, b *vector.Batch) *plan.Scan {
	t.Helper()
	s, err := plan.NewScan(source.NewInMemory(b))
	require.Nil(t, err)
	return s
}

func runPlan(t *testing.T, n plan.Node) *vector.Batch {
	t.Helper()
	out, err := New(DefaultOpts()).Run(context.Background(), n)
	require.Nil(t, err)
	return out
}

func intField(name string) types.Field   { return types.Field{Name: name, Type: types.Int64} }
func strField(name string) types.Field   { return types.Field{Name: name, Type: types.String} }
func floatField(name string) types.Field { return types.Field{Name: name, Type: types.Float64} }

func TestScanReappliesIgnoredHints(t *testing.T) {
	// the in-memory source ignores hints unless told otherwise, so the
	// scan operator must apply projection, predicate and limit itself
	b := batchOf(t, []types.Field{intField("a"), intField("b")},
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)),
		vector.MustFromValues(types.Int64, int64(10), int64(20), int64(30), int64(40), int64(50), int64(60)),
	)
	scan := scanOf(t, b)
	pushed, err := scan.With([]string{"a"}, expr.Gt(expr.Col("a"), expr.Lit(2)), 2)
	require.Nil(t, err)

	out := runPlan(t, pushed)
	assert.Equal(t, []string{"a"}, out.Schema().Names())
	want := vector.MustFromValues(types.Int64, int64(3), int64(4))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestScanHonoringSourceSameResult(t *testing.T) {
	table := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4)),
	)
	src := source.NewInMemory(table)
	src.HonorHints = true
	scan, err := plan.NewScan(src)
	require.Nil(t, err)
	pushed, err := scan.With(nil, expr.Gt(expr.Col("a"), expr.Lit(1)), 2)
	require.Nil(t, err)

	out := runPlan(t, pushed)
	want := vector.MustFromValues(types.Int64, int64(2), int64(3))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestFilterNullIsNotTrue(t *testing.T) {
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1), nil, int64(3)),
	)
	f, err := plan.NewFilter(scanOf(t, b), expr.Gt(expr.Col("a"), expr.Lit(0)))
	require.Nil(t, err)

	out := runPlan(t, f)
	want := vector.MustFromValues(types.Int64, int64(1), int64(3))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestProjectionNullPropagation(t *testing.T) {
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1), nil),
	)
	p, err := plan.NewProjection(scanOf(t, b), []expr.Expr{
		expr.As(expr.Add(expr.Col("a"), expr.Lit(1)), "a1"),
	})
	require.Nil(t, err)

	out := runPlan(t, p)
	want := vector.MustFromValues(types.Int64, int64(2), nil)
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestProjectionDivisionByZero(t *testing.T) {
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1), int64(0)),
	)
	p, err := plan.NewProjection(scanOf(t, b), []expr.Expr{
		expr.As(expr.Div(expr.Lit(10), expr.Col("a")), "q"),
	})
	require.Nil(t, err)

	_, err = New(DefaultOpts()).Run(context.Background(), p)
	assert.True(t, qerr.IsCompute(err), err)
}

func TestSliceOffsetAndClamp(t *testing.T) {
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4)),
	)
	s, err := plan.NewSlice(scanOf(t, b), 2, 10)
	require.Nil(t, err)

	out := runPlan(t, s)
	want := vector.MustFromValues(types.Int64, int64(3), int64(4))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestSortStableMultiKeyNullsLast(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "b", "a", "b", "a", "c"),
		vector.MustFromValues(types.Int64, int64(1), nil, int64(1), int64(2), int64(0)),
	)
	s, err := plan.NewSort(scanOf(t, b), []*expr.SortKey{
		expr.Asc(expr.Col("v")),
		expr.Asc(expr.Col("k")),
	})
	require.Nil(t, err)

	out := runPlan(t, s)
	wantK := vector.MustFromValues(types.String, "c", "b", "b", "a", "a")
	wantV := vector.MustFromValues(types.Int64, int64(0), int64(1), int64(1), int64(2), nil)
	assert.True(t, out.Column(0).Equal(wantK), out.String())
	assert.True(t, out.Column(1).Equal(wantV), out.String())
}

func TestSortDescAndNullsFirst(t *testing.T) {
	b := batchOf(t, []types.Field{intField("v")},
		vector.MustFromValues(types.Int64, int64(2), nil, int64(5)),
	)
	s, err := plan.NewSort(scanOf(t, b), []*expr.SortKey{
		{Input: expr.Col("v"), Desc: true, NullsFirst: true},
	})
	require.Nil(t, err)

	out := runPlan(t, s)
	want := vector.MustFromValues(types.Int64, nil, int64(5), int64(2))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestUnionConcatenatesInOrder(t *testing.T) {
	a := batchOf(t, []types.Field{intField("x")}, vector.MustFromValues(types.Int64, int64(1)))
	b := batchOf(t, []types.Field{intField("x")}, vector.MustFromValues(types.Int64, int64(2), int64(3)))
	u, err := plan.NewUnion([]plan.Node{scanOf(t, a), scanOf(t, b)})
	require.Nil(t, err)

	out := runPlan(t, u)
	want := vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3))
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestDistinctKeepsFirst(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "a", "b", "a", nil, "b", nil),
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)),
	)
	d, err := plan.NewDistinct(scanOf(t, b), []string{"k"})
	require.Nil(t, err)

	out := runPlan(t, d)
	wantK := vector.MustFromValues(types.String, "a", "b", nil)
	wantV := vector.MustFromValues(types.Int64, int64(1), int64(2), int64(4))
	assert.True(t, out.Column(0).Equal(wantK), out.String())
	assert.True(t, out.Column(1).Equal(wantV), out.String())
}

func TestMeltStacksColumnMajor(t *testing.T) {
	b := batchOf(t, []types.Field{strField("id"), intField("a"), floatField("b")},
		vector.MustFromValues(types.String, "x", "y"),
		vector.MustFromValues(types.Int64, int64(1), int64(2)),
		vector.MustFromValues(types.Float64, 3.5, nil),
	)
	m, err := plan.NewMelt(scanOf(t, b), []string{"id"}, []string{"a", "b"}, "", "")
	require.Nil(t, err)

	out := runPlan(t, m)
	wantID := vector.MustFromValues(types.String, "x", "y", "x", "y")
	wantVar := vector.MustFromValues(types.String, "a", "a", "b", "b")
	wantVal := vector.MustFromValues(types.Float64, 1.0, 2.0, 3.5, nil)
	assert.True(t, out.Column(0).Equal(wantID), out.String())
	assert.True(t, out.Column(1).Equal(wantVar), out.String())
	assert.True(t, out.Column(2).Equal(wantVal), out.String())
}

func TestExplodeRepeatsAndDrops(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("n")},
		vector.MustFromValues(types.String, "a", "b", "c", "d"),
		vector.MustFromValues(types.Int64, int64(2), int64(0), nil, int64(1)),
	)
	e, err := plan.NewExplode(scanOf(t, b), "n")
	require.Nil(t, err)

	out := runPlan(t, e)
	wantK := vector.MustFromValues(types.String, "a", "a", "d")
	assert.True(t, out.Column(0).Equal(wantK), out.String())
}

func TestWindowOverPartition(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "a", "b", "a", "b"),
		vector.MustFromValues(types.Int64, int64(1), int64(10), int64(2), int64(20)),
	)
	p, err := plan.NewProjection(scanOf(t, b), []expr.Expr{
		expr.Col("k"),
		expr.Col("v"),
		expr.As(expr.Over(expr.Sum(expr.Col("v")), expr.Col("k")), "total"),
	})
	require.Nil(t, err)

	out := runPlan(t, p)
	wantTotal := vector.MustFromValues(types.Int64, int64(3), int64(30), int64(3), int64(30))
	col, err := out.ColumnByName("total")
	require.Nil(t, err)
	assert.True(t, col.Equal(wantTotal), out.String())
	// row order and count unchanged
	wantV := vector.MustFromValues(types.Int64, int64(1), int64(10), int64(2), int64(20))
	assert.True(t, out.Column(1).Equal(wantV), out.String())
}

func TestCancelledContext(t *testing.T) {
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, int64(1)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultOpts()).Run(ctx, scanOf(t, b))
	assert.True(t, qerr.IsCancelled(err), err)
}

func TestMemoryLimitExceeded(t *testing.T) {
	vals := make([]interface{}, 1024)
	for i := range vals {
		vals[i] = int64(i)
	}
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, vals...),
	)
	ex := New(Opts{MemoryLimit: 64})
	_, err := ex.Run(context.Background(), scanOf(t, b))
	assert.True(t, qerr.IsExhausted(err), err)
}

func TestParallelFilterMatchesSequential(t *testing.T) {
	n := 10000
	vals := make([]interface{}, n)
	for i := range vals {
		vals[i] = int64(i)
	}
	b := batchOf(t, []types.Field{intField("a")},
		vector.MustFromValues(types.Int64, vals...),
	)
	f, err := plan.NewFilter(scanOf(t, b), expr.Eq(expr.Mod(expr.Col("a"), expr.Lit(2)), expr.Lit(0)))
	require.Nil(t, err)

	par, err := New(Opts{BatchSize: 256, Parallelism: 8}).Run(context.Background(), f)
	require.Nil(t, err)
	seq, err := New(Opts{BatchSize: n + 1, Parallelism: 1}).Run(context.Background(), f)
	require.Nil(t, err)
	assert.True(t, par.Equal(seq))
	assert.Equal(t, n/2, par.Len())
}
