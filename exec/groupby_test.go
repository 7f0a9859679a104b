package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func TestGroupByFirstSeenOrder(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "b", "a", "b", "c", "a"),
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4), int64(5)),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{expr.As(expr.Sum(expr.Col("v")), "total")},
	)
	require.Nil(t, err)

	out := runPlan(t, g)
	wantK := vector.MustFromValues(types.String, "b", "a", "c")
	wantT := vector.MustFromValues(types.Int64, int64(4), int64(7), int64(4))
	assert.True(t, out.Column(0).Equal(wantK), out.String())
	assert.True(t, out.Column(1).Equal(wantT), out.String())
}

func TestGroupByNullKeyIsAGroup(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "a", nil, "a", nil),
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4)),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{expr.As(expr.Sum(expr.Col("v")), "total")},
	)
	require.Nil(t, err)

	out := runPlan(t, g)
	require.Equal(t, 2, out.Len())
	wantK := vector.MustFromValues(types.String, "a", nil)
	wantT := vector.MustFromValues(types.Int64, int64(4), int64(6))
	assert.True(t, out.Column(0).Equal(wantK), out.String())
	assert.True(t, out.Column(1).Equal(wantT), out.String())
}

func TestGroupByNullHandlingPerAggregate(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "a", "a", "b"),
		vector.MustFromValues(types.Int64, int64(1), nil, nil),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{
			expr.As(expr.Sum(expr.Col("v")), "sum"),
			expr.As(expr.Count(expr.Col("v")), "cnt"),
			expr.As(expr.NUnique(expr.Col("v")), "uniq"),
			expr.As(expr.First(expr.Col("v")), "first"),
		},
	)
	require.Nil(t, err)

	out := runPlan(t, g)
	// group b is all null: sum null, count 0, n_unique counts null once
	wantSum := vector.MustFromValues(types.Int64, int64(1), nil)
	wantCnt := vector.MustFromValues(types.Int64, int64(1), int64(0))
	wantUniq := vector.MustFromValues(types.Int64, int64(2), int64(1))
	wantFirst := vector.MustFromValues(types.Int64, int64(1), nil)
	assert.True(t, out.Column(1).Equal(wantSum), out.String())
	assert.True(t, out.Column(2).Equal(wantCnt), out.String())
	assert.True(t, out.Column(3).Equal(wantUniq), out.String())
	assert.True(t, out.Column(4).Equal(wantFirst), out.String())
}

func TestGroupByMeanMinMax(t *testing.T) {
	b := batchOf(t, []types.Field{strField("k"), intField("v")},
		vector.MustFromValues(types.String, "a", "a", "a"),
		vector.MustFromValues(types.Int64, int64(3), int64(1), int64(2)),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{
			expr.As(expr.Mean(expr.Col("v")), "mean"),
			expr.As(expr.Min(expr.Col("v")), "min"),
			expr.As(expr.Max(expr.Col("v")), "max"),
			expr.As(expr.Last(expr.Col("v")), "last"),
		},
	)
	require.Nil(t, err)

	out := runPlan(t, g)
	assert.InDelta(t, 2.0, out.Column(1).Float64(0), 1e-9)
	assert.Equal(t, int64(1), out.Column(2).Int64(0))
	assert.Equal(t, int64(3), out.Column(3).Int64(0))
	assert.Equal(t, int64(2), out.Column(4).Int64(0))
}

func TestGroupByExpressionKey(t *testing.T) {
	b := batchOf(t, []types.Field{intField("v")},
		vector.MustFromValues(types.Int64, int64(1), int64(2), int64(3), int64(4)),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.As(expr.Mod(expr.Col("v"), expr.Lit(2)), "parity")},
		[]expr.Expr{expr.As(expr.Count(expr.Col("v")), "n")},
	)
	require.Nil(t, err)

	out := runPlan(t, g)
	wantK := vector.MustFromValues(types.Int64, int64(1), int64(0))
	wantN := vector.MustFromValues(types.Int64, int64(2), int64(2))
	assert.True(t, out.Column(0).Equal(wantK), out.String())
	assert.True(t, out.Column(1).Equal(wantN), out.String())
}

func TestGroupByParallelScatterMatchesSequential(t *testing.T) {
	n := 5000
	ks := make([]interface{}, n)
	vs := make([]interface{}, n)
	for i := 0; i < n; i++ {
		ks[i] = int64(i % 37)
		vs[i] = int64(i)
	}
	b := batchOf(t, []types.Field{intField("k"), intField("v")},
		vector.MustFromValues(types.Int64, ks...),
		vector.MustFromValues(types.Int64, vs...),
	)
	g, err := plan.NewGroupBy(scanOf(t, b),
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{
			expr.As(expr.Sum(expr.Col("v")), "sum"),
			expr.As(expr.Count(expr.Col("v")), "cnt"),
		},
	)
	require.Nil(t, err)

	par, err := New(Opts{BatchSize: 128, Parallelism: 8}).Run(context.Background(), g)
	require.Nil(t, err)
	seq, err := New(Opts{BatchSize: n + 1, Parallelism: 1}).Run(context.Background(), g)
	require.Nil(t, err)
	assert.True(t, par.Equal(seq))
	assert.Equal(t, 37, par.Len())
}
