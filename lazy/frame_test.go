package lazy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func table(t *testing.T, fields []types.Field, cols ...*vector.Vector) *vector.Batch {
	t.Helper()
	schema, err := types.NewSchema(fields...)
	require.Nil(t, err)
	b, err := vector.NewBatch(schema, cols)
	require.Nil(t, err)
	return b
}

func intField(name string) types.Field { return types.Field{Name: name, Type: types.Int64} }
func strField(name string) types.Field { return types.Field{Name: name, Type: types.String} }

func sales(t *testing.T) *vector.Batch {
	t.Helper()
	return table(t, []types.Field{strField("region"), intField("qty"), intField("price")},
		vector.MustFromValues(types.String, "east", "west", "east", "north", "west", "east"),
		vector.MustFromValues(types.Int64, int64(2), int64(5), int64(1), int64(4), int64(3), int64(6)),
		vector.MustFromValues(types.Int64, int64(10), int64(20), int64(30), int64(40), int64(50), int64(60)),
	)
}

func TestCollectEndToEnd(t *testing.T) {
	out, err := FromBatch(sales(t)).
		WithColumns(expr.As(expr.Mul(expr.Col("qty"), expr.Col("price")), "revenue")).
		Filter(expr.Gt(expr.Col("revenue"), expr.Lit(30))).
		GroupBy(expr.Col("region")).
		Agg(expr.As(expr.Sum(expr.Col("revenue")), "total")).
		Sort(expr.Desc(expr.Col("total"))).
		Collect(context.Background())
	require.Nil(t, err)

	assert.Equal(t, []string{"region", "total"}, out.Schema().Names())
	wantRegion := vector.MustFromValues(types.String, "east", "west", "north")
	wantTotal := vector.MustFromValues(types.Int64, int64(360), int64(250), int64(160))
	assert.True(t, out.Column(0).Equal(wantRegion), out.String())
	assert.True(t, out.Column(1).Equal(wantTotal), out.String())
}

func TestBuilderErrorDefersToCollect(t *testing.T) {
	f := FromBatch(sales(t)).
		Filter(expr.Gt(expr.Col("missing"), expr.Lit(1))).
		Limit(3) // chaining past the error is fine

	_, err := f.Collect(context.Background())
	assert.True(t, qerr.IsSchema(err), err)
	assert.Equal(t, err, f.Err())
}

func TestWithColumnsReplacesInPlace(t *testing.T) {
	out, err := FromBatch(sales(t)).
		WithColumns(expr.As(expr.Mul(expr.Col("qty"), expr.Lit(10)), "qty")).
		Collect(context.Background())
	require.Nil(t, err)

	assert.Equal(t, []string{"region", "qty", "price"}, out.Schema().Names())
	want := vector.MustFromValues(types.Int64, int64(20), int64(50), int64(10), int64(40), int64(30), int64(60))
	assert.True(t, out.Column(1).Equal(want), out.String())
}

func TestHeadAndDistinct(t *testing.T) {
	out, err := FromBatch(sales(t)).
		Distinct("region").
		Head(2).
		Collect(context.Background())
	require.Nil(t, err)
	want := vector.MustFromValues(types.String, "east", "west")
	assert.True(t, out.Column(0).Equal(want), out.String())
}

func TestJoinFluent(t *testing.T) {
	regions := table(t, []types.Field{strField("region"), strField("mgr")},
		vector.MustFromValues(types.String, "east", "west"),
		vector.MustFromValues(types.String, "ann", "bob"),
	)
	out, err := FromBatch(sales(t)).
		Join(FromBatch(regions), plan.InnerJoin,
			[]*expr.Column{expr.Col("region")}, []*expr.Column{expr.Col("region")}).
		GroupBy(expr.Col("mgr")).
		Agg(expr.As(expr.Count(expr.Col("qty")), "n")).
		Collect(context.Background())
	require.Nil(t, err)

	wantMgr := vector.MustFromValues(types.String, "ann", "bob")
	wantN := vector.MustFromValues(types.Int64, int64(3), int64(2))
	assert.True(t, out.Column(0).Equal(wantMgr), out.String())
	assert.True(t, out.Column(1).Equal(wantN), out.String())
}

func TestUnionAndMelt(t *testing.T) {
	half := table(t, []types.Field{intField("a"), intField("b")},
		vector.MustFromValues(types.Int64, int64(1)),
		vector.MustFromValues(types.Int64, int64(2)),
	)
	out, err := FromBatch(half).
		Union(FromBatch(half)).
		Melt(nil, []string{"a", "b"}).
		Collect(context.Background())
	require.Nil(t, err)

	assert.Equal(t, []string{"variable", "value"}, out.Schema().Names())
	assert.Equal(t, 4, out.Len())
}

func TestOptimizerTogglesPreserveResults(t *testing.T) {
	build := func() *Frame {
		return FromBatch(sales(t)).
			Filter(expr.Gt(expr.Col("price"), expr.Lit(15))).
			Select(
				expr.Col("region"),
				expr.As(expr.Add(expr.Col("qty"), expr.Mul(expr.Col("qty"), expr.Col("price"))), "x"),
				expr.As(expr.Mul(expr.Col("qty"), expr.Col("price")), "y"),
			).
			Limit(3)
	}

	full, err := build().Collect(context.Background())
	require.Nil(t, err)

	variants := [][]Option{
		{WithoutOptimization()},
		{WithPredicatePushdown(false)},
		{WithProjectionPushdown(false)},
		{WithSlicePushdown(false)},
		{WithCSE(false)},
		{WithParallel(false)},
		{WithBatchSize(2)},
	}
	for _, opts := range variants {
		out, err := build().Collect(context.Background(), opts...)
		require.Nil(t, err)
		assert.True(t, out.Equal(full), out.String())
	}
}

func TestStreamingCollectMatchesInMemory(t *testing.T) {
	build := func() *Frame {
		return FromBatch(sales(t)).
			Filter(expr.Gt(expr.Col("qty"), expr.Lit(1))).
			GroupBy(expr.Col("region")).
			Agg(expr.As(expr.Sum(expr.Col("price")), "total"))
	}

	mem, err := build().Collect(context.Background())
	require.Nil(t, err)
	streamed, err := build().Collect(context.Background(), WithStreaming(true), WithBatchSize(2))
	require.Nil(t, err)
	assert.True(t, streamed.Equal(mem), streamed.String())
}

func TestStreamYieldsIncrementalMorsels(t *testing.T) {
	f := FromBatch(sales(t)).Select(expr.Col("qty"))
	p, err := f.Stream(context.Background(), WithBatchSize(2))
	require.Nil(t, err)

	schema, err := f.Schema()
	require.Nil(t, err)
	out := vector.Empty(schema)
	morsels := 0
	for {
		b, err := p.Next(context.Background())
		require.Nil(t, err)
		if b == nil {
			break
		}
		morsels++
		require.Nil(t, out.Append(b))
	}
	assert.Equal(t, 3, morsels)
	assert.Equal(t, 6, out.Len())
}

func TestExplainShowsPushdown(t *testing.T) {
	f := FromBatch(sales(t)).
		Filter(expr.Gt(expr.Col("qty"), expr.Lit(3))).
		Select(expr.Col("qty"))

	optimized, err := f.Explain()
	require.Nil(t, err)
	assert.Contains(t, optimized, "Scan [project=")
	assert.Contains(t, optimized, "predicate=")

	raw, err := f.Explain(WithoutOptimization())
	require.Nil(t, err)
	assert.Contains(t, raw, "Filter")

	phys, err := f.ExplainPhysical()
	require.Nil(t, err)
	assert.Contains(t, phys, "[streaming]")
}

func TestLoadOptsFromEnv(t *testing.T) {
	t.Setenv("VIREO_BATCH_SIZE", "128")
	t.Setenv("VIREO_STREAMING", "true")
	t.Setenv("VIREO_OPTIMIZER_CSE", "false")

	opts, err := LoadOpts("")
	require.Nil(t, err)
	assert.Equal(t, 128, opts.BatchSize)
	assert.True(t, opts.Streaming)
	assert.False(t, opts.Optimizer.CSE)
	assert.True(t, opts.Optimizer.PredicatePushdown)
}

func TestLoadOptsMissingFile(t *testing.T) {
	_, err := LoadOpts("/nonexistent/vireo.yaml")
	assert.NotNil(t, err)
}
