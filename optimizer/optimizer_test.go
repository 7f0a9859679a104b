package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
	"github.com/vireodb/vireo/vector"
)

func emptyScan(t *testing.T, fields ...types.Field) *plan.Scan {
	t.Helper()
	schema, err := types.NewSchema(fields...)
	require.Nil(t, err)
	s, err := plan.NewScan(source.NewInMemory(vector.Empty(schema)))
	require.Nil(t, err)
	return s
}

func dataScan(t *testing.T, name string, vals ...interface{}) *plan.Scan {
	t.Helper()
	schema := types.MustSchema(types.Field{Name: name, Type: types.Int64})
	col, err := vector.FromValues(types.Int64, vals...)
	require.Nil(t, err)
	b, err := vector.NewBatch(schema, []*vector.Vector{col})
	require.Nil(t, err)
	s, err := plan.NewScan(source.NewInMemory(b))
	require.Nil(t, err)
	return s
}

func TestCoercionInsertsCast(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Float64},
	)
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Col("b")))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{TypeCoercion: true})
	require.Nil(t, err)
	assert.Contains(t, plan.Explain(out), ".cast(f64)")
}

func TestSimplifyFoldsConstants(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	p, err := plan.NewProjection(scan, []expr.Expr{
		expr.As(expr.Add(expr.Lit(1), expr.Lit(2)), "x"),
	})
	require.Nil(t, err)

	out, err := Optimize(p, Opts{Simplify: true})
	require.Nil(t, err)
	assert.Contains(t, plan.Explain(out), "3:i64")
	assert.True(t, out.Schema().Equal(p.Schema()))
}

func TestSimplifyBooleanIdentities(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	pred := expr.And(expr.Gt(expr.Col("a"), expr.Lit(1)), expr.Lit(true))
	f, err := plan.NewFilter(scan, pred)
	require.Nil(t, err)

	out, err := Optimize(f, Opts{Simplify: true})
	require.Nil(t, err)
	of, ok := out.(*plan.Filter)
	require.True(t, ok)
	assert.True(t, expr.Equal(of.Predicate, expr.Gt(expr.Col("a"), expr.Lit(1))))
}

func TestPredicatePushdownIntoScan(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	os, ok := out.(*plan.Scan)
	require.True(t, ok)
	require.NotNil(t, os.Predicate)
}

func TestPredicatePushdownMergesConjuncts(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	f1, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)
	f2, err := plan.NewFilter(f1, expr.Lt(expr.Col("b"), expr.Lit(5)))
	require.Nil(t, err)

	out, err := Optimize(f2, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	os, ok := out.(*plan.Scan)
	require.True(t, ok)
	assert.Len(t, splitConjuncts(os.Predicate), 2)
}

func TestPredicatePushdownThroughProjectionRename(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	p, err := plan.NewProjection(scan, []expr.Expr{expr.As(expr.Col("a"), "renamed")})
	require.Nil(t, err)
	f, err := plan.NewFilter(p, expr.Gt(expr.Col("renamed"), expr.Lit(1)))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	op, ok := out.(*plan.Projection)
	require.True(t, ok)
	os, ok := op.Children()[0].(*plan.Scan)
	require.True(t, ok)
	require.NotNil(t, os.Predicate)
	assert.Equal(t, []string{"a"}, expr.RootColumns(os.Predicate))
}

func TestPredicatePushdownJoinSides(t *testing.T) {
	left := emptyScan(t,
		types.Field{Name: "id", Type: types.Int64},
		types.Field{Name: "a", Type: types.Int64},
	)
	right := emptyScan(t,
		types.Field{Name: "id", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	j, err := plan.NewJoin(left, right, plan.InnerJoin,
		[]*expr.Column{expr.Col("id")}, []*expr.Column{expr.Col("id")})
	require.Nil(t, err)
	pred := expr.And(
		expr.Gt(expr.Col("a"), expr.Lit(1)),
		expr.Lt(expr.Col("b"), expr.Lit(5)),
	)
	f, err := plan.NewFilter(j, pred)
	require.Nil(t, err)

	out, err := Optimize(f, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	oj, ok := out.(*plan.Join)
	require.True(t, ok)
	ls, ok := oj.Left.(*plan.Scan)
	require.True(t, ok)
	rs, ok := oj.Right.(*plan.Scan)
	require.True(t, ok)
	assert.NotNil(t, ls.Predicate)
	assert.NotNil(t, rs.Predicate)
}

func TestPredicateStaysAboveNullProducingSide(t *testing.T) {
	left := emptyScan(t, types.Field{Name: "id", Type: types.Int64})
	right := emptyScan(t,
		types.Field{Name: "id", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	j, err := plan.NewJoin(left, right, plan.LeftJoin,
		[]*expr.Column{expr.Col("id")}, []*expr.Column{expr.Col("id")})
	require.Nil(t, err)
	f, err := plan.NewFilter(j, expr.Lt(expr.Col("b"), expr.Lit(5)))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	_, ok := out.(*plan.Filter)
	assert.True(t, ok) // right side can be null-padded, no push
}

func TestPredicateNotPushedBelowSlice(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	s, err := plan.NewSlice(scan, 0, 10)
	require.Nil(t, err)
	f, err := plan.NewFilter(s, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{PredicatePushdown: true})
	require.Nil(t, err)
	of, ok := out.(*plan.Filter)
	require.True(t, ok)
	_, ok = of.Input.(*plan.Slice)
	assert.True(t, ok)
}

func TestProjectionPushdownIntoScan(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
		types.Field{Name: "c", Type: types.Int64},
	)
	p, err := plan.NewProjection(scan, []expr.Expr{expr.Col("a")})
	require.Nil(t, err)

	out, err := Optimize(p, Opts{ProjectionPushdown: true})
	require.Nil(t, err)
	op, ok := out.(*plan.Projection)
	require.True(t, ok)
	os, ok := op.Children()[0].(*plan.Scan)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, os.Projection)
	assert.True(t, out.Schema().Equal(p.Schema()))
}

func TestProjectionPushdownKeepsPredicateColumns(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("b"), expr.Lit(1)))
	require.Nil(t, err)
	p, err := plan.NewProjection(f, []expr.Expr{expr.Col("a")})
	require.Nil(t, err)

	out, err := Optimize(p, Opts{ProjectionPushdown: true})
	require.Nil(t, err)
	// b is still scanned for the filter, then trimmed away
	assert.Equal(t, []string{"a"}, out.Schema().Names())
	var scanned []string
	walkPlan(out, func(n plan.Node) {
		if s, ok := n.(*plan.Scan); ok {
			scanned = s.Schema().Names()
		}
	})
	assert.Equal(t, []string{"a", "b"}, scanned)
}

func TestProjectionPushdownRootSchemaUnchanged(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Lit(0)))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{ProjectionPushdown: true})
	require.Nil(t, err)
	assert.True(t, out.Schema().Equal(f.Schema()))
}

func TestSlicePushdownIntoScanLimit(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	s, err := plan.NewSlice(scan, 0, 10)
	require.Nil(t, err)

	out, err := Optimize(s, Opts{SlicePushdown: true})
	require.Nil(t, err)
	os, ok := out.(*plan.Scan)
	require.True(t, ok)
	assert.Equal(t, int64(10), os.Limit)
}

func TestSlicePushdownComposesNestedSlices(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	inner, err := plan.NewSlice(scan, 1, 10)
	require.Nil(t, err)
	outer, err := plan.NewSlice(inner, 2, 5)
	require.Nil(t, err)

	out, err := Optimize(outer, Opts{SlicePushdown: true})
	require.Nil(t, err)
	os, ok := out.(*plan.Slice)
	require.True(t, ok)
	assert.Equal(t, int64(3), os.Offset)
	assert.Equal(t, int64(5), os.Len)
	sc, ok := os.Input.(*plan.Scan)
	require.True(t, ok)
	assert.Equal(t, int64(8), sc.Limit)
}

func TestSlicePushdownThroughProjection(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	p, err := plan.NewProjection(scan, []expr.Expr{
		expr.As(expr.Add(expr.Col("a"), expr.Lit(1)), "a1"),
	})
	require.Nil(t, err)
	s, err := plan.NewSlice(p, 0, 4)
	require.Nil(t, err)

	out, err := Optimize(s, Opts{SlicePushdown: true})
	require.Nil(t, err)
	op, ok := out.(*plan.Projection)
	require.True(t, ok)
	sc, ok := op.Children()[0].(*plan.Scan)
	require.True(t, ok)
	assert.Equal(t, int64(4), sc.Limit)
}

func TestSliceStaysAboveFilter(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	f, err := plan.NewFilter(scan, expr.Gt(expr.Col("a"), expr.Lit(1)))
	require.Nil(t, err)
	s, err := plan.NewSlice(f, 0, 10)
	require.Nil(t, err)

	out, err := Optimize(s, Opts{SlicePushdown: true})
	require.Nil(t, err)
	os, ok := out.(*plan.Slice)
	require.True(t, ok)
	_, ok = os.Input.(*plan.Filter)
	assert.True(t, ok)
}

func TestCSEFactorsSharedSubexpression(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "a", Type: types.Int64},
		types.Field{Name: "b", Type: types.Int64},
	)
	shared := expr.Add(expr.Col("a"), expr.Col("b"))
	p, err := plan.NewProjection(scan, []expr.Expr{
		expr.As(expr.Mul(shared, expr.Lit(2)), "x"),
		expr.As(expr.Add(shared, expr.Lit(1)), "y"),
	})
	require.Nil(t, err)

	out, err := Optimize(p, Opts{CSE: true})
	require.Nil(t, err)
	upper, ok := out.(*plan.Projection)
	require.True(t, ok)
	lower, ok := upper.Children()[0].(*plan.Projection)
	require.True(t, ok)
	assert.True(t, lower.Schema().Has(csePrefix+"0"))
	assert.Equal(t, []string{"x", "y"}, upper.Schema().Names())
}

func TestCSELeavesUniqueExpressionsAlone(t *testing.T) {
	scan := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	p, err := plan.NewProjection(scan, []expr.Expr{
		expr.As(expr.Add(expr.Col("a"), expr.Lit(1)), "x"),
	})
	require.Nil(t, err)

	out, err := Optimize(p, Opts{CSE: true})
	require.Nil(t, err)
	assert.Same(t, p, out.(*plan.Projection))
}

func TestCrossJoinRewrittenToEquiJoin(t *testing.T) {
	left := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	right := emptyScan(t, types.Field{Name: "b", Type: types.Int64})
	cross, err := plan.NewJoin(left, right, plan.CrossJoin, nil, nil)
	require.Nil(t, err)
	f, err := plan.NewFilter(cross, expr.Eq(expr.Col("a"), expr.Col("b")))
	require.Nil(t, err)

	out, err := Optimize(f, Opts{JoinOpt: true})
	require.Nil(t, err)
	oj, ok := out.(*plan.Join)
	require.True(t, ok)
	assert.Equal(t, plan.InnerJoin, oj.Kind)
	assert.True(t, oj.KeepRightKeys)
	assert.True(t, out.Schema().Equal(f.Schema()))
}

func TestCrossJoinRewriteKeepsResidualFilter(t *testing.T) {
	left := emptyScan(t, types.Field{Name: "a", Type: types.Int64})
	right := emptyScan(t, types.Field{Name: "b", Type: types.Int64})
	cross, err := plan.NewJoin(left, right, plan.CrossJoin, nil, nil)
	require.Nil(t, err)
	pred := expr.And(
		expr.Eq(expr.Col("a"), expr.Col("b")),
		expr.Gt(expr.Add(expr.Col("a"), expr.Col("b")), expr.Lit(0)),
	)
	f, err := plan.NewFilter(cross, pred)
	require.Nil(t, err)

	out, err := Optimize(f, Opts{JoinOpt: true})
	require.Nil(t, err)
	of, ok := out.(*plan.Filter)
	require.True(t, ok)
	_, ok = of.Input.(*plan.Join)
	assert.True(t, ok)
}

func TestBuildSideFollowsCardinality(t *testing.T) {
	small := dataScan(t, "id", int64(1))
	big := dataScan(t, "id", int64(1), int64(2), int64(3), int64(4))
	j, err := plan.NewJoin(small, big, plan.InnerJoin,
		[]*expr.Column{expr.Col("id")}, []*expr.Column{expr.Col("id")})
	require.Nil(t, err)

	out, err := Optimize(j, Opts{JoinOpt: true})
	require.Nil(t, err)
	assert.True(t, out.(*plan.Join).BuildLeft)

	flipped, err := plan.NewJoin(big, small, plan.InnerJoin,
		[]*expr.Column{expr.Col("id")}, []*expr.Column{expr.Col("id")})
	require.Nil(t, err)
	out, err = Optimize(flipped, Opts{JoinOpt: true})
	require.Nil(t, err)
	assert.False(t, out.(*plan.Join).BuildLeft)
}

func TestFullPipelinePreservesSchema(t *testing.T) {
	scan := emptyScan(t,
		types.Field{Name: "k", Type: types.String},
		types.Field{Name: "v", Type: types.Int64},
		types.Field{Name: "w", Type: types.Float64},
	)
	f, err := plan.NewFilter(scan, expr.And(
		expr.Gt(expr.Col("v"), expr.Lit(0)),
		expr.Lit(true),
	))
	require.Nil(t, err)
	g, err := plan.NewGroupBy(f,
		[]expr.Expr{expr.Col("k")},
		[]expr.Expr{expr.As(expr.Sum(expr.Col("v")), "total")},
	)
	require.Nil(t, err)
	s, err := plan.NewSlice(g, 0, 100)
	require.Nil(t, err)

	out, err := Optimize(s, DefaultOpts())
	require.Nil(t, err)
	assert.True(t, out.Schema().Equal(s.Schema()))
}

func walkPlan(n plan.Node, f func(plan.Node)) {
	f(n)
	for _, c := range n.Children() {
		walkPlan(c, f)
	}
}
