package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
)

// joinOptRule rewrites a filter over a cross join into an equality
// join when the filter carries column-equality conjuncts spanning both
// sides, and picks the hash join build side from cardinality
// estimates.
type joinOptRule struct{}

func (joinOptRule) Name() string { return "join_optimization" }

func (joinOptRule) Apply(root plan.Node) (plan.Node, error) {
	return rewriteUp(root, func(n plan.Node) (plan.Node, error) {
		if f, ok := n.(*plan.Filter); ok {
			if j, ok := f.Input.(*plan.Join); ok && j.Kind == plan.CrossJoin {
				out, rewritten, err := crossToEqui(f, j)
				if err != nil {
					return nil, err
				}
				if rewritten {
					return out, nil
				}
			}
		}
		if j, ok := n.(*plan.Join); ok {
			return chooseBuildSide(j), nil
		}
		return n, nil
	})
}

// crossToEqui extracts conjuncts of the form left_col == right_col and
// turns the cross join into an inner join keyed on them. Remaining
// conjuncts stay as a filter above.
func crossToEqui(f *plan.Filter, j *plan.Join) (plan.Node, bool, error) {
	leftNames := nameSet(j.Left.Schema().Names())
	rightRename := rightOutputNames(j)

	var leftOn, rightOn []*expr.Column
	var rest []expr.Expr
	for _, c := range splitConjuncts(f.Predicate) {
		l, r, ok := equiPair(c, leftNames, rightRename)
		if !ok {
			rest = append(rest, c)
			continue
		}
		leftOn = append(leftOn, l)
		rightOn = append(rightOn, r)
	}
	if len(leftOn) == 0 {
		return nil, false, nil
	}

	// Keeping the right keys preserves the cross join's output columns.
	inner, err := plan.NewJoinKeepingRightKeys(j.Left, j.Right, plan.InnerJoin, leftOn, rightOn)
	if err != nil {
		// Key types may not match exactly; leave the cross join alone.
		return nil, false, nil
	}
	out := chooseBuildSide(inner)
	if len(rest) == 0 {
		return out, true, nil
	}
	wrapped, err := plan.NewFilter(out, conjoin(rest))
	if err != nil {
		return nil, false, err
	}
	return wrapped, true, nil
}

// equiPair matches col == col with one column per join side.
func equiPair(c expr.Expr, leftNames map[string]bool, rightRename map[string]string) (*expr.Column, *expr.Column, bool) {
	b, ok := c.(*expr.BinaryExpr)
	if !ok || b.Op != expr.OpEq {
		return nil, nil, false
	}
	lc, ok := b.Left.(*expr.Column)
	if !ok {
		return nil, nil, false
	}
	rc, ok := b.Right.(*expr.Column)
	if !ok {
		return nil, nil, false
	}
	if leftNames[lc.Name] {
		if orig, ok := rightRename[rc.Name]; ok && !leftNames[rc.Name] {
			return lc, expr.Col(orig), true
		}
		return nil, nil, false
	}
	if orig, ok := rightRename[lc.Name]; ok && leftNames[rc.Name] {
		return rc, expr.Col(orig), true
	}
	return nil, nil, false
}

// chooseBuildSide marks the smaller estimated input as the hash build
// side. Only inner joins can build from either side; the other kinds
// keep the right-side build.
func chooseBuildSide(j *plan.Join) *plan.Join {
	if j.Kind != plan.InnerJoin {
		return j
	}
	le, re := estimateRows(j.Left), estimateRows(j.Right)
	if le >= 0 && re >= 0 && le < re && !j.BuildLeft {
		out := *j
		out.BuildLeft = true
		return &out
	}
	return j
}

// estimateRows gives an upper-bound row estimate, -1 when unknown.
func estimateRows(n plan.Node) int64 {
	switch t := n.(type) {
	case *plan.Scan:
		est := t.Src.EstimatedRows()
		if t.Limit >= 0 && (est < 0 || t.Limit < est) {
			est = t.Limit
		}
		return est
	case *plan.Slice:
		in := estimateRows(t.Input)
		if t.Len >= 0 && (in < 0 || t.Len < in) {
			return t.Len
		}
		return in
	case *plan.Filter:
		return estimateRows(t.Input)
	case *plan.Projection:
		return estimateRows(t.Input)
	case *plan.Sort:
		return estimateRows(t.Input)
	case *plan.Distinct:
		return estimateRows(t.Input)
	case *plan.Union:
		var sum int64
		for _, in := range t.Inputs {
			e := estimateRows(in)
			if e < 0 {
				return -1
			}
			sum += e
		}
		return sum
	default:
		return -1
	}
}
