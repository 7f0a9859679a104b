package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/types"
)

// projectionPushdownRule narrows every subtree to the columns its
// ancestors actually read, pushing the final column set into Scan
// nodes. Each rewritten node produces exactly the columns requested of
// it, so the plan's root schema is unchanged.
type projectionPushdownRule struct{}

func (projectionPushdownRule) Name() string { return "projection_pushdown" }

func (projectionPushdownRule) Apply(root plan.Node) (plan.Node, error) {
	return pruneColumns(root, root.Schema().Names())
}

// pruneColumns rewrites n to output exactly the required columns, in
// the given order. Operators that privately need more columns request
// them from their input and trim afterwards.
func pruneColumns(n plan.Node, required []string) (plan.Node, error) {
	if len(required) == 0 {
		// An operator above needs rows but no values; carry one column.
		required = n.Schema().Names()[:1]
	}
	switch t := n.(type) {
	case *plan.Scan:
		need := orderedNeed(t.Schema(), required, exprColumns(t.Predicate))
		if len(need) == t.Schema().Len() && t.Projection == nil {
			return t, nil
		}
		out, err := t.With(need, t.Predicate, t.Limit)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Filter:
		need := orderedNeed(t.Input.Schema(), required, exprColumns(t.Predicate))
		in, err := pruneColumns(t.Input, need)
		if err != nil {
			return nil, err
		}
		out, err := plan.NewFilter(in, t.Predicate)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Projection:
		keep := make([]expr.Expr, 0, len(required))
		wanted := nameSet(required)
		for _, e := range t.Exprs {
			if wanted[expr.OutputName(e)] {
				keep = append(keep, e)
			}
		}
		var cols [][]string
		for _, e := range keep {
			cols = append(cols, expr.RootColumns(e))
		}
		in, err := pruneColumns(t.Input, orderedNeed(t.Input.Schema(), cols...))
		if err != nil {
			return nil, err
		}
		return plan.NewProjection(in, keep)

	case *plan.Slice:
		in, err := pruneColumns(t.Input, required)
		if err != nil {
			return nil, err
		}
		return t.WithChildren([]plan.Node{in})

	case *plan.Sort:
		var keyCols [][]string
		for _, k := range t.Keys {
			keyCols = append(keyCols, expr.RootColumns(k))
		}
		need := orderedNeed(t.Input.Schema(), append([][]string{required}, keyCols...)...)
		in, err := pruneColumns(t.Input, need)
		if err != nil {
			return nil, err
		}
		out, err := plan.NewSort(in, t.Keys)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Distinct:
		if t.Subset == nil {
			// Distinct over all columns; dropping any would merge rows.
			in, err := pruneColumns(t.Input, t.Input.Schema().Names())
			if err != nil {
				return nil, err
			}
			out, err := t.WithChildren([]plan.Node{in})
			if err != nil {
				return nil, err
			}
			return trimTo(out, required)
		}
		need := orderedNeed(t.Input.Schema(), required, t.Subset)
		in, err := pruneColumns(t.Input, need)
		if err != nil {
			return nil, err
		}
		out, err := plan.NewDistinct(in, t.Subset)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Union:
		inputs := make([]plan.Node, len(t.Inputs))
		for i, in := range t.Inputs {
			ni, err := pruneColumns(in, required)
			if err != nil {
				return nil, err
			}
			inputs[i] = ni
		}
		return plan.NewUnion(inputs)

	case *plan.Explode:
		need := orderedNeed(t.Input.Schema(), required, []string{t.Counts})
		in, err := pruneColumns(t.Input, need)
		if err != nil {
			return nil, err
		}
		out, err := plan.NewExplode(in, t.Counts)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Melt:
		need := orderedNeed(t.Input.Schema(), t.IDVars, t.ValueVars)
		in, err := pruneColumns(t.Input, need)
		if err != nil {
			return nil, err
		}
		out, err := plan.NewMelt(in, t.IDVars, t.ValueVars, t.VarName, t.ValueName)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.GroupBy:
		// Keys always survive, they define the groups; unused aggregates
		// are dropped.
		wanted := nameSet(required)
		aggs := make([]expr.Expr, 0, len(t.Aggs))
		for _, a := range t.Aggs {
			if wanted[expr.OutputName(a)] {
				aggs = append(aggs, a)
			}
		}
		cols := [][]string{}
		for _, k := range t.Keys {
			cols = append(cols, expr.RootColumns(k))
		}
		for _, a := range aggs {
			cols = append(cols, expr.RootColumns(a))
		}
		in, err := pruneColumns(t.Input, orderedNeed(t.Input.Schema(), cols...))
		if err != nil {
			return nil, err
		}
		out, err := plan.NewGroupBy(in, t.Keys, aggs)
		if err != nil {
			return nil, err
		}
		return trimTo(out, required)

	case *plan.Join:
		return pruneJoin(t, required)

	default:
		return n, nil
	}
}

func pruneJoin(j *plan.Join, required []string) (plan.Node, error) {
	rightRename := rightOutputNames(j)
	leftSchema := j.Left.Schema()

	var leftReq, rightReq []string
	for _, name := range required {
		if leftSchema.Has(name) {
			leftReq = append(leftReq, name)
		} else if orig, ok := rightRename[name]; ok {
			rightReq = append(rightReq, orig)
		}
	}

	// Keep every right column a kept right output maps from, plus keys.
	var rightKeys, leftKeys []string
	for i := range j.LeftOn {
		leftKeys = append(leftKeys, j.LeftOn[i].Name)
		rightKeys = append(rightKeys, j.RightOn[i].Name)
	}
	rightNeed := orderedNeed(j.Right.Schema(), rightReq, rightKeys)

	// Suffixing depends on left names; keep colliding left columns so
	// kept right outputs keep their names.
	var collisions []string
	for _, name := range rightNeed {
		if leftSchema.Has(name) {
			collisions = append(collisions, name)
		}
	}
	leftNeed := orderedNeed(leftSchema, leftReq, leftKeys, collisions)

	left, err := pruneColumns(j.Left, leftNeed)
	if err != nil {
		return nil, err
	}
	right, err := pruneColumns(j.Right, rightNeed)
	if err != nil {
		return nil, err
	}
	out, err := j.WithChildren([]plan.Node{left, right})
	if err != nil {
		return nil, err
	}
	return trimTo(out, required)
}

// trimTo adds a column projection when n carries more than required.
func trimTo(n plan.Node, required []string) (plan.Node, error) {
	names := n.Schema().Names()
	if len(names) == len(required) {
		same := true
		for i := range names {
			if names[i] != required[i] {
				same = false
				break
			}
		}
		if same {
			return n, nil
		}
	}
	exprs := make([]expr.Expr, len(required))
	for i, name := range required {
		exprs[i] = expr.Col(name)
	}
	return plan.NewProjection(n, exprs)
}

// orderedNeed unions column name sets, deduped, in schema order.
func orderedNeed(schema *types.Schema, sets ...[]string) []string {
	want := map[string]bool{}
	for _, s := range sets {
		for _, name := range s {
			want[name] = true
		}
	}
	var out []string
	for _, name := range schema.Names() {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}

func exprColumns(e expr.Expr) []string {
	if e == nil {
		return nil
	}
	return expr.RootColumns(e)
}
