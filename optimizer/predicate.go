package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
)

// predicatePushdownRule moves filter conjuncts toward the leaves.
// Filters dissolve into conjuncts that descend independently; a
// conjunct stops at the first operator it cannot safely cross and is
// re-wrapped in a Filter there. Conjuncts that reach a Scan are
// absorbed into its pushed predicate.
type predicatePushdownRule struct{}

func (predicatePushdownRule) Name() string { return "predicate_pushdown" }

func (predicatePushdownRule) Apply(root plan.Node) (plan.Node, error) {
	return pushPredicates(root, nil)
}

// pushPredicates rewrites n with preds applied to its output, placing
// each conjunct as low as it can safely go.
func pushPredicates(n plan.Node, preds []expr.Expr) (plan.Node, error) {
	switch t := n.(type) {
	case *plan.Filter:
		// Impure conjuncts must not change their call site; they stay
		// pinned where the filter stood.
		movable, pinned := partition(splitConjuncts(t.Predicate), expr.IsPure)
		in, err := pushPredicates(t.Input, append(movable, preds...))
		if err != nil {
			return nil, err
		}
		return wrapFilter(in, pinned)

	case *plan.Scan:
		if t.Limit >= 0 {
			// A pushed limit applies after the pushed predicate; adding
			// conjuncts beneath an already-pushed limit would change
			// which rows it counts.
			return wrapFilter(t, preds)
		}
		if len(preds) == 0 {
			return t, nil
		}
		all := preds
		if t.Predicate != nil {
			all = append(splitConjuncts(t.Predicate), preds...)
		}
		return t.With(t.Projection, conjoin(all), t.Limit)

	case *plan.Projection:
		if t.HasWindow() {
			// Window results depend on the full input; filtering first
			// would change them.
			return pushThrough(t, preds, nil)
		}
		return pushThrough(t, preds, passThroughColumns(t.Exprs))

	case *plan.Sort:
		in, err := pushPredicates(t.Input, preds)
		if err != nil {
			return nil, err
		}
		return t.WithChildren([]plan.Node{in})

	case *plan.Explode:
		// Exploding only repeats rows; a filter sees the same values on
		// every copy.
		in, err := pushPredicates(t.Input, preds)
		if err != nil {
			return nil, err
		}
		return t.WithChildren([]plan.Node{in})

	case *plan.Union:
		inputs := make([]plan.Node, len(t.Inputs))
		for i, in := range t.Inputs {
			ni, err := pushPredicates(in, preds)
			if err != nil {
				return nil, err
			}
			inputs[i] = ni
		}
		return plan.NewUnion(inputs)

	case *plan.Distinct:
		// Filtering on non-key columns before distinct could discard
		// the first row of a group that survives after it.
		keyed := nameSet(distinctKeys(t))
		push, keep := partition(preds, func(e expr.Expr) bool {
			return referencesOnly(e, keyed)
		})
		in, err := pushPredicates(t.Input, push)
		if err != nil {
			return nil, err
		}
		out, err := t.WithChildren([]plan.Node{in})
		if err != nil {
			return nil, err
		}
		return wrapFilter(out, keep)

	case *plan.GroupBy:
		return pushThrough(t, preds, passThroughColumns(t.Keys))

	case *plan.Melt:
		idents := make(map[string]string, len(t.IDVars))
		for _, name := range t.IDVars {
			idents[name] = name
		}
		return pushThrough(t, preds, idents)

	case *plan.Join:
		return pushJoin(t, preds)

	default:
		// Slice and anything unrecognized: rewrite below, keep preds here.
		children := t.Children()
		next := make([]plan.Node, len(children))
		for i, c := range children {
			nc, err := pushPredicates(c, nil)
			if err != nil {
				return nil, err
			}
			next[i] = nc
		}
		out := n
		if len(children) > 0 {
			var err error
			out, err = n.WithChildren(next)
			if err != nil {
				return nil, err
			}
		}
		return wrapFilter(out, preds)
	}
}

// pushThrough descends the conjuncts whose columns all map through
// rename to an input column, rewriting names on the way down. A nil
// rename map pushes nothing.
func pushThrough(n plan.Node, preds []expr.Expr, rename map[string]string) (plan.Node, error) {
	var push, keep []expr.Expr
	for _, p := range preds {
		if rename != nil && renameable(p, rename) {
			push = append(push, renameColumns(p, rename))
		} else {
			keep = append(keep, p)
		}
	}
	in, err := pushPredicates(n.Children()[0], push)
	if err != nil {
		return nil, err
	}
	out, err := n.WithChildren([]plan.Node{in})
	if err != nil {
		return nil, err
	}
	return wrapFilter(out, keep)
}

func pushJoin(j *plan.Join, preds []expr.Expr) (plan.Node, error) {
	leftNames := nameSet(j.Left.Schema().Names())
	rightRename := rightOutputNames(j)

	var pushLeft, pushRight, keep []expr.Expr
	for _, p := range preds {
		switch {
		case !j.IntroducesNullsFor(true) && referencesOnly(p, leftNames):
			pushLeft = append(pushLeft, p)
		case !j.IntroducesNullsFor(false) && renameable(p, rightRename):
			pushRight = append(pushRight, renameColumns(p, rightRename))
		default:
			keep = append(keep, p)
		}
	}

	left, err := pushPredicates(j.Left, pushLeft)
	if err != nil {
		return nil, err
	}
	right, err := pushPredicates(j.Right, pushRight)
	if err != nil {
		return nil, err
	}
	out, err := j.WithChildren([]plan.Node{left, right})
	if err != nil {
		return nil, err
	}
	return wrapFilter(out, keep)
}

// rightOutputNames maps a join's output column names back to the right
// input's column names, accounting for dropped keys and suffixing.
func rightOutputNames(j *plan.Join) map[string]string {
	if j.Kind == plan.SemiJoin || j.Kind == plan.AntiJoin {
		return nil
	}
	dropped := map[string]bool{}
	if j.Kind != plan.CrossJoin && j.Kind != plan.OuterJoin && !j.KeepRightKeys {
		for _, c := range j.RightOn {
			dropped[c.Name] = true
		}
	}
	out := map[string]string{}
	left := j.Left.Schema()
	for _, f := range j.Right.Schema().Fields() {
		if dropped[f.Name] {
			continue
		}
		name := f.Name
		if left.Has(name) {
			name += plan.RightSuffix
		}
		out[name] = f.Name
	}
	return out
}

// passThroughColumns maps output names produced by bare or aliased
// column references to the underlying input column.
func passThroughColumns(exprs []expr.Expr) map[string]string {
	out := map[string]string{}
	for _, e := range exprs {
		inner := e
		if a, ok := e.(*expr.Alias); ok {
			inner = a.Input
		}
		if c, ok := inner.(*expr.Column); ok {
			out[expr.OutputName(e)] = c.Name
		}
	}
	return out
}

func distinctKeys(d *plan.Distinct) []string {
	if d.Subset == nil {
		return d.Input.Schema().Names()
	}
	return d.Subset
}

func renameable(e expr.Expr, rename map[string]string) bool {
	for _, c := range expr.RootColumns(e) {
		if _, ok := rename[c]; !ok {
			return false
		}
	}
	return true
}

func renameColumns(e expr.Expr, rename map[string]string) expr.Expr {
	return expr.Rewrite(e, func(n expr.Expr) expr.Expr {
		if c, ok := n.(*expr.Column); ok {
			if to, ok := rename[c.Name]; ok && to != c.Name {
				return expr.Col(to)
			}
		}
		return n
	})
}

func partition(preds []expr.Expr, ok func(expr.Expr) bool) (yes, no []expr.Expr) {
	for _, p := range preds {
		if ok(p) {
			yes = append(yes, p)
		} else {
			no = append(no, p)
		}
	}
	return yes, no
}

func wrapFilter(n plan.Node, preds []expr.Expr) (plan.Node, error) {
	if len(preds) == 0 {
		return n, nil
	}
	return plan.NewFilter(n, conjoin(preds))
}
