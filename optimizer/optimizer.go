// Package optimizer rewrites logical plans through an ordered sequence
// of rule passes. Every pass preserves observable results; disabling a
// pass only affects performance. A pass that cannot prove a rewrite
// safe skips it.
package optimizer

import (
	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
)

// Opts toggles individual passes. Each one is independently skippable.
type Opts struct {
	TypeCoercion       bool
	Simplify           bool
	PredicatePushdown  bool
	ProjectionPushdown bool
	SlicePushdown      bool
	CSE                bool
	JoinOpt            bool
}

// DefaultOpts enables every pass.
func DefaultOpts() Opts {
	return Opts{
		TypeCoercion:       true,
		Simplify:           true,
		PredicatePushdown:  true,
		ProjectionPushdown: true,
		SlicePushdown:      true,
		CSE:                true,
		JoinOpt:            true,
	}
}

// Rule is one rewrite pass over a whole plan.
type Rule interface {
	Name() string
	Apply(root plan.Node) (plan.Node, error)
}

// Optimize runs the enabled passes in their fixed order and returns a
// new plan; the input plan is never mutated.
func Optimize(root plan.Node, opts Opts) (plan.Node, error) {
	for _, r := range rules(opts) {
		out, err := r.Apply(root)
		if err != nil {
			return nil, qerr.Wrapf(err, "optimizer pass %s", r.Name())
		}
		root = out
	}
	return root, nil
}

func rules(opts Opts) []Rule {
	var rs []Rule
	if opts.TypeCoercion {
		rs = append(rs, coercionRule{})
	}
	if opts.Simplify {
		rs = append(rs, simplifyRule{})
	}
	if opts.PredicatePushdown {
		rs = append(rs, predicatePushdownRule{})
	}
	if opts.ProjectionPushdown {
		rs = append(rs, projectionPushdownRule{})
	}
	if opts.SlicePushdown {
		rs = append(rs, slicePushdownRule{})
	}
	if opts.CSE {
		rs = append(rs, cseRule{})
	}
	if opts.JoinOpt {
		rs = append(rs, joinOptRule{})
	}
	return rs
}

// rewriteUp rebuilds the plan bottom-up, applying f to every node after
// its children have been rewritten.
func rewriteUp(n plan.Node, f func(plan.Node) (plan.Node, error)) (plan.Node, error) {
	children := n.Children()
	if len(children) > 0 {
		next := make([]plan.Node, len(children))
		changed := false
		for i, c := range children {
			nc, err := rewriteUp(c, f)
			if err != nil {
				return nil, err
			}
			next[i] = nc
			if nc != c {
				changed = true
			}
		}
		if changed {
			var err error
			n, err = n.WithChildren(next)
			if err != nil {
				return nil, err
			}
		}
	}
	return f(n)
}

// splitConjuncts flattens a chain of ANDs into its conjuncts.
func splitConjuncts(e expr.Expr) []expr.Expr {
	if b, ok := e.(*expr.BinaryExpr); ok && b.Op == expr.OpAnd {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []expr.Expr{e}
}

// conjoin ANDs conjuncts back together; nil for an empty list.
func conjoin(conjuncts []expr.Expr) expr.Expr {
	if len(conjuncts) == 0 {
		return nil
	}
	out := conjuncts[0]
	for _, c := range conjuncts[1:] {
		out = expr.And(out, c)
	}
	return out
}

// referencesOnly reports whether every column e reads is in names.
func referencesOnly(e expr.Expr, names map[string]bool) bool {
	for _, c := range expr.RootColumns(e) {
		if !names[c] {
			return false
		}
	}
	return true
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
