package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
)

// cseRule factors subexpressions repeated across a projection's
// expressions into a projection below, computed once and referenced by
// name above. Only pure scalar subexpressions move; aggregates and
// windows keep their evaluation context.
type cseRule struct{}

func (cseRule) Name() string { return "common_subexpressions" }

const csePrefix = "__cse_"

func (cseRule) Apply(root plan.Node) (plan.Node, error) {
	return rewriteUp(root, func(n plan.Node) (plan.Node, error) {
		p, ok := n.(*plan.Projection)
		if !ok {
			return n, nil
		}
		return factorCommon(p)
	})
}

func factorCommon(p *plan.Projection) (plan.Node, error) {
	shared := sharedSubexprs(p.Exprs)
	if len(shared) == 0 {
		return p, nil
	}

	in := p.Input.Schema()
	lower := make([]expr.Expr, 0, in.Len()+len(shared))
	for _, name := range in.Names() {
		lower = append(lower, expr.Col(name))
	}
	rename := map[string]string{}
	for i, s := range shared {
		alias := fmt.Sprintf("%s%d", csePrefix, i)
		if in.Has(alias) {
			return p, nil
		}
		rename[s.String()] = alias
		lower = append(lower, expr.As(s, alias))
	}

	upper := make([]expr.Expr, len(p.Exprs))
	for i, e := range p.Exprs {
		ne := replaceByString(e, rename)
		if expr.OutputName(ne) != expr.OutputName(e) {
			ne = expr.As(ne, expr.OutputName(e))
		}
		upper[i] = ne
	}

	below, err := plan.NewProjection(p.Input, lower)
	if err != nil {
		return nil, err
	}
	return plan.NewProjection(below, upper)
}

// sharedSubexprs finds maximal pure compound subexpressions occurring
// at least twice across exprs, in first-appearance order.
func sharedSubexprs(exprs []expr.Expr) []expr.Expr {
	counts := map[string]int{}
	first := map[string]int{}
	nodes := map[string]expr.Expr{}
	seq := 0
	for _, e := range exprs {
		expr.Walk(e, func(n expr.Expr) bool {
			if cseCandidate(n) {
				key := n.String()
				counts[key]++
				if _, ok := first[key]; !ok {
					first[key] = seq
					nodes[key] = n
					seq++
				}
			}
			return true
		})
	}

	var keys []string
	for key, c := range counts {
		if c >= 2 {
			keys = append(keys, key)
		}
	}
	// Larger expressions first so contained duplicates are subsumed.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return first[keys[i]] < first[keys[j]]
	})

	var picked []string
	for _, key := range keys {
		contained := false
		for _, big := range picked {
			if strings.Contains(big, key) {
				contained = true
				break
			}
		}
		if !contained {
			picked = append(picked, key)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return first[picked[i]] < first[picked[j]] })

	out := make([]expr.Expr, len(picked))
	for i, key := range picked {
		out[i] = nodes[key]
	}
	return out
}

func cseCandidate(n expr.Expr) bool {
	switch n.(type) {
	case *expr.Literal, *expr.Column, *expr.Alias, *expr.SortKey:
		return false
	}
	if len(n.Children()) == 0 {
		return false
	}
	return expr.IsPure(n) && !expr.HasAgg(n) && !expr.HasWindow(n)
}

// replaceByString swaps whole subtrees matching a factored expression
// for a reference to its computed column, outermost match first.
func replaceByString(e expr.Expr, rename map[string]string) expr.Expr {
	if alias, ok := rename[e.String()]; ok && cseCandidate(e) {
		return expr.Col(alias)
	}
	children := e.Children()
	if len(children) == 0 {
		return e
	}
	next := make([]expr.Expr, len(children))
	changed := false
	for i, c := range children {
		next[i] = replaceByString(c, rename)
		if next[i] != c {
			changed = true
		}
	}
	if !changed {
		return e
	}
	return e.WithChildren(next)
}
