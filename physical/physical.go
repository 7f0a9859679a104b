// Package physical maps a logical plan onto execution strategies. Each
// operator subtree is marked streaming when every operator in it can
// process morsel-sized batches incrementally; the rest run through the
// in-memory executor. Strategy changes are explicit materialization
// boundaries.
package physical

import (
	"strings"

	"github.com/vireodb/vireo/plan"
)

// Strategy says how an operator subtree executes.
type Strategy uint8

const (
	// InMemory materializes the whole input before producing output.
	InMemory Strategy = iota
	// Streaming processes bounded batches and never holds the full
	// input, though stateful stages hold their own state.
	Streaming
)

func (s Strategy) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "in-memory"
}

// Op annotates one logical operator with its execution strategy.
type Op struct {
	Node     plan.Node
	Strategy Strategy
	Inputs   []*Op
}

// Boundary reports whether input i must be materialized before this
// operator consumes it.
func (o *Op) Boundary(i int) bool {
	return o.Strategy != o.Inputs[i].Strategy
}

// Plan annotates the logical plan bottom-up. A subtree streams when its
// root operator is streaming-capable and all of its inputs stream;
// otherwise the subtree root runs in memory and any streaming inputs
// are materialized at the boundary.
func Plan(root plan.Node) *Op {
	inputs := make([]*Op, len(root.Children()))
	all := true
	for i, c := range root.Children() {
		inputs[i] = Plan(c)
		if inputs[i].Strategy != Streaming {
			all = false
		}
	}
	strategy := InMemory
	if all && streamingCapable(root) {
		strategy = Streaming
	}
	return &Op{Node: root, Strategy: strategy, Inputs: inputs}
}

// streamingCapable reports whether the operator itself can run as a
// pipeline stage. Joins and sorts need a whole side resident; window
// projections need whole partitions.
func streamingCapable(n plan.Node) bool {
	switch t := n.(type) {
	case *plan.Scan, *plan.Filter, *plan.Slice, *plan.Union,
		*plan.Melt, *plan.Explode, *plan.Distinct, *plan.GroupBy:
		return true
	case *plan.Projection:
		return !t.HasWindow()
	default:
		return false
	}
}

// Explain renders the physical plan with per-operator strategies and
// materialization markers.
func Explain(o *Op) string {
	var sb strings.Builder
	explain(&sb, o, 0, false)
	return sb.String()
}

func explain(sb *strings.Builder, o *Op, depth int, boundary bool) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(o.Node.String())
	sb.WriteString(" [")
	sb.WriteString(o.Strategy.String())
	sb.WriteString("]")
	if boundary {
		sb.WriteString(" <materialize>")
	}
	sb.WriteString("\n")
	for i, in := range o.Inputs {
		explain(sb, in, depth+1, o.Boundary(i))
	}
}
