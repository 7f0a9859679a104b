// Package plan models the logical query plan: a DAG of relational
// operators, each carrying a resolved output schema. Nodes are immutable
// once built; constructors validate eagerly so schema and type errors
// surface at plan-build time, before anything executes. Rewrites build
// new nodes, leaving earlier plan states valid for diagnostics.
package plan

import (
	"fmt"
	"strings"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/types"
)

type Node interface {
	Schema() *types.Schema
	Children() []Node
	// WithChildren rebuilds the node over new inputs, revalidating
	// expressions and recomputing the schema bottom-up.
	WithChildren(children []Node) (Node, error)
	String() string
}

// Explain renders the plan as an indented tree, root first.
func Explain(n Node) string {
	var sb strings.Builder
	explain(&sb, n, 0)
	return sb.String()
}

func explain(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.String())
	sb.WriteString("\n")
	for _, c := range n.Children() {
		explain(sb, c, depth+1)
	}
}

func arity(n Node, children []Node, want int) error {
	if len(children) != want {
		return qerr.InvalidOpf("%T expects %d input(s), got %d", n, want, len(children))
	}
	return nil
}

// checkScalarPredicate validates a filter predicate: boolean, no
// aggregates, no windows.
func checkScalarPredicate(pred expr.Expr, schema *types.Schema) error {
	if err := expr.Validate(pred, schema); err != nil {
		return err
	}
	tp, err := expr.TypeOf(pred, schema)
	if err != nil {
		return err
	}
	if tp != types.Bool {
		return qerr.Schemaf("predicate %s is %s, expected bool", pred, tp)
	}
	if expr.HasAgg(pred) || expr.HasWindow(pred) {
		return qerr.InvalidOpf("predicate %s contains an aggregate", pred)
	}
	return nil
}

// Scan is the leaf: it pulls batches from the scan collaborator. The
// optimizer attaches pushed-down projection, predicate and limit here;
// all three remain hints for the source and obligations for the scan
// operator itself.
type Scan struct {
	Src        source.Source
	Projection []string  // nil means all columns
	Predicate  expr.Expr // nil means no pushed filter
	Limit      int64     // negative means unbounded

	full   *types.Schema
	schema *types.Schema
}

func NewScan(src source.Source) (*Scan, error) {
	full, err := src.Schema()
	if err != nil {
		return nil, qerr.Wrapf(err, "scan source schema")
	}
	return &Scan{Src: src, Limit: -1, full: full, schema: full}, nil
}

// With derives a scan with updated pushdown state.
func (s *Scan) With(projection []string, predicate expr.Expr, limit int64) (*Scan, error) {
	out := &Scan{Src: s.Src, Projection: projection, Predicate: predicate, Limit: limit, full: s.full, schema: s.full}
	if projection != nil {
		sub, err := s.full.Select(projection)
		if err != nil {
			return nil, qerr.Schemaf("scan projection: %s", err)
		}
		out.schema = sub
	}
	if predicate != nil {
		// The pushed predicate must still resolve once the projection is
		// applied; pushdown only descends conjuncts over scanned columns.
		if err := checkScalarPredicate(predicate, out.schema); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FullSchema is the source schema before projection pushdown.
func (s *Scan) FullSchema() *types.Schema { return s.full }

func (s *Scan) Schema() *types.Schema { return s.schema }
func (s *Scan) Children() []Node      { return nil }

func (s *Scan) WithChildren(children []Node) (Node, error) {
	if err := arity(s, children, 0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scan) String() string {
	var parts []string
	if s.Projection != nil {
		parts = append(parts, fmt.Sprintf("project=%v", s.Projection))
	}
	if s.Predicate != nil {
		parts = append(parts, "predicate="+s.Predicate.String())
	}
	if s.Limit >= 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", s.Limit))
	}
	if len(parts) == 0 {
		return "Scan"
	}
	return "Scan [" + strings.Join(parts, ", ") + "]"
}

// Filter keeps rows where the predicate is true; null is not true.
// Order-preserving.
type Filter struct {
	Input     Node
	Predicate expr.Expr
}

func NewFilter(input Node, pred expr.Expr) (*Filter, error) {
	if err := checkScalarPredicate(pred, input.Schema()); err != nil {
		return nil, err
	}
	return &Filter{Input: input, Predicate: pred}, nil
}

func (f *Filter) Schema() *types.Schema { return f.Input.Schema() }
func (f *Filter) Children() []Node      { return []Node{f.Input} }

func (f *Filter) WithChildren(children []Node) (Node, error) {
	if err := arity(f, children, 1); err != nil {
		return nil, err
	}
	return NewFilter(children[0], f.Predicate)
}

func (f *Filter) String() string { return "Filter " + f.Predicate.String() }

// Projection computes one output column per expression. Expressions may
// contain window expressions but not bare aggregates; aggregation goes
// through GroupBy. Order-preserving.
type Projection struct {
	Input Node
	Exprs []expr.Expr

	schema *types.Schema
}

func NewProjection(input Node, exprs []expr.Expr) (*Projection, error) {
	if len(exprs) == 0 {
		return nil, qerr.InvalidOpf("projection needs at least one expression")
	}
	in := input.Schema()
	fields := make([]types.Field, len(exprs))
	for i, e := range exprs {
		if err := expr.Validate(e, in); err != nil {
			return nil, err
		}
		if expr.HasAgg(e) {
			return nil, qerr.InvalidOpf("aggregate %s in projection, use group_by", e)
		}
		tp, err := expr.TypeOf(e, in)
		if err != nil {
			return nil, err
		}
		fields[i] = types.Field{Name: expr.OutputName(e), Type: tp}
	}
	schema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, qerr.Schemaf("projection: %s", err)
	}
	return &Projection{Input: input, Exprs: exprs, schema: schema}, nil
}

func (p *Projection) Schema() *types.Schema { return p.schema }
func (p *Projection) Children() []Node      { return []Node{p.Input} }

func (p *Projection) WithChildren(children []Node) (Node, error) {
	if err := arity(p, children, 1); err != nil {
		return nil, err
	}
	return NewProjection(children[0], p.Exprs)
}

func (p *Projection) String() string {
	names := make([]string, len(p.Exprs))
	for i, e := range p.Exprs {
		names[i] = e.String()
	}
	return "Projection [" + strings.Join(names, ", ") + "]"
}

// HasWindow reports whether any projected expression is a window
// expression; those subtrees are not streaming-capable.
func (p *Projection) HasWindow() bool {
	for _, e := range p.Exprs {
		if expr.HasWindow(e) {
			return true
		}
	}
	return false
}

// Slice keeps Len rows starting at Offset; Len < 0 keeps the rest.
// Deterministic only over an ordered input.
type Slice struct {
	Input  Node
	Offset int64
	Len    int64
}

func NewSlice(input Node, offset, length int64) (*Slice, error) {
	if offset < 0 {
		return nil, qerr.InvalidOpf("slice offset %d is negative", offset)
	}
	return &Slice{Input: input, Offset: offset, Len: length}, nil
}

func (s *Slice) Schema() *types.Schema { return s.Input.Schema() }
func (s *Slice) Children() []Node      { return []Node{s.Input} }

func (s *Slice) WithChildren(children []Node) (Node, error) {
	if err := arity(s, children, 1); err != nil {
		return nil, err
	}
	return NewSlice(children[0], s.Offset, s.Len)
}

func (s *Slice) String() string {
	return fmt.Sprintf("Slice offset=%d len=%d", s.Offset, s.Len)
}
