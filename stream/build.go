package stream

import (
	"context"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/physical"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/vector"
)

// Materializer evaluates an in-memory subtree to a single batch. The
// pipeline builder calls it at every materialization boundary.
type Materializer func(ctx context.Context, n plan.Node) (*vector.Batch, error)

type BuildOpts struct {
	// BatchSize is the morsel size for sources and materialized
	// boundaries. Zero means a default.
	BatchSize int
}

// Build turns a physical plan into a pipeline. Streaming operators
// become stages over a shared source; in-memory subtrees are
// materialized up front and re-morselized at the boundary.
func Build(ctx context.Context, op *physical.Op, mat Materializer, opts BuildOpts) (*Pipeline, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1 << 10
	}
	src, stages, err := build(ctx, op, mat, opts)
	if err != nil {
		return nil, err
	}
	return NewPipeline(src, stages...), nil
}

func build(ctx context.Context, op *physical.Op, mat Materializer, opts BuildOpts) (Source, []Stage, error) {
	if op.Strategy == physical.InMemory {
		b, err := mat(ctx, op.Node)
		if err != nil {
			return nil, nil, err
		}
		return NewBatchSource(b, opts.BatchSize), nil, nil
	}

	switch t := op.Node.(type) {
	case *plan.Scan:
		src, err := newScanSource(ctx, t, opts.BatchSize)
		return src, nil, err

	case *plan.Union:
		srcs := make([]Source, len(op.Inputs))
		for i, in := range op.Inputs {
			p, err := Build(ctx, in, mat, opts)
			if err != nil {
				for _, s := range srcs[:i] {
					_ = s.Close()
				}
				return nil, nil, err
			}
			srcs[i] = p
		}
		return NewChainSource(srcs...), nil, nil

	case *plan.Filter:
		ev, err := expr.Compile(t.Predicate, t.Input.Schema())
		if err != nil {
			return nil, nil, err
		}
		return extend(ctx, op, mat, opts, &filterStage{ev: ev})

	case *plan.Projection:
		evs := make([]*expr.Evaluator, len(t.Exprs))
		for i, e := range t.Exprs {
			ev, err := expr.Compile(e, t.Input.Schema())
			if err != nil {
				return nil, nil, err
			}
			evs[i] = ev
		}
		return extend(ctx, op, mat, opts, &projectStage{schema: t.Schema(), evs: evs})

	case *plan.Slice:
		return extend(ctx, op, mat, opts, &sliceStage{skip: t.Offset, remain: t.Len})

	case *plan.GroupBy:
		stage, err := newGroupByStage(t)
		if err != nil {
			return nil, nil, err
		}
		return extend(ctx, op, mat, opts, stage)

	case *plan.Distinct:
		return extend(ctx, op, mat, opts, newDistinctStage(t))

	case *plan.Melt:
		return extend(ctx, op, mat, opts, &meltStage{m: t, schema: t.Schema(), vtype: t.ValueType()})

	case *plan.Explode:
		return extend(ctx, op, mat, opts, &explodeStage{counts: t.Counts})

	default:
		return nil, nil, qerr.InvalidOpf("operator %s cannot stream", op.Node.String())
	}
}

// extend builds the single input of op and appends one stage.
func extend(ctx context.Context, op *physical.Op, mat Materializer, opts BuildOpts, stage Stage) (Source, []Stage, error) {
	src, stages, err := build(ctx, op.Inputs[0], mat, opts)
	if err != nil {
		return nil, nil, err
	}
	return src, append(stages, stage), nil
}
