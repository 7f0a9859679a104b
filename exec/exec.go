// Package exec is the in-memory executor: it runs a logical plan
// operator by operator, materializing each operator's full output
// before the parent consumes it. Wide per-row work (filters,
// projections) is spread over a worker pool in batch-sized chunks.
package exec

import (
	"context"
	"runtime"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/vireodb/vireo/expr"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/source"
	"github.com/vireodb/vireo/vector"
)

// DefaultBatchSize is the chunk size for scans and parallel operators.
const DefaultBatchSize = 4096

// Opts configures an Executor.
type Opts struct {
	// BatchSize bounds rows per scan batch and per parallel work unit.
	BatchSize int
	// Parallelism caps concurrent work units; 0 means GOMAXPROCS.
	Parallelism int
	// MemoryLimit caps bytes materialized by one Run; 0 means unlimited.
	MemoryLimit int64
	Logger      log.Logger
	Metrics     *Metrics
}

func DefaultOpts() Opts {
	return Opts{BatchSize: DefaultBatchSize}
}

type Executor struct {
	opts    Opts
	logger  log.Logger
	metrics *Metrics
}

func New(opts Opts) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Executor{opts: opts, logger: opts.Logger, metrics: opts.Metrics}
}

// Run executes the plan and returns its full result.
func (e *Executor) Run(ctx context.Context, root plan.Node) (*vector.Batch, error) {
	start := time.Now()
	r := &runner{ex: e, mem: newMemTracker(e.opts.MemoryLimit)}
	out, err := r.run(ctx, root)
	e.metrics.observeQuery(time.Since(start), err)
	if err != nil {
		level.Debug(e.logger).Log("msg", "query failed", "err", err)
		return nil, err
	}
	e.metrics.addRowsProduced(out.Len())
	level.Debug(e.logger).Log("msg", "query done", "rows", out.Len(), "took", time.Since(start))
	return out, nil
}

type runner struct {
	ex  *Executor
	mem *memTracker
}

func (r *runner) run(ctx context.Context, n plan.Node) (*vector.Batch, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	switch t := n.(type) {
	case *plan.Scan:
		return r.runScan(ctx, t)
	case *plan.Filter:
		return r.runFilter(ctx, t)
	case *plan.Projection:
		return r.runProjection(ctx, t)
	case *plan.Slice:
		return r.runSlice(ctx, t)
	case *plan.Sort:
		return r.runSort(ctx, t)
	case *plan.Join:
		return r.runJoin(ctx, t)
	case *plan.GroupBy:
		return r.runGroupBy(ctx, t)
	case *plan.Distinct:
		return r.runDistinct(ctx, t)
	case *plan.Union:
		return r.runUnion(ctx, t)
	case *plan.Melt:
		return r.runMelt(ctx, t)
	case *plan.Explode:
		return r.runExplode(ctx, t)
	default:
		return nil, qerr.InvalidOpf("no executor for plan node %T", n)
	}
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return qerr.Cancelledf("query cancelled: %v", err)
	}
	return nil
}

// runScan pulls all source batches, re-applying every pushdown hint.
// Hints are an optimization for the source and an obligation for the
// scan: a source that ignored them must still yield a correct result.
func (r *runner) runScan(ctx context.Context, t *plan.Scan) (*vector.Batch, error) {
	hint := source.Hint{Columns: t.Projection, Predicate: t.Predicate, Limit: t.Limit}
	it, err := t.Src.Scan(ctx, hint, r.ex.opts.BatchSize)
	if err != nil {
		return nil, qerr.Wrapf(err, "scan open")
	}
	defer it.Close()

	var pred *expr.Evaluator
	if t.Predicate != nil {
		if pred, err = expr.Compile(t.Predicate, t.Schema()); err != nil {
			return nil, err
		}
	}

	out := vector.Empty(t.Schema())
	for {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		b, err := it.Next(ctx)
		if err != nil {
			return nil, qerr.Wrapf(err, "scan next")
		}
		if b == nil {
			break
		}
		r.ex.metrics.addRowsScanned(b.Len())
		if !b.Schema().Equal(t.Schema()) {
			if b, err = b.Select(t.Schema().Names()); err != nil {
				return nil, err
			}
		}
		if pred != nil {
			mask, err := pred.Fn(b)
			if err != nil {
				return nil, err
			}
			if b, err = b.Filter(mask); err != nil {
				return nil, err
			}
		}
		if t.Limit >= 0 {
			left := t.Limit - int64(out.Len())
			if left <= 0 {
				break
			}
			if int64(b.Len()) > left {
				if b, err = b.Slice(0, int(left)); err != nil {
					return nil, err
				}
			}
		}
		if err := r.mem.reserve(b.ByteSize()); err != nil {
			return nil, err
		}
		if err := out.Append(b); err != nil {
			return nil, err
		}
		if t.Limit >= 0 && int64(out.Len()) >= t.Limit {
			break
		}
	}
	return out, nil
}

func (r *runner) runFilter(ctx context.Context, t *plan.Filter) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	ev, err := expr.Compile(t.Predicate, t.Input.Schema())
	if err != nil {
		return nil, err
	}
	return r.mapChunks(ctx, in, func(b *vector.Batch) (*vector.Batch, error) {
		mask, err := ev.Fn(b)
		if err != nil {
			return nil, err
		}
		return b.Filter(mask)
	})
}

func (r *runner) runProjection(ctx context.Context, t *plan.Projection) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	if t.HasWindow() {
		// Windows see whole partitions; no chunking.
		return r.projectWithWindows(ctx, t, in)
	}
	evs := make([]*expr.Evaluator, len(t.Exprs))
	for i, e := range t.Exprs {
		if evs[i], err = expr.Compile(e, t.Input.Schema()); err != nil {
			return nil, err
		}
	}
	schema := t.Schema()
	return r.mapChunks(ctx, in, func(b *vector.Batch) (*vector.Batch, error) {
		cols := make([]*vector.Vector, len(evs))
		for i, ev := range evs {
			v, err := ev.Fn(b)
			if err != nil {
				return nil, err
			}
			cols[i] = v
		}
		return vector.NewBatch(schema, cols)
	})
}

func (r *runner) runSlice(ctx context.Context, t *plan.Slice) (*vector.Batch, error) {
	in, err := r.run(ctx, t.Input)
	if err != nil {
		return nil, err
	}
	return in.Slice(int(t.Offset), int(t.Len))
}

func (r *runner) runUnion(ctx context.Context, t *plan.Union) (*vector.Batch, error) {
	out := vector.Empty(t.Schema())
	for _, in := range t.Inputs {
		b, err := r.run(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := out.Append(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mapChunks applies f to batch-sized row chunks on the worker pool and
// reassembles outputs in input order. Chunk outputs may have any row
// count; f must be row-wise, never cross-row.
func (r *runner) mapChunks(ctx context.Context, in *vector.Batch, f func(*vector.Batch) (*vector.Batch, error)) (*vector.Batch, error) {
	size := r.ex.opts.BatchSize
	if in.Len() <= size {
		out, err := f(in)
		if err != nil {
			return nil, err
		}
		if err := r.mem.reserve(out.ByteSize()); err != nil {
			return nil, err
		}
		return out, nil
	}

	nchunks := (in.Len() + size - 1) / size
	outs := make([]*vector.Batch, nchunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.ex.opts.Parallelism)
	for i := 0; i < nchunks; i++ {
		i := i
		g.Go(func() error {
			if err := checkCtx(gctx); err != nil {
				return err
			}
			chunk, err := in.Slice(i*size, size)
			if err != nil {
				return err
			}
			out, err := f(chunk)
			if err != nil {
				return err
			}
			if err := r.mem.reserve(out.ByteSize()); err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vector.Concat(outs[0].Schema(), outs)
}
