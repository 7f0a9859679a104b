package lazy

import (
	"context"

	"github.com/go-kit/log"

	"github.com/vireodb/vireo/exec"
	"github.com/vireodb/vireo/optimizer"
	"github.com/vireodb/vireo/physical"
	"github.com/vireodb/vireo/plan"
	"github.com/vireodb/vireo/stream"
	"github.com/vireodb/vireo/vector"
)

// Opts configures one terminal call. Every toggle affects performance
// only; results are identical with any combination.
type Opts struct {
	// BatchSize bounds scan batches, parallel work units and morsels.
	BatchSize int
	// Parallelism caps concurrent work units; 0 means GOMAXPROCS.
	Parallelism int
	// MemoryLimit caps bytes materialized per query; 0 means unlimited.
	MemoryLimit int64
	// Streaming runs Collect through the morsel pipeline instead of the
	// in-memory executor.
	Streaming bool
	Logger    log.Logger
	Metrics   *exec.Metrics
	Optimizer optimizer.Opts
}

func DefaultOpts() Opts {
	return Opts{BatchSize: exec.DefaultBatchSize, Optimizer: optimizer.DefaultOpts()}
}

// Option tweaks Opts for one call.
type Option func(*Opts)

func WithBatchSize(n int) Option         { return func(o *Opts) { o.BatchSize = n } }
func WithParallelism(n int) Option       { return func(o *Opts) { o.Parallelism = n } }
func WithMemoryLimit(bytes int64) Option { return func(o *Opts) { o.MemoryLimit = bytes } }
func WithStreaming(on bool) Option       { return func(o *Opts) { o.Streaming = on } }
func WithLogger(l log.Logger) Option     { return func(o *Opts) { o.Logger = l } }
func WithMetrics(m *exec.Metrics) Option { return func(o *Opts) { o.Metrics = m } }

// WithOptimizer replaces the whole pass configuration.
func WithOptimizer(opts optimizer.Opts) Option {
	return func(o *Opts) { o.Optimizer = opts }
}

// WithoutOptimization disables every performance pass. Type coercion
// and simplification still run; execution relies on coercion for
// mixed-type expressions.
func WithoutOptimization() Option {
	return func(o *Opts) {
		o.Optimizer = optimizer.Opts{TypeCoercion: true, Simplify: true}
	}
}

func WithPredicatePushdown(on bool) Option {
	return func(o *Opts) { o.Optimizer.PredicatePushdown = on }
}

func WithProjectionPushdown(on bool) Option {
	return func(o *Opts) { o.Optimizer.ProjectionPushdown = on }
}

func WithSlicePushdown(on bool) Option {
	return func(o *Opts) { o.Optimizer.SlicePushdown = on }
}

func WithCSE(on bool) Option {
	return func(o *Opts) { o.Optimizer.CSE = on }
}

// WithParallel(false) forces sequential execution.
func WithParallel(on bool) Option {
	return func(o *Opts) {
		if on {
			o.Parallelism = 0
		} else {
			o.Parallelism = 1
		}
	}
}

func buildOpts(options []Option) Opts {
	opts := DefaultOpts()
	for _, o := range options {
		o(&opts)
	}
	return opts
}

func (o Opts) executor() *exec.Executor {
	return exec.New(exec.Opts{
		BatchSize:   o.BatchSize,
		Parallelism: o.Parallelism,
		MemoryLimit: o.MemoryLimit,
		Logger:      o.Logger,
		Metrics:     o.Metrics,
	})
}

func (f *Frame) optimized(opts Opts) (plan.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	return optimizer.Optimize(f.node, opts.Optimizer)
}

// Collect optimizes and executes the query, returning the full result.
func (f *Frame) Collect(ctx context.Context, options ...Option) (*vector.Batch, error) {
	opts := buildOpts(options)
	root, err := f.optimized(opts)
	if err != nil {
		return nil, err
	}
	if !opts.Streaming {
		return opts.executor().Run(ctx, root)
	}
	p, err := pipeline(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	out := vector.Empty(root.Schema())
	for {
		b, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return out, nil
		}
		if err := out.Append(b); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
}

// Stream optimizes the query and returns a pipeline producing result
// morsels incrementally. The caller drains it with Next and must Close
// it if abandoning it early.
func (f *Frame) Stream(ctx context.Context, options ...Option) (*stream.Pipeline, error) {
	opts := buildOpts(options)
	root, err := f.optimized(opts)
	if err != nil {
		return nil, err
	}
	return pipeline(ctx, root, opts)
}

func pipeline(ctx context.Context, root plan.Node, opts Opts) (*stream.Pipeline, error) {
	ex := opts.executor()
	mat := func(ctx context.Context, n plan.Node) (*vector.Batch, error) {
		return ex.Run(ctx, n)
	}
	return stream.Build(ctx, physical.Plan(root), mat, stream.BuildOpts{BatchSize: opts.BatchSize})
}

// Explain renders the optimized logical plan.
func (f *Frame) Explain(options ...Option) (string, error) {
	root, err := f.optimized(buildOpts(options))
	if err != nil {
		return "", err
	}
	return plan.Explain(root), nil
}

// ExplainPhysical renders the optimized plan with per-operator
// execution strategies and materialization boundaries.
func (f *Frame) ExplainPhysical(options ...Option) (string, error) {
	root, err := f.optimized(buildOpts(options))
	if err != nil {
		return "", err
	}
	return physical.Explain(physical.Plan(root)), nil
}
