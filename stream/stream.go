// Package stream executes streaming-capable plan subtrees as pull
// driven morsel pipelines: a source yields bounded batches and each
// stage transforms or buffers them. Exactly one morsel is in flight
// per pipeline, so a slow consumer backpressures the source. Stateful
// stages (group-by, distinct) hold only their own state, never the
// whole input.
package stream

import (
	"context"

	"go.uber.org/atomic"

	"github.com/vireodb/vireo/qerr"
	"github.com/vireodb/vireo/vector"
)

// State is the pipeline lifecycle. Transitions only move forward:
// Idle to Running on the first pull, Running to exactly one of
// Finished, Cancelled or Failed.
type State int32

const (
	Idle State = iota
	Running
	Finished
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Source yields morsels; (nil, nil) is end-of-input. Close is
// idempotent.
type Source interface {
	Next(ctx context.Context) (*vector.Batch, error)
	Close() error
}

// Stage transforms morsels. Process may buffer and return nil output;
// done reports that the stage needs no further input (a satisfied
// limit). Finish flushes buffered state after the last morsel.
type Stage interface {
	Process(ctx context.Context, b *vector.Batch) (out *vector.Batch, done bool, err error)
	Finish(ctx context.Context) (*vector.Batch, error)
}

// Pipeline drives morsels from a source through stages. It is itself a
// Source, so pipelines compose.
type Pipeline struct {
	src    Source
	stages []Stage

	state   atomic.Int32
	queue   []*vector.Batch
	flushed bool
	err     error
}

func NewPipeline(src Source, stages ...Stage) *Pipeline {
	return &Pipeline{src: src, stages: stages}
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

// Next pulls the next output morsel, driving as many input morsels as
// needed. Returns (nil, nil) once the pipeline has finished.
func (p *Pipeline) Next(ctx context.Context) (*vector.Batch, error) {
	switch p.State() {
	case Finished:
		return nil, nil
	case Cancelled, Failed:
		return nil, p.err
	case Idle:
		p.state.Store(int32(Running))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(qerr.Cancelledf("stream cancelled: %v", err), Cancelled)
		}
		if len(p.queue) > 0 {
			out := p.queue[0]
			p.queue = p.queue[1:]
			return out, nil
		}
		if p.flushed {
			p.state.Store(int32(Finished))
			return nil, p.src.Close()
		}

		morsel, err := p.src.Next(ctx)
		if err != nil {
			return nil, p.fail(err, Failed)
		}
		if morsel == nil {
			if err := p.flush(ctx); err != nil {
				return nil, p.fail(err, Failed)
			}
			continue
		}
		done, err := p.feed(ctx, morsel, 0)
		if err != nil {
			return nil, p.fail(err, Failed)
		}
		if done {
			// a stage is satisfied; stop pulling and drain buffers
			_ = p.src.Close()
			if err := p.flush(ctx); err != nil {
				return nil, p.fail(err, Failed)
			}
		}
	}
}

// feed pushes a morsel through stages[from:], queueing whatever falls
// out of the last stage.
func (p *Pipeline) feed(ctx context.Context, b *vector.Batch, from int) (bool, error) {
	anyDone := false
	for i := from; i < len(p.stages); i++ {
		out, done, err := p.stages[i].Process(ctx, b)
		anyDone = anyDone || done
		if err != nil {
			return false, err
		}
		if out == nil || out.Len() == 0 {
			return anyDone, nil
		}
		b = out
	}
	if b.Len() > 0 {
		p.queue = append(p.queue, b)
	}
	return anyDone, nil
}

// flush cascades end-of-input: each stage's Finish output feeds the
// stages after it.
func (p *Pipeline) flush(ctx context.Context) error {
	for i, s := range p.stages {
		out, err := s.Finish(ctx)
		if err != nil {
			return err
		}
		if out == nil || out.Len() == 0 {
			continue
		}
		if i+1 < len(p.stages) {
			if _, err := p.feed(ctx, out, i+1); err != nil {
				return err
			}
		} else {
			p.queue = append(p.queue, out)
		}
	}
	p.flushed = true
	return nil
}

func (p *Pipeline) fail(err error, state State) error {
	p.err = err
	p.state.Store(int32(state))
	_ = p.src.Close()
	return err
}

// Close cancels a pipeline that has not finished.
func (p *Pipeline) Close() error {
	switch p.State() {
	case Finished, Cancelled, Failed:
		return nil
	}
	p.err = qerr.Cancelledf("stream closed before completion")
	p.state.Store(int32(Cancelled))
	return p.src.Close()
}

// BatchSource morselizes one materialized batch.
type BatchSource struct {
	data   *vector.Batch
	size   int
	offset int
}

func NewBatchSource(b *vector.Batch, morselSize int) *BatchSource {
	if morselSize <= 0 {
		morselSize = 1 << 10
	}
	return &BatchSource{data: b, size: morselSize}
}

func (s *BatchSource) Next(ctx context.Context) (*vector.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr.Cancelledf("stream cancelled: %v", err)
	}
	if s.offset >= s.data.Len() {
		return nil, nil
	}
	n := s.size
	if s.offset+n > s.data.Len() {
		n = s.data.Len() - s.offset
	}
	out, err := s.data.Slice(s.offset, n)
	if err != nil {
		return nil, err
	}
	s.offset += n
	return out, nil
}

func (s *BatchSource) Close() error {
	s.offset = s.data.Len()
	return nil
}

// ChainSource concatenates sources in order, for streaming unions.
type ChainSource struct {
	srcs []Source
	cur  int
}

func NewChainSource(srcs ...Source) *ChainSource { return &ChainSource{srcs: srcs} }

func (c *ChainSource) Next(ctx context.Context) (*vector.Batch, error) {
	for c.cur < len(c.srcs) {
		b, err := c.srcs[c.cur].Next(ctx)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
		if err := c.srcs[c.cur].Close(); err != nil {
			return nil, err
		}
		c.cur++
	}
	return nil, nil
}

func (c *ChainSource) Close() error {
	var first error
	for ; c.cur < len(c.srcs); c.cur++ {
		if err := c.srcs[c.cur].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
