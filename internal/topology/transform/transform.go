// Package transform implements the two transform execution contracts
// described in spec §4.5 (C5): synchronous, batched Function/
// FallibleFunction transforms, and asynchronous stream Task transforms,
// both dispatched through a common Runner.
package transform

import (
	"context"

	"github.com/sirupsen/logrus"

	"firestige.xyz/otus/internal/metrics"
	"firestige.xyz/otus/internal/topology/buffer"
	"firestige.xyz/otus/internal/topology/fanout"
	"firestige.xyz/otus/internal/topology/filter"
	"firestige.xyz/otus/internal/topology/model"
)

// BatchSize bounds how many events a sync transform processes before it
// flushes every output port's buffer and checks for shutdown, matching
// spec §4.5's "sync execution" batching note.
const BatchSize = 128

// Kind discriminates a transform's execution contract (spec §4.5).
type Kind int

const (
	KindFunction Kind = iota
	KindFallibleFunction
	KindTask
)

// Function is the simplest sync contract: one event in, zero or more out,
// all on the primary port.
type Function func(ev model.Event) []model.Event

// FallibleFunction is a sync contract that can route an event to the
// "dropped" port instead of (or in addition to) its primary output.
type FallibleFunction func(ev model.Event) (ok []model.Event, dropped []model.Event)

// TaskFunc is the async stream contract: the transform owns its own loop
// over an input Stream and pushes to out itself, for transforms whose
// output cadence is not 1:1 with input (aggregations, windows).
type TaskFunc func(ctx context.Context, in *buffer.Stream, out Emitter) error

// Emitter is what a transform uses to push to a named output port. Sync
// transforms don't see this directly — Runner wraps Function/
// FallibleFunction results into Emit calls itself — but Task transforms
// call it directly from their own loop.
type Emitter interface {
	Emit(ctx context.Context, port model.Port, ev model.Event) error
}

// Transform bundles a transform's execution contract with its declared
// input type filter (spec §4.8).
type Transform struct {
	Key    model.ComponentKey
	Accept model.DataType

	Kind             Kind
	Function         Function
	FallibleFunction FallibleFunction
	Task             TaskFunc
}

// Runner dispatches one Transform against its input Stream, wiring
// produced events into the fanout.Consumer registered for each output
// port (ordinarily that consumer is the downstream fanout's own Send
// method, adapted via fanout.ConsumerFunc or the Fanout itself).
type Runner struct {
	t     Transform
	in    *buffer.Stream
	ports map[model.Port]fanout.Consumer
	log   *logrus.Entry
}

// New creates a Runner for t, reading from in and emitting to the
// consumers named in ports (at minimum model.PrimaryPort must be present;
// model.DroppedPort is only required if t is a FallibleFunction).
func New(t Transform, in *buffer.Stream, ports map[model.Port]fanout.Consumer) *Runner {
	return &Runner{
		t:     t,
		in:    in,
		ports: ports,
		log: logrus.WithFields(logrus.Fields{
			"component_kind": "transform",
			"component_id":   t.Key.ID,
		}),
	}
}

// Run dispatches to RunSync or RunTask according to t.Kind.
func (r *Runner) Run(ctx context.Context) error {
	switch r.t.Kind {
	case KindTask:
		return r.RunTask(ctx)
	default:
		return r.RunSync(ctx)
	}
}

// RunSync implements the batched sync contract (spec §4.5): pull up to
// BatchSize events, run each through the transform, buffer outputs per
// port, then flush every port's buffer before pulling the next batch — so
// a downstream fanout never sees a partially-flushed batch interleaved
// with the next one.
func (r *Runner) RunSync(ctx context.Context) error {
	for {
		batch, ok := r.in.NextBatch(ctx, BatchSize)
		if !ok {
			return nil
		}

		out := newOutputBuffer()
		for _, ev := range batch {
			if !filter.EventTypeFilter(r.t.Accept, ev) {
				continue
			}
			metrics.EventsReceivedTotal.WithLabelValues(r.t.Key.ID, "transform").Inc()
			metrics.EventsReceivedBytes.WithLabelValues(r.t.Key.ID, "transform").Add(float64(ev.EstimatedSize()))

			switch r.t.Kind {
			case KindFunction:
				for _, res := range r.t.Function(ev) {
					out.add(model.PrimaryPort, res)
				}
			case KindFallibleFunction:
				ok, dropped := r.t.FallibleFunction(ev)
				for _, res := range ok {
					out.add(model.PrimaryPort, res)
				}
				for _, res := range dropped {
					out.add(model.DroppedPort, res)
				}
			}
		}
		if err := r.flushAll(ctx, out); err != nil {
			return err
		}
	}
}

// RunTask implements the async stream contract: the transform's own loop
// is handed the input stream and an Emitter directly.
func (r *Runner) RunTask(ctx context.Context) error {
	return r.t.Task(ctx, r.in, runnerEmitter{r})
}

type runnerEmitter struct{ r *Runner }

func (e runnerEmitter) Emit(ctx context.Context, port model.Port, ev model.Event) error {
	return e.r.send(ctx, port, ev)
}

func (r *Runner) send(ctx context.Context, port model.Port, ev model.Event) error {
	consumer, ok := r.ports[port]
	if !ok {
		r.log.WithField("port", string(port)).Warn("transform emitted to an unconnected port, dropping")
		return nil
	}
	metrics.EventsSentTotal.WithLabelValues(r.t.Key.ID, "transform", string(port)).Inc()
	metrics.EventsSentBytes.WithLabelValues(r.t.Key.ID, "transform", string(port)).Add(float64(ev.EstimatedSize()))
	return consumer.Send(ctx, ev)
}

// outputBuffer accumulates a sync transform's per-port results for one
// batch before they are flushed downstream.
type outputBuffer struct {
	ports map[model.Port][]model.Event
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{ports: make(map[model.Port][]model.Event)}
}

func (b *outputBuffer) add(port model.Port, ev model.Event) {
	b.ports[port] = append(b.ports[port], ev)
}

func (r *Runner) flushAll(ctx context.Context, out *outputBuffer) error {
	for port, events := range out.ports {
		for _, ev := range events {
			if err := r.send(ctx, port, ev); err != nil {
				return err
			}
		}
	}
	return nil
}
