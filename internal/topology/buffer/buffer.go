// Package buffer implements the bounded FIFO between a producer and a
// consumer stream described in spec §4.2 (C2): a memory variant
// (event-count bounded, volatile) and a disk variant (byte-budgeted; it
// writes only an index file to disk and keeps events in memory). Both
// expose a producer, a consumer Stream, and an Acker.
package buffer

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/otus/internal/topology/model"
)

// WhenFull selects the buffer's behavior once it reaches capacity
// (spec §4.2).
type WhenFull int

const (
	Block WhenFull = iota
	DropNewest
)

func ParseWhenFull(s string) (WhenFull, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return Block, fmt.Errorf("unknown when_full policy: %s", s)
	}
}

// Acker is the handle a sink uses to declare a contiguous prefix of its
// input stream durably handled (GLOSSARY).
type Acker interface {
	// Ack releases the oldest n events from the buffer's retained prefix.
	Ack(n int)
}

// Producer is the handle a fanout consumer (or any other writer) uses to
// push events into a buffer. It implements fanout.Consumer's shape
// directly (Send(ctx, ev) error) without importing the fanout package, to
// keep buffer free of a dependency on fanout.
type Producer interface {
	Send(ctx context.Context, ev model.Event) error
}

// Stream is the consumer side of a Buffer.
type Stream struct {
	ch <-chan model.Event
}

// Next blocks for the next event, returning ok=false once the buffer is
// closed and drained.
func (s *Stream) Next(ctx context.Context) (model.Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return nil, false
	}
}

// NextSelect is Next with an extra wakeup channel, used by a sink task to
// race draining its buffer against its detach-trigger (spec §4.6 step 4,
// "take_until_if(detach_tripwire)").
func (s *Stream) NextSelect(ctx context.Context, done <-chan struct{}) (model.Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return nil, false
	case <-done:
		return nil, false
	}
}

// NextBatch blocks for at least one event (unless the stream is closed),
// then opportunistically drains up to n-1 more without blocking, so
// transform runners can batch without open-ended buffering
// (spec §4.5 "sync execution", TRANSFORM_BATCH_SIZE).
func (s *Stream) NextBatch(ctx context.Context, n int) ([]model.Event, bool) {
	first, ok := s.Next(ctx)
	if !ok {
		return nil, false
	}
	batch := make([]model.Event, 0, n)
	batch = append(batch, first)
	for len(batch) < n {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				return batch, true
			}
			batch = append(batch, ev)
		default:
			return batch, true
		}
	}
	return batch, true
}

// Buffer is a bounded FIFO between a producer and a Stream consumer.
type Buffer struct {
	ch       chan model.Event
	whenFull WhenFull
	dropped  prometheus.Counter
	acker    *prefixAcker
}

// New creates a memory-backed buffer of the given event capacity
// (spec §4.2 "memory" variant).
func New(capacity int, whenFull WhenFull, dropped prometheus.Counter) *Buffer {
	if capacity <= 0 {
		capacity = 100
	}
	b := &Buffer{
		ch:       make(chan model.Event, capacity),
		whenFull: whenFull,
		dropped:  dropped,
	}
	b.acker = &prefixAcker{}
	return b
}

// Producer returns a producer handle. Multiple handles may be created; all
// share the same underlying queue (the "cloner" of spec §4.2).
func (b *Buffer) Producer() Producer { return bufferProducer{b} }

// Stream returns the consumer-side stream.
func (b *Buffer) Stream() *Stream { return &Stream{ch: b.ch} }

// Acker returns the buffer's acker.
func (b *Buffer) Acker() Acker { return b.acker }

// Close closes the underlying channel; callers must ensure no producer
// sends after Close. The builder itself never calls Close.
func (b *Buffer) Close() { close(b.ch) }

type bufferProducer struct{ b *Buffer }

func (p bufferProducer) Send(ctx context.Context, ev model.Event) error {
	switch p.b.whenFull {
	case Block:
		select {
		case p.b.ch <- ev:
			p.b.acker.noteEnqueued()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case DropNewest:
		select {
		case p.b.ch <- ev:
			p.b.acker.noteEnqueued()
			return nil
		default:
			if p.b.dropped != nil {
				p.b.dropped.Inc()
			}
			return nil
		}
	default:
		return fmt.Errorf("unknown when-full policy")
	}
}

// prefixAcker tracks how many events have been enqueued vs acked so the
// acker contract ("an ack of N events permits the buffer to free the
// corresponding prefix", spec §6) has something to report even for the
// in-memory variant, where "freeing" is a no-op but the count is still
// observable for tests and metrics.
type prefixAcker struct {
	enqueued int64
	acked    int64
}

func (a *prefixAcker) noteEnqueued() { a.enqueued++ }

func (a *prefixAcker) Ack(n int) { a.acked += int64(n) }

// Acked returns the number of events acked so far (test/metrics helper).
func (a *prefixAcker) Acked() int64 { return a.acked }
