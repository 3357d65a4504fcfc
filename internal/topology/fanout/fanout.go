// Package fanout implements the dynamic multi-consumer broadcast described
// in spec §4.1 (C1). A Fanout owns its consumer set; the only way to
// mutate it is through Control, so the fanout's own run loop is the single
// writer — the design note in spec §9 ("Control channels").
package fanout

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"firestige.xyz/otus/internal/topology/model"
)

// Consumer is anything a Fanout can deliver an event to: a buffer's
// producer handle, or any other sink of events. Send must not block
// forever on a context error; Send returning a non-nil error causes the
// fanout to treat the consumer as failed and remove it (spec §4.1
// "Failure").
type Consumer interface {
	Send(ctx context.Context, ev model.Event) error
}

// ControlOp is one of the four fanout mutation operations (spec §4.1).
type ControlOp int

const (
	OpAdd ControlOp = iota
	OpRemove
	OpPause
	OpResume
)

// Control is a message sent on a Fanout's control channel.
type Control struct {
	Op       ControlOp
	Port     model.Port
	Consumer Consumer // only used by OpAdd

	// ack, if non-nil, is closed once the control message has been applied,
	// so that callers implementing "pause, remove, add" sequences (spec §4.1,
	// testable property 3) can order their own calls against fanout state.
	ack chan struct{}
}

type sendRequest struct {
	ev     model.Event
	result chan error
}

// Fanout is a broadcast multiplexer with dynamic membership (GLOSSARY).
type Fanout struct {
	key model.ComponentKey

	control chan Control
	events  chan sendRequest

	consumers map[model.Port]entry

	removed prometheus.Counter
	log     *logrus.Entry
}

type entry struct {
	consumer Consumer
	paused   bool
}

// New creates a Fanout for the given component. Call Run in its own
// goroutine before calling Send, and close the context passed to Run to
// stop it (consumers are not notified; closing the upstream buffer/producer
// is what naturally drains them per spec §3 Lifecycle).
func New(key model.ComponentKey, removed prometheus.Counter) *Fanout {
	return &Fanout{
		key:       key,
		control:   make(chan Control),
		events:    make(chan sendRequest),
		consumers: make(map[model.Port]entry),
		removed:   removed,
		log: logrus.WithFields(logrus.Fields{
			"component_kind": "fanout",
			"component_id":   key.ID,
			"component_scope": string(key.Scope),
		}),
	}
}

// Controller returns the channel the topology sends Add/Remove/Pause/Resume
// operations on (spec §4.1).
func (f *Fanout) Controller() chan<- Control { return f.control }

// Send delivers ev to every currently non-paused consumer and returns once
// all of them have accepted it, implementing the backpressure contract of
// spec §4.1: a slow consumer blocks Send, and transitively its caller.
func (f *Fanout) Send(ctx context.Context, ev model.Event) error {
	req := sendRequest{ev: ev, result: make(chan error, 1)}
	select {
	case f.events <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the fanout's own task: the single writer to its consumer set
// (spec §9). It must be running for Send, Controller operations, and
// the Add/Remove/Pause/Resume helpers to make progress.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ctl := <-f.control:
			f.apply(ctl)
		case req := <-f.events:
			req.result <- f.deliver(ctx, req.ev)
		}
	}
}

func (f *Fanout) apply(ctl Control) {
	switch ctl.Op {
	case OpAdd:
		f.consumers[ctl.Port] = entry{consumer: ctl.Consumer}
	case OpRemove:
		delete(f.consumers, ctl.Port)
	case OpPause:
		if e, ok := f.consumers[ctl.Port]; ok {
			e.paused = true
			f.consumers[ctl.Port] = e
		}
	case OpResume:
		if e, ok := f.consumers[ctl.Port]; ok {
			e.paused = false
			f.consumers[ctl.Port] = e
		}
	}
	if ctl.ack != nil {
		close(ctl.ack)
	}
}

// deliver fans ev out to every non-paused consumer, removing any consumer
// whose Send fails (spec §4.1 "Failure"). Ordering per consumer is strictly
// FIFO because the fanout processes one send request at a time.
func (f *Fanout) deliver(ctx context.Context, ev model.Event) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := make([]model.Port, 0)

	for port, e := range f.consumers {
		if e.paused {
			continue
		}
		wg.Add(1)
		go func(port model.Port, c Consumer) {
			defer wg.Done()
			if err := c.Send(ctx, ev); err != nil {
				mu.Lock()
				failed = append(failed, port)
				mu.Unlock()
			}
		}(port, e.consumer)
	}
	wg.Wait()

	for _, port := range failed {
		f.log.WithField("port", string(port)).Warn("consumer rejected event, removing from fanout")
		delete(f.consumers, port)
		if f.removed != nil {
			f.removed.Inc()
		}
	}
	return nil
}

// Add/Remove/Pause/Resume are convenience helpers used by the topology
// and tests to perform a control operation and wait for it to be applied,
// avoiding races against Run's processing of the control channel.

// Add attaches a consumer under the given port, waiting until the fanout's
// run loop has applied it.
func Add(ctx context.Context, ctrl chan<- Control, port model.Port, c Consumer) error {
	return send(ctx, ctrl, Control{Op: OpAdd, Port: port, Consumer: c})
}

// Remove detaches the consumer at the given port.
func Remove(ctx context.Context, ctrl chan<- Control, port model.Port) error {
	return send(ctx, ctrl, Control{Op: OpRemove, Port: port})
}

// Pause stops delivery to the consumer at the given port without dropping it.
func Pause(ctx context.Context, ctrl chan<- Control, port model.Port) error {
	return send(ctx, ctrl, Control{Op: OpPause, Port: port})
}

// Resume resumes delivery to a previously paused consumer.
func Resume(ctx context.Context, ctrl chan<- Control, port model.Port) error {
	return send(ctx, ctrl, Control{Op: OpResume, Port: port})
}

func send(ctx context.Context, ctrl chan<- Control, c Control) error {
	c.ack = make(chan struct{})
	select {
	case ctrl <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, ev model.Event) error

func (f ConsumerFunc) Send(ctx context.Context, ev model.Event) error { return f(ctx, ev) }
