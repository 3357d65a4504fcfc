// Package shutdown implements the per-source graceful/forced shutdown
// protocol described in spec §4.3 (C3), grounded on the ordered stop
// sequence of the teacher's internal/task.Task.Stop: stop producers first,
// let downstream drain, then force past a deadline rather than block the
// process forever.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"firestige.xyz/otus/internal/topology/model"
)

// Tripwire is a one-shot signal: it fires exactly once, and every caller
// observing it after that sees it as already fired. It backs both the
// force-shutdown signal below and sink detach triggers (SPEC_FULL.md
// supplemented feature "Detach trigger as Tripwire").
type Tripwire struct {
	once sync.Once
	ch   chan struct{}
}

// NewTripwire returns an unfired Tripwire.
func NewTripwire() *Tripwire {
	return &Tripwire{ch: make(chan struct{})}
}

// Fire trips the wire. Safe to call more than once or concurrently; only
// the first call has any effect.
func (t *Tripwire) Fire() { t.once.Do(func() { close(t.ch) }) }

// C returns the channel that closes when Fire is called.
func (t *Tripwire) C() <-chan struct{} { return t.ch }

// Fired reports whether Fire has already been called, without blocking.
func (t *Tripwire) Fired() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// sourceState tracks one registered source's shutdown signal, its force
// tripwire, and whether it has reported completion.
type sourceState struct {
	shutdown *Tripwire
	force    *Tripwire
	done     chan struct{}
}

// Coordinator is the process-wide owner of per-source shutdown signaling
// described in spec §4.3. Sources register at build time; the topology
// driver calls ShutdownSource (graceful, with a deadline) when a source
// is removed by a reload or the process is stopping.
type Coordinator struct {
	mu      sync.Mutex
	sources map[model.ComponentKey]*sourceState
	log     *logrus.Entry
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{
		sources: make(map[model.ComponentKey]*sourceState),
		log:     logrus.WithField("component_kind", "shutdown_coordinator"),
	}
}

// RegisterSource creates the shutdown and force signals for a source task.
// The source's Run loop selects on shutdown.C() to stop accepting new work
// and force.C() to abandon in-flight work immediately, and reports
// completion via MarkDone once fully stopped.
func (c *Coordinator) RegisterSource(key model.ComponentKey) (shutdown, force *Tripwire) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &sourceState{
		shutdown: NewTripwire(),
		force:    NewTripwire(),
		done:     make(chan struct{}),
	}
	c.sources[key] = st
	return st.shutdown, st.force
}

// MarkDone records that the source named by key has fully stopped. Sources
// call this once, after their Run loop has returned.
func (c *Coordinator) MarkDone(key model.ComponentKey) {
	c.mu.Lock()
	st, ok := c.sources[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-st.done:
	default:
		close(st.done)
	}
}

// ShutdownSource trips the graceful shutdown signal for key, then waits up
// to deadline for the source to report done via MarkDone. If the deadline
// elapses first it trips the force tripwire and returns an error naming the
// source and deadline (spec §4.3 "forced shutdown").
func (c *Coordinator) ShutdownSource(ctx context.Context, key model.ComponentKey, deadline time.Duration) error {
	c.mu.Lock()
	st, ok := c.sources[key]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("shutdown: unknown source %s", key)
	}

	log := c.log.WithField("component_id", key.ID)
	log.Info("shutting down source")
	st.shutdown.Fire()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-st.done:
		log.Info("source shut down gracefully")
		return nil
	case <-timer.C:
		log.Warn("source did not stop within deadline, forcing")
		st.force.Fire()
	case <-ctx.Done():
		st.force.Fire()
		return ctx.Err()
	}

	select {
	case <-st.done:
		return fmt.Errorf("source %s exceeded shutdown deadline %s, force-stopped", key, deadline)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes bookkeeping for a source once it is permanently gone
// (e.g. after a successful reload drops it from the topology).
func (c *Coordinator) Unregister(key model.ComponentKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, key)
}
