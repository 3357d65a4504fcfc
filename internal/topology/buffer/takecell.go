package buffer

import "sync"

// TakeCell is a single-producer, take-once guarded optional (spec §9
// "Reusable sink receiver"). The builder may fail after allocating a
// buffer for a sink that is being rebuilt; the already-running sink task
// must keep draining the old buffer across that failed rebuild attempt,
// so the new buffer's consumer handle is parked in a TakeCell until a
// later, successful rebuild claims it.
type TakeCell struct {
	mu    sync.Mutex
	value *Stream
	taken bool
}

// NewTakeCell wraps a Stream in a cell that can be taken at most once.
func NewTakeCell(s *Stream) *TakeCell {
	return &TakeCell{value: s}
}

// Take claims the cell's value. It panics on a second call, since a
// TakeCell models a single handoff, not shared mutable state; a caller
// that needs a second handoff has mismodeled its lifecycle.
func (c *TakeCell) Take() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken {
		panic("buffer: TakeCell already taken")
	}
	c.taken = true
	return c.value
}

// Taken reports whether Take has already been called.
func (c *TakeCell) Taken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taken
}
