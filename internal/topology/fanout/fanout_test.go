package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus/internal/topology/model"
)

// recordingConsumer appends every event it receives (by a "seq" field) to
// a slice, guarded by a mutex since Fanout.deliver calls Send from its own
// per-consumer goroutines.
type recordingConsumer struct {
	mu   sync.Mutex
	seqs []int
}

func (c *recordingConsumer) Send(_ context.Context, ev model.Event) error {
	seq, _ := ev.(*model.LogEvent).Get("seq")
	c.mu.Lock()
	c.seqs = append(c.seqs, seq.(int))
	c.mu.Unlock()
	return nil
}

func (c *recordingConsumer) snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.seqs))
	copy(out, c.seqs)
	return out
}

func seqEvent(n int) *model.LogEvent {
	ev := model.NewLogEvent("test")
	ev.Set("seq", n)
	return ev
}

func runFanout(t *testing.T) (*Fanout, context.Context, context.CancelFunc, chan<- Control) {
	t.Helper()
	f := New(model.NewComponentKey(model.ScopeSource, "test"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()
	return f, ctx, cancel, f.Controller()
}

func TestFanoutDeliversFIFOPerConsumer(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	c := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("a"), c))

	for i := 0; i < 20; i++ {
		require.NoError(t, f.Send(ctx, seqEvent(i)))
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, c.snapshot())
}

func TestFanoutBroadcastsToAllConsumers(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	a := &recordingConsumer{}
	b := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("a"), a))
	require.NoError(t, Add(ctx, ctrl, model.Port("b"), b))

	require.NoError(t, f.Send(ctx, seqEvent(1)))
	require.NoError(t, f.Send(ctx, seqEvent(2)))

	assert.Equal(t, []int{1, 2}, a.snapshot())
	assert.Equal(t, []int{1, 2}, b.snapshot())
}

// TestFanoutHotAttachSeesOnlyLaterEvents covers spec §8 testable property 2:
// a consumer added mid-stream must not observe events sent before its Add
// was applied.
func TestFanoutHotAttachSeesOnlyLaterEvents(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	early := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("early"), early))

	require.NoError(t, f.Send(ctx, seqEvent(1)))
	require.NoError(t, f.Send(ctx, seqEvent(2)))

	late := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("late"), late))

	require.NoError(t, f.Send(ctx, seqEvent(3)))
	require.NoError(t, f.Send(ctx, seqEvent(4)))

	assert.Equal(t, []int{1, 2, 3, 4}, early.snapshot())
	assert.Equal(t, []int{3, 4}, late.snapshot(), "a hot-attached consumer must never see events sent before its Add was acknowledged")
}

// TestFanoutPauseThenReplaceIsAtomic covers spec §8 testable property 3: a
// pause, remove, add sequence driven through the synchronous Add/Remove/
// Pause/Resume helpers (each waiting for the fanout's own ack) must never
// let a replacement consumer observe events delivered to the paused one,
// nor drop events sent strictly after the replacement was added.
func TestFanoutPauseThenReplaceIsAtomic(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	original := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("p"), original))

	require.NoError(t, f.Send(ctx, seqEvent(1)))

	require.NoError(t, Pause(ctx, ctrl, model.Port("p")))
	require.NoError(t, f.Send(ctx, seqEvent(2))) // must be dropped on the floor, not delivered

	require.NoError(t, Remove(ctx, ctrl, model.Port("p")))

	replacement := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("p"), replacement))

	require.NoError(t, f.Send(ctx, seqEvent(3)))
	require.NoError(t, f.Send(ctx, seqEvent(4)))

	assert.Equal(t, []int{1}, original.snapshot(), "the paused/removed consumer must not see anything sent after its pause")
	assert.Equal(t, []int{3, 4}, replacement.snapshot(), "the replacement must see only events sent strictly after it was added, none lost or duplicated")
}

// TestFanoutResumeRedeliversSubsequentEvents confirms Resume un-pauses a
// consumer for events sent afterward (events sent while paused are not
// queued — spec §4.1 treats a paused consumer as simply excluded from
// delivery, not buffered).
func TestFanoutResumeRedeliversSubsequentEvents(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	c := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("p"), c))

	require.NoError(t, f.Send(ctx, seqEvent(1)))
	require.NoError(t, Pause(ctx, ctrl, model.Port("p")))
	require.NoError(t, f.Send(ctx, seqEvent(2)))
	require.NoError(t, Resume(ctx, ctrl, model.Port("p")))
	require.NoError(t, f.Send(ctx, seqEvent(3)))

	assert.Equal(t, []int{1, 3}, c.snapshot())
}

// TestFanoutRemovesConsumerOnSendFailure covers spec §4.1 "Failure": a
// consumer whose Send errors is dropped from the fanout and does not
// receive subsequent events.
func TestFanoutRemovesConsumerOnSendFailure(t *testing.T) {
	f, ctx, cancel, ctrl := runFanout(t)
	defer cancel()

	failing := ConsumerFunc(func(_ context.Context, _ model.Event) error {
		return context.DeadlineExceeded
	})
	require.NoError(t, Add(ctx, ctrl, model.Port("fail"), failing))

	survivor := &recordingConsumer{}
	require.NoError(t, Add(ctx, ctrl, model.Port("ok"), survivor))

	require.NoError(t, f.Send(ctx, seqEvent(1)))
	require.NoError(t, f.Send(ctx, seqEvent(2)))

	assert.Equal(t, []int{1, 2}, survivor.snapshot())

	// deliver removes the failed consumer before Send returns; re-adding a
	// consumer under the same port is then a fresh Add, not a reattachment.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, Add(ctx, ctrl, model.Port("fail"), survivor))
	require.NoError(t, f.Send(ctx, seqEvent(3)))
	// survivor is now registered under both "ok" and "fail", so it receives
	// event 3 twice (once per port); the two 3s may land in either order
	// since deliver fans out concurrently, but both prior events must be
	// intact and no other value can appear.
	assert.ElementsMatch(t, []int{1, 2, 3, 3}, survivor.snapshot())
}
