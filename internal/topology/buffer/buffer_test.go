package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus/internal/topology/model"
)

func TestBufferFIFOOrder(t *testing.T) {
	b := New(4, Block, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := model.NewLogEvent("test")
		ev.Set("i", i)
		require.NoError(t, b.Producer().Send(ctx, ev))
	}

	stream := b.Stream()
	for i := 0; i < 3; i++ {
		ev, ok := stream.Next(ctx)
		require.True(t, ok)
		v, _ := ev.(*model.LogEvent).Get("i")
		assert.Equal(t, i, v)
	}
}

func TestBufferDropNewestWhenFull(t *testing.T) {
	b := New(1, DropNewest, nil)
	ctx := context.Background()

	require.NoError(t, b.Producer().Send(ctx, model.NewLogEvent("a")))
	// second send should be dropped silently, not block.
	done := make(chan error, 1)
	go func() { done <- b.Producer().Send(ctx, model.NewLogEvent("b")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DropNewest producer blocked instead of dropping")
	}
}

func TestBufferBlockWhenFullBlocksUntilDrained(t *testing.T) {
	b := New(1, Block, nil)
	ctx := context.Background()
	require.NoError(t, b.Producer().Send(ctx, model.NewLogEvent("a")))

	sendDone := make(chan error, 1)
	go func() { sendDone <- b.Producer().Send(ctx, model.NewLogEvent("b")) }()

	select {
	case <-sendDone:
		t.Fatal("Block producer should not have completed before drain")
	case <-time.After(50 * time.Millisecond):
	}

	stream := b.Stream()
	_, ok := stream.Next(ctx)
	require.True(t, ok)

	select {
	case err := <-sendDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Block producer did not unblock after drain")
	}
}

func TestAckerTracksAcked(t *testing.T) {
	b := New(4, Block, nil)
	acker := b.Acker()
	acker.Ack(3)
	assert.Equal(t, int64(3), b.acker.Acked())
}

func TestTakeCellPanicsOnSecondTake(t *testing.T) {
	b := New(1, Block, nil)
	cell := NewTakeCell(b.Stream())

	require.NotPanics(t, func() { cell.Take() })
	assert.True(t, cell.Taken())
	assert.Panics(t, func() { cell.Take() })
}

func TestParseWhenFull(t *testing.T) {
	v, err := ParseWhenFull("drop_newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, v)

	v, err = ParseWhenFull("")
	require.NoError(t, err)
	assert.Equal(t, Block, v)

	_, err = ParseWhenFull("bogus")
	require.Error(t, err)
}
