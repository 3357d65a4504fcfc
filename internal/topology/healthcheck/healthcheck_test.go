package healthcheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus/internal/topology/model"
)

func TestRunPassed(t *testing.T) {
	r := &Runner{
		Key:     model.NewComponentKey(model.ScopeSink, "s1"),
		Enabled: true,
		Check:   func(ctx context.Context) error { return nil },
	}
	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Passed, outcome)
}

func TestRunFailed(t *testing.T) {
	r := &Runner{
		Key:     model.NewComponentKey(model.ScopeSink, "s2"),
		Enabled: true,
		Check:   func(ctx context.Context) error { return errors.New("unreachable") },
	}
	outcome, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
}

func TestRunTimesOut(t *testing.T) {
	r := &Runner{
		Key:     model.NewComponentKey(model.ScopeSink, "s3"),
		Enabled: true,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	// Runner.Run derives its Timeout-bounded context from the parent, so a
	// parent that expires after 10ms times the check out without waiting
	// for the full Timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	outcome, err := r.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, TimedOut, outcome)
}

func TestRunDisabled(t *testing.T) {
	r := &Runner{
		Key:     model.NewComponentKey(model.ScopeSink, "s4"),
		Enabled: false,
		Check:   func(ctx context.Context) error { return errors.New("should not run") },
	}
	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Disabled, outcome)
}

func TestRunAllIndependent(t *testing.T) {
	runners := []*Runner{
		{Key: model.NewComponentKey(model.ScopeSink, "ok"), Enabled: true, Check: func(ctx context.Context) error { return nil }},
		{Key: model.NewComponentKey(model.ScopeSink, "bad"), Enabled: true, Check: func(ctx context.Context) error { return errors.New("down") }},
	}
	results := RunAll(context.Background(), runners)
	assert.Equal(t, Passed, results["ok"])
	assert.Equal(t, Failed, results["bad"])
}
