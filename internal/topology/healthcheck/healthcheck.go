// Package healthcheck implements the sink healthcheck runner described in
// spec §4.7 (C7): each sink's healthcheck gets a fixed timeout and its
// outcome is logged and published as a metric, independent of the other
// sinks' checks.
package healthcheck

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"firestige.xyz/otus/internal/metrics"
	"firestige.xyz/otus/internal/topology/model"
)

// Timeout bounds how long a single sink's healthcheck is allowed to run
// (spec §4.7).
const Timeout = 10 * time.Second

// Outcome is the result of running one sink's healthcheck.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	TimedOut
	Disabled
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timeout"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Check is the function a sink plugin provides to probe its own readiness
// (e.g. dial its downstream, issue a lightweight ping).
type Check func(ctx context.Context) error

// Runner runs a single sink's Check under Timeout and reports the result.
type Runner struct {
	Key     model.ComponentKey
	Enabled bool
	Check   Check
}

// Run executes the healthcheck, honoring Timeout, and returns the outcome
// alongside any error observed (nil for Passed/Disabled).
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	log := logrus.WithFields(logrus.Fields{
		"component_kind": "healthcheck",
		"component_id":   r.Key.ID,
	})

	if !r.Enabled {
		log.Debug("healthcheck disabled")
		metrics.HealthcheckStatus.WithLabelValues(r.Key.ID).Set(metrics.HealthcheckStatusDisabled)
		return Disabled, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Check(checkCtx) }()

	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).Warn("healthcheck failed")
			metrics.HealthcheckStatus.WithLabelValues(r.Key.ID).Set(metrics.HealthcheckStatusFailed)
			return Failed, err
		}
		log.Debug("healthcheck passed")
		metrics.HealthcheckStatus.WithLabelValues(r.Key.ID).Set(metrics.HealthcheckStatusPassed)
		return Passed, nil
	case <-checkCtx.Done():
		log.Warn("healthcheck timed out")
		metrics.HealthcheckStatus.WithLabelValues(r.Key.ID).Set(metrics.HealthcheckStatusTimeout)
		return TimedOut, checkCtx.Err()
	}
}

// RunAll runs every given Runner independently and returns their outcomes
// keyed by component id; one sink's failure never blocks another's check.
func RunAll(ctx context.Context, runners []*Runner) map[string]Outcome {
	results := make(map[string]Outcome, len(runners))
	type res struct {
		id      string
		outcome Outcome
	}
	out := make(chan res, len(runners))
	for _, r := range runners {
		go func(r *Runner) {
			outcome, _ := r.Run(ctx)
			out <- res{id: r.Key.ID, outcome: outcome}
		}(r)
	}
	for range runners {
		r := <-out
		results[r.id] = r.outcome
	}
	return results
}
