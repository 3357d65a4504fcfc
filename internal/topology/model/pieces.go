package model

import "context"

// TaskOutputKind discriminates why a built task's Run returned, mirroring
// the teacher's original Rust TaskOutput enum (see SPEC_FULL.md
// "Supplemented features" #1): the reconciler uses it to decide whether a
// finished task's buffer should be reattached on the next build.
type TaskOutputKind int

const (
	TaskOutputSource TaskOutputKind = iota
	TaskOutputTransform
	TaskOutputSink
)

// TaskOutput is what a built task yields on completion.
type TaskOutput struct {
	Kind TaskOutputKind
	// Sink carries the reusable buffer handles a sink task hands back so a
	// later rebuild with the same ComponentKey can resume from them
	// (spec §3 Invariant 3, §4.2).
	Sink *SinkHandoff
}

// SinkHandoff is the (key, acker) pair a finished sink task returns. It
// does not carry the sink's input stream; the reusable buffer triple for
// the next build's previousBuffers argument comes from Pieces.SinkBuffers.
type SinkHandoff struct {
	Key   ComponentKey
	Acker any // internal/topology/buffer.Acker; kept as `any` to avoid an import cycle
}

// Task is one asynchronous unit of work the builder schedules: a source
// (its fanout, pump, and server together), a transform runner, or a sink
// runner. Healthchecks are separate healthcheck.Runner values.
type Task struct {
	Key ComponentKey
	Run func(ctx context.Context) (TaskOutput, error)
}

// Input names a component and the OutputIds it is wired from (for
// diagnostics and the reconciler's own validation per spec §3 Invariant
// 1). It carries no producer handle; Pieces.Inputs holds
// builder.InputHandle values, which do.
type Input struct {
	Key      ComponentKey
	Upstream []OutputId
}
