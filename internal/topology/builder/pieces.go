package builder

import (
	"firestige.xyz/otus/internal/topology/buffer"
	"firestige.xyz/otus/internal/topology/enrichment"
	"firestige.xyz/otus/internal/topology/fanout"
	"firestige.xyz/otus/internal/topology/healthcheck"
	"firestige.xyz/otus/internal/topology/model"
	"firestige.xyz/otus/internal/topology/shutdown"
)

// InputHandle is the (producer handle, upstream OutputIds) pair spec §3
// describes for every key in Pieces.Inputs.
type InputHandle struct {
	Producer buffer.Producer
	Upstream []model.OutputId
}

// SinkBuffer is the (producer, take-cell, acker) triple a sink's buffer
// exposes, reused verbatim across rebuilds when the sink's key persists
// (spec §3 Invariant 3, §4.2 "Reuse across rebuilds"). The builder's
// caller carries the map of these forward as the next build's
// previous_buffers argument.
type SinkBuffer struct {
	Producer buffer.Producer
	Cell     *buffer.TakeCell
	Acker    buffer.Acker
	// closer releases the underlying buffer (memory: closes its channel;
	// disk: also removes its index file). It is set when the buffer is
	// created; only the reconciler that ultimately retires a sink key
	// should call it.
	closer func() error
}

// Close releases the sink's underlying buffer. Call only when the sink
// key is being permanently retired, not on an ordinary rebuild reuse.
func (b *SinkBuffer) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Pieces is the builder's output bundle (spec §3 "Pieces", GLOSSARY).
type Pieces struct {
	Inputs       map[model.ComponentKey]InputHandle
	Outputs      map[model.ComponentKey]map[model.Port]chan<- fanout.Control
	Tasks        map[model.ComponentKey]model.Task
	SourceTasks  map[model.ComponentKey]model.Task
	Healthchecks map[model.ComponentKey]*healthcheck.Runner

	ShutdownCoordinator *shutdown.Coordinator
	DetachTriggers      map[model.ComponentKey]*shutdown.Tripwire
	EnrichmentTables    *enrichment.Registry

	// SinkBuffers carries forward the (producer, cell, acker) triple for
	// every sink built or reused in this round, for the caller to pass as
	// the next build's previous_buffers (spec §4.2 "Reuse across rebuilds").
	SinkBuffers map[model.ComponentKey]*SinkBuffer
}

func newPieces(coord *shutdown.Coordinator, registry *enrichment.Registry) *Pieces {
	return &Pieces{
		Inputs:              make(map[model.ComponentKey]InputHandle),
		Outputs:             make(map[model.ComponentKey]map[model.Port]chan<- fanout.Control),
		Tasks:               make(map[model.ComponentKey]model.Task),
		SourceTasks:         make(map[model.ComponentKey]model.Task),
		Healthchecks:        make(map[model.ComponentKey]*healthcheck.Runner),
		ShutdownCoordinator: coord,
		DetachTriggers:      make(map[model.ComponentKey]*shutdown.Tripwire),
		EnrichmentTables:    registry,
		SinkBuffers:         make(map[model.ComponentKey]*SinkBuffer),
	}
}
