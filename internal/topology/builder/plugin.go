// Package builder implements the build pipeline described in spec §4.6
// (C6): it turns a (Config, Diff, previous buffers) triple into a running
// set of tasks, wired through C1-C5, C7, and C8.
//
// Concrete source/transform/sink implementations are deliberately out of
// scope (spec.md §1 Non-goals); this package only defines the narrow
// factory interfaces a plugin layer implements, grounded on the teacher's
// own factory registry (internal/otus/factory/factory.go) and its
// Module/pipeline interfaces (internal/otus/module/pipeline).
package builder

import (
	"context"

	"firestige.xyz/otus/internal/topology/buffer"
	"firestige.xyz/otus/internal/topology/enrichment"
	"firestige.xyz/otus/internal/topology/model"
	"firestige.xyz/otus/internal/topology/shutdown"
	"firestige.xyz/otus/internal/topology/transform"
)

// SourceContext is everything a source factory needs to build its
// instance (spec §4.6 step 2): globals, its shutdown signals, the
// pipeline channel it emits into, and its merged proxy configuration.
type SourceContext struct {
	Key      model.ComponentKey
	Global   model.GlobalConfig
	Proxy    *model.ProxyConfig
	Shutdown *shutdown.Tripwire
	Force    *shutdown.Tripwire
	// Pipeline is the bounded (depth 1000) channel the source writes
	// events into; the builder's pump task forwards it into the fanout
	// (GLOSSARY "Pump").
	Pipeline chan<- model.Event
	Config   map[string]any
}

// SourceServer is what a source factory returns: a future the builder's
// server task races against the force-tripwire (spec §4.6 step 2, §9
// "biased select toward the tripwire").
type SourceServer interface {
	Run(ctx context.Context) error
}

// SourceFactory builds a SourceServer for one source component.
type SourceFactory func(sctx *SourceContext) (SourceServer, error)

// TransformContext is what a transform factory needs: its own key and a
// handle to the enrichment registry (still in its loading phase when
// transforms are built, per the build order in spec §4.6).
type TransformContext struct {
	Key        model.ComponentKey
	Enrichment *enrichment.Registry
	Config     map[string]any
}

// TransformFactory builds a transform.Transform value (one of the three
// dispatch shapes, spec §4.5) for one transform component.
type TransformFactory func(tctx *TransformContext) (transform.Transform, error)

// SinkContext is what a sink factory needs: its acker, healthcheck
// policy, globals, merged proxy, and declared accept type.
type SinkContext struct {
	Key                model.ComponentKey
	Acker              buffer.Acker
	HealthcheckEnabled bool
	Global             model.GlobalConfig
	Proxy              *model.ProxyConfig
	// Accept is the edge-level event-type filter declared on this sink's
	// configuration entry (spec §4.8), threaded by the builder into the
	// filteredStream wrapping the sink's input, the same way
	// transform.Transform.Accept is threaded into Runner.RunSync.
	Accept model.DataType
	Config map[string]any
}

// EventStream is the narrow read side of a buffer.Stream a sink consumes;
// by the time a Sink sees one, the builder has already applied the
// event-type filter, the events-received counter, and the detach-trigger
// bound (spec §4.6 step 4).
type EventStream interface {
	Next(ctx context.Context) (model.Event, bool)
}

// Sink is what a sink factory returns: a run loop over its filtered input
// stream, and an independent healthcheck probe.
type Sink interface {
	Run(ctx context.Context, in EventStream) error
	Healthcheck(ctx context.Context) error
}

// SinkFactory builds a Sink for one sink component.
type SinkFactory func(sctx *SinkContext) (Sink, error)

// EnrichmentFactory builds an enrichment.Table for one enrichment-table
// component from its raw configuration.
type EnrichmentFactory func(cfg map[string]any) (enrichment.Table, error)

// Registry is the set of factories the builder dispatches to by typetag,
// standing in for the configuration layer's dynamic construction (spec §9
// "Typetag dispatch... the configuration layer's concern").
type Registry struct {
	Sources          map[string]SourceFactory
	Transforms       map[string]TransformFactory
	Sinks            map[string]SinkFactory
	EnrichmentTables map[string]EnrichmentFactory
}

// NewRegistry returns an empty factory Registry ready for RegisterSource
// etc. or direct field assignment.
func NewRegistry() *Registry {
	return &Registry{
		Sources:          make(map[string]SourceFactory),
		Transforms:       make(map[string]TransformFactory),
		Sinks:            make(map[string]SinkFactory),
		EnrichmentTables: make(map[string]EnrichmentFactory),
	}
}

func (r *Registry) RegisterSource(typetag string, f SourceFactory)       { r.Sources[typetag] = f }
func (r *Registry) RegisterTransform(typetag string, f TransformFactory) { r.Transforms[typetag] = f }
func (r *Registry) RegisterSink(typetag string, f SinkFactory)           { r.Sinks[typetag] = f }
func (r *Registry) RegisterEnrichmentTable(typetag string, f EnrichmentFactory) {
	r.EnrichmentTables[typetag] = f
}
