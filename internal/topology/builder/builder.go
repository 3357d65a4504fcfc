package builder

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/otus/internal/metrics"
	"firestige.xyz/otus/internal/topology/buffer"
	"firestige.xyz/otus/internal/topology/enrichment"
	"firestige.xyz/otus/internal/topology/fanout"
	"firestige.xyz/otus/internal/topology/filter"
	"firestige.xyz/otus/internal/topology/healthcheck"
	"firestige.xyz/otus/internal/topology/model"
	"firestige.xyz/otus/internal/topology/shutdown"
	"firestige.xyz/otus/internal/topology/transform"
)

// sourcePipelineDepth is the bounded queue depth every source's pipeline
// channel is allocated with (spec §4.6 step 2).
const sourcePipelineDepth = 1000

// transformBufferCapacity is the fixed memory-buffer capacity allocated
// for every transform's input (spec §4.6 step 3).
const transformBufferCapacity = 100

// Builder turns a (Config, Diff, previous buffers) triple into a Pieces
// bundle per spec §4.6. It owns the process-wide ShutdownCoordinator and
// EnrichmentRegistry across rebuilds, matching their described lifecycle
// (spec §4.3, §4.4): both persist from one Build call to the next.
type Builder struct {
	registry    *Registry
	coordinator *shutdown.Coordinator
	enrichment  *enrichment.Registry
	log         *logrus.Entry
}

// New creates a Builder backed by the given plugin factory registry.
func New(registry *Registry) *Builder {
	return &Builder{
		registry:    registry,
		coordinator: shutdown.New(),
		enrichment:  enrichment.New(),
		log:         logrus.WithField("component_kind", "builder"),
	}
}

// Build implements spec §4.6's six-step build order. Errors are
// accumulated, not short-circuited: every component in the diff is
// attempted even if earlier ones failed (spec §4.6, §7).
func (b *Builder) Build(cfg *model.Config, diff *model.Diff, previousBuffers map[model.ComponentKey]*SinkBuffer) (*Pieces, []error) {
	var errs []error
	pieces := newPieces(b.coordinator, b.enrichment)

	// reopen the loading phase the previous build's FinishLoad closed.
	b.enrichment.Reset()
	b.buildEnrichmentTables(cfg, diff, &errs)
	b.buildSources(cfg, diff, pieces, &errs)
	b.buildTransforms(cfg, diff, pieces, &errs)
	b.buildSinks(cfg, diff, previousBuffers, pieces, &errs)
	b.enrichment.FinishLoad()

	if len(errs) > 0 {
		return nil, errs
	}
	return pieces, nil
}

// Step 1: enrichment tables (spec §4.6 step 1, §4.4 reload protocol).
func (b *Builder) buildEnrichmentTables(cfg *model.Config, diff *model.Diff, errs *[]error) {
	if err := b.enrichment.ReloadStale(); err != nil {
		*errs = append(*errs, err)
	}
	for _, key := range cfg.SortedEnrichmentTableKeys() {
		if !diff.ContainsNew(key) {
			continue
		}
		tableCfg := cfg.EnrichmentTables[key]
		factory, ok := b.registry.EnrichmentTables[tableCfg.Typetag]
		if !ok {
			*errs = append(*errs, fmt.Errorf("enrichment table %q: unknown type %q", key, tableCfg.Typetag))
			continue
		}
		rebuild := func() (enrichment.Table, error) { return factory(tableCfg.Inner) }
		table, err := rebuild()
		if err != nil {
			*errs = append(*errs, fmt.Errorf("enrichment table %q: %w", key, err))
			continue
		}
		if err := b.enrichment.AddIndex(key, table, rebuild); err != nil {
			*errs = append(*errs, fmt.Errorf("enrichment table %q: %w", key, err))
		}
	}
}

// sourceBuild holds one source's construction outcome, computed on a
// worker goroutine and assembled into Pieces sequentially afterward.
type sourceBuild struct {
	key         model.ComponentKey
	id          string
	pipeline    chan model.Event
	force       *shutdown.Tripwire
	server      SourceServer
	err         error
}

// Step 2: sources (spec §4.6 step 2). Factories run concurrently — one
// goroutine per new source, via errgroup — since a factory may dial out
// or read a file; the resulting Pieces entries are then assembled
// sequentially in sorted-key order so map writes and error ordering stay
// deterministic (SPEC_FULL.md domain stack, golang.org/x/sync row).
func (b *Builder) buildSources(cfg *model.Config, diff *model.Diff, pieces *Pieces, errs *[]error) {
	ids := newIDs(cfg.SortedSourceKeys(), diff.IsNewSource)
	builds := make([]sourceBuild, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			builds[i] = b.prepareSource(cfg, id)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range builds {
		if r.err != nil {
			*errs = append(*errs, model.NewBuildError(r.key, r.err))
			metrics.BuildErrorsTotal.WithLabelValues(r.id).Inc()
			continue
		}
		out := fanout.New(r.key, metrics.FanoutConsumersRemovedTotal.WithLabelValues(r.id))
		pieces.Outputs[r.key] = map[model.Port]chan<- fanout.Control{model.PrimaryPort: out.Controller()}
		pieces.SourceTasks[r.key] = model.Task{
			Key: r.key,
			Run: b.sourceTaskFunc(r.key, r.pipeline, out, r.server, r.force),
		}
	}
}

// prepareSource builds one source's server instance; it touches only its
// own local state and the shutdown coordinator (which is itself
// concurrency-safe), so it is safe to run from multiple goroutines.
func (b *Builder) prepareSource(cfg *model.Config, id string) sourceBuild {
	key := model.NewComponentKey(model.ScopeSource, id)
	srcCfg := cfg.Sources[id]

	factory, ok := b.registry.Sources[srcCfg.Typetag]
	if !ok {
		return sourceBuild{key: key, id: id, err: fmt.Errorf("unknown source type %q", srcCfg.Typetag)}
	}

	pipeline := make(chan model.Event, sourcePipelineDepth)
	shutdownSig, force := b.coordinator.RegisterSource(key)
	sctx := &SourceContext{
		Key:      key,
		Global:   cfg.Global,
		Proxy:    model.MergeProxy(srcCfg.Proxy, cfg.Global.Proxy),
		Shutdown: shutdownSig,
		Force:    force,
		Pipeline: pipeline,
		Config:   srcCfg.Inner,
	}

	server, err := factory(sctx)
	if err != nil {
		return sourceBuild{key: key, id: id, err: err}
	}
	return sourceBuild{key: key, id: id, pipeline: pipeline, force: force, server: server}
}

// newIDs filters a sorted key slice by a membership predicate, preserving
// order.
func newIDs(sorted []string, isNew func(string) bool) []string {
	out := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if isNew(id) {
			out = append(out, id)
		}
	}
	return out
}

// sourceTaskFunc builds the combined pump+server task for one source: the
// fanout's own run loop, a pump forwarding pipeline events into it, and a
// server future raced against the force-tripwire with a bias toward the
// tripwire (spec §4.6 step 2, §9 "biased select").
func (b *Builder) sourceTaskFunc(key model.ComponentKey, pipeline <-chan model.Event, out *fanout.Fanout, server SourceServer, force *shutdown.Tripwire) func(context.Context) (model.TaskOutput, error) {
	return func(ctx context.Context) (model.TaskOutput, error) {
		defer b.coordinator.MarkDone(key)

		go out.Run(ctx)

		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			for {
				select {
				case ev, ok := <-pipeline:
					if !ok {
						return
					}
					_ = out.Send(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}()

		serverDone := make(chan error, 1)
		go func() { serverDone <- server.Run(ctx) }()

		// bias the race toward the tripwire: a source already past its
		// deadline must not win a fair select against a server that is
		// about to finish on its own.
		select {
		case <-force.C():
			return model.TaskOutput{Kind: model.TaskOutputSource}, fmt.Errorf("source %s force-stopped", key)
		default:
		}

		select {
		case <-force.C():
			return model.TaskOutput{Kind: model.TaskOutputSource}, fmt.Errorf("source %s force-stopped", key)
		case err := <-serverDone:
			return model.TaskOutput{Kind: model.TaskOutputSource}, err
		}
	}
}

// transformBuild holds one transform's construction outcome.
type transformBuild struct {
	key model.ComponentKey
	id  string
	tr  transform.Transform
	err error
}

// Step 3: transforms (spec §4.6 step 3, §4.5). Factories run concurrently
// via errgroup; assembly is sequential for the same reason as buildSources.
func (b *Builder) buildTransforms(cfg *model.Config, diff *model.Diff, pieces *Pieces, errs *[]error) {
	ids := newIDs(cfg.SortedTransformKeys(), diff.IsNewTransform)
	builds := make([]transformBuild, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			key := model.NewComponentKey(model.ScopeTransform, id)
			trCfg := cfg.Transforms[id]
			factory, ok := b.registry.Transforms[trCfg.Typetag]
			if !ok {
				builds[i] = transformBuild{key: key, id: id, err: fmt.Errorf("unknown transform type %q", trCfg.Typetag)}
				return nil
			}
			tctx := &TransformContext{Key: key, Enrichment: b.enrichment, Config: trCfg.Inner}
			tr, err := factory(tctx)
			builds[i] = transformBuild{key: key, id: id, tr: tr, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range builds {
		b.assembleTransform(cfg, r, pieces, errs)
	}
}

func (b *Builder) assembleTransform(cfg *model.Config, r transformBuild, pieces *Pieces, errs *[]error) {
	id, key, tr := r.id, r.key, r.tr
	if r.err != nil {
		*errs = append(*errs, model.NewBuildError(key, r.err))
		metrics.BuildErrorsTotal.WithLabelValues(id).Inc()
		return
	}
	trCfg := cfg.Transforms[id]
	buf := buffer.New(transformBufferCapacity, buffer.Block, nil)
	upstream := make([]model.OutputId, 0, len(trCfg.Inputs))
	for _, in := range trCfg.Inputs {
		upstream = append(upstream, resolveOutputId(cfg, in))
	}
	pieces.Inputs[key] = InputHandle{Producer: buf.Producer(), Upstream: upstream}

	primary := fanout.New(key, metrics.FanoutConsumersRemovedTotal.WithLabelValues(id))
	ports := map[model.Port]chan<- fanout.Control{model.PrimaryPort: primary.Controller()}
	consumers := map[model.Port]fanout.Consumer{model.PrimaryPort: primary}

	var dropped *fanout.Fanout
	if tr.Kind == transform.KindFallibleFunction {
		dropped = fanout.New(key, metrics.FanoutConsumersRemovedTotal.WithLabelValues(id))
		ports[model.DroppedPort] = dropped.Controller()
		consumers[model.DroppedPort] = dropped
	}
	pieces.Outputs[key] = ports

	runner := transform.New(tr, buf.Stream(), consumers)
	pieces.Tasks[key] = model.Task{
		Key: key,
		Run: func(ctx context.Context) (model.TaskOutput, error) {
			go primary.Run(ctx)
			if dropped != nil {
				go dropped.Run(ctx)
			}
			err := runner.Run(ctx)
			return model.TaskOutput{Kind: model.TaskOutputTransform}, err
		},
	}
}

// sinkBuild holds one sink's construction outcome: its buffer (new or
// reused) and its Sink instance.
type sinkBuild struct {
	key  model.ComponentKey
	id   string
	sb   *SinkBuffer
	sctx *SinkContext
	sink Sink
	err  error
}

// Step 4: sinks (spec §4.6 step 4, §4.7). Buffer allocation (which may
// touch disk for the durable variant) and factory construction run
// concurrently per sink; assembly into Pieces is sequential.
func (b *Builder) buildSinks(cfg *model.Config, diff *model.Diff, previousBuffers map[model.ComponentKey]*SinkBuffer, pieces *Pieces, errs *[]error) {
	ids := newIDs(cfg.SortedSinkKeys(), diff.IsNewSink)
	builds := make([]sinkBuild, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			builds[i] = b.prepareSink(cfg, id, previousBuffers)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range builds {
		b.assembleSink(cfg, r, pieces, errs)
	}
}

func (b *Builder) prepareSink(cfg *model.Config, id string, previousBuffers map[model.ComponentKey]*SinkBuffer) sinkBuild {
	key := model.NewComponentKey(model.ScopeSink, id)
	sinkCfg := cfg.Sinks[id]

	sb, reused := previousBuffers[key]
	if !reused {
		var err error
		sb, err = newSinkBuffer(key, cfg.Global.DataDir, sinkCfg.Buffer)
		if err != nil {
			return sinkBuild{key: key, id: id, err: err}
		}
	}

	factory, ok := b.registry.Sinks[sinkCfg.Typetag]
	if !ok {
		return sinkBuild{key: key, id: id, sb: sb, err: fmt.Errorf("unknown sink type %q", sinkCfg.Typetag)}
	}

	accept, err := model.ParseDataType(sinkCfg.Accept)
	if err != nil {
		return sinkBuild{key: key, id: id, sb: sb, err: err}
	}

	sctx := &SinkContext{
		Key:                key,
		Acker:              sb.Acker,
		HealthcheckEnabled: cfg.Global.Healthchecks.Enabled && sinkCfg.Healthcheck.Enabled,
		Global:             cfg.Global,
		Proxy:              model.MergeProxy(sinkCfg.Proxy, cfg.Global.Proxy),
		Accept:             accept,
		Config:             sinkCfg.Inner,
	}
	sink, err := factory(sctx)
	if err != nil {
		return sinkBuild{key: key, id: id, sb: sb, err: err}
	}
	return sinkBuild{key: key, id: id, sb: sb, sctx: sctx, sink: sink}
}

func (b *Builder) assembleSink(cfg *model.Config, r sinkBuild, pieces *Pieces, errs *[]error) {
	id, key := r.id, r.key
	if r.sb != nil {
		pieces.SinkBuffers[key] = r.sb

		sinkCfg := cfg.Sinks[id]
		upstream := make([]model.OutputId, 0, len(sinkCfg.Inputs))
		for _, in := range sinkCfg.Inputs {
			upstream = append(upstream, resolveOutputId(cfg, in))
		}
		pieces.Inputs[key] = InputHandle{Producer: r.sb.Producer, Upstream: upstream}
	}

	if r.err != nil {
		*errs = append(*errs, model.NewBuildError(key, r.err))
		metrics.BuildErrorsTotal.WithLabelValues(id).Inc()
		return
	}

	sb, sink := r.sb, r.sink
	detach := shutdown.NewTripwire()
	pieces.DetachTriggers[key] = detach

	pieces.Healthchecks[key] = &healthcheck.Runner{
		Key:     key,
		Enabled: r.sctx.HealthcheckEnabled,
		Check:   sink.Healthcheck,
	}

	pieces.Tasks[key] = model.Task{
		Key: key,
		Run: func(ctx context.Context) (model.TaskOutput, error) {
			stream := sb.Cell.Take()
			filtered := &filteredStream{underlying: stream, detach: detach, key: key, accept: r.sctx.Accept}
			err := sink.Run(ctx, filtered)
			return model.TaskOutput{
				Kind: model.TaskOutputSink,
				Sink: &model.SinkHandoff{Key: key, Acker: sb.Acker},
			}, err
		},
	}
}

// resolveOutputId resolves an input string "key" or "key.port" (spec §6)
// to an OutputId, disambiguating scope against the component sets
// declared in cfg — reconciling references across categories is the
// configuration layer's concern (spec §9 "Typetag dispatch"); the core
// only needs an answer consistent with what is actually in Config.
func resolveOutputId(cfg *model.Config, s string) model.OutputId {
	out := model.ParseOutputId(model.ScopeSource, s)
	if _, ok := cfg.Sources[out.Key.ID]; ok {
		return out
	}
	out = model.ParseOutputId(model.ScopeTransform, s)
	if _, ok := cfg.Transforms[out.Key.ID]; ok {
		return out
	}
	return model.ParseOutputId(model.ScopeSource, s)
}

func newSinkBuffer(key model.ComponentKey, dataDir string, cfg model.BufferConfig) (*SinkBuffer, error) {
	whenFull, err := buffer.ParseWhenFull(cfg.WhenFull)
	if err != nil {
		return nil, err
	}
	dropped := metrics.BufferEventsDroppedTotal.WithLabelValues(key.ID)

	switch cfg.Type {
	case "disk":
		dir := filepath.Join(dataDir, key.ID)
		db, err := buffer.NewDisk(dir, cfg.MaxBytes, transformBufferCapacity, whenFull, dropped)
		if err != nil {
			return nil, err
		}
		return &SinkBuffer{
			Producer: db.Producer(),
			Cell:     buffer.NewTakeCell(db.Stream()),
			Acker:    db.Acker(),
			closer:   db.Close,
		}, nil
	default:
		capacity := cfg.MaxEvents
		if capacity <= 0 {
			capacity = 100
		}
		buf := buffer.New(capacity, whenFull, dropped)
		return &SinkBuffer{
			Producer: buf.Producer(),
			Cell:     buffer.NewTakeCell(buf.Stream()),
			Acker:    buf.Acker(),
			closer:   func() error { buf.Close(); return nil },
		}, nil
	}
}

// filteredStream wraps a sink's raw buffer stream with the event-type
// filter, the events-received counters, and the detach-trigger bound
// (spec §4.6 step 4).
type filteredStream struct {
	underlying *buffer.Stream
	detach     *shutdown.Tripwire
	key        model.ComponentKey
	accept     model.DataType
}

func (s *filteredStream) Next(ctx context.Context) (model.Event, bool) {
	for {
		ev, ok := s.underlying.NextSelect(ctx, s.detach.C())
		if !ok {
			return nil, false
		}
		if !filter.EventTypeFilter(s.accept, ev) {
			continue
		}
		metrics.EventsReceivedTotal.WithLabelValues(s.key.ID, "sink").Inc()
		metrics.EventsReceivedBytes.WithLabelValues(s.key.ID, "sink").Add(float64(ev.EstimatedSize()))
		return ev, true
	}
}
