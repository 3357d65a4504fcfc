package builder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus/internal/topology/fanout"
	"firestige.xyz/otus/internal/topology/model"
	"firestige.xyz/otus/internal/topology/transform"
)

// fakeSource emits the given events onto its pipeline, then idles until
// its context is cancelled.
type fakeSource struct {
	events []model.Event
	ctx    *SourceContext
}

func (s *fakeSource) Run(ctx context.Context) error {
	for _, ev := range s.events {
		select {
		case s.ctx.Pipeline <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// collectorSink accumulates every event it sees.
type collectorSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *collectorSink) Run(ctx context.Context, in EventStream) error {
	for {
		ev, ok := in.Next(ctx)
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}
}

func (s *collectorSink) Healthcheck(ctx context.Context) error { return nil }

func (s *collectorSink) snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// splice wires every component's declared Upstream OutputIds into the
// fanout control channel of the component it names, standing in for the
// out-of-scope reconciler during tests.
func splice(t *testing.T, ctx context.Context, pieces *Pieces) {
	t.Helper()
	for key, input := range pieces.Inputs {
		for _, up := range input.Upstream {
			ctrl, ok := pieces.Outputs[up.Key][up.Port]
			require.True(t, ok, "missing output %s for input %s", up, key)
			require.NoError(t, fanout.Add(ctx, ctrl, model.Port(key.String()), input.Producer))
		}
	}
}

func runAll(ctx context.Context, pieces *Pieces) {
	for _, task := range pieces.SourceTasks {
		go task.Run(ctx)
	}
	for _, task := range pieces.Tasks {
		go task.Run(ctx)
	}
}

func newTestConfig() *model.Config {
	return &model.Config{
		Global:           model.GlobalConfig{},
		Sources:          map[string]*model.SourceConfig{},
		Transforms:       map[string]*model.TransformConfig{},
		Sinks:            map[string]*model.SinkConfig{},
		EnrichmentTables: map[string]*model.EnrichmentTableConfig{},
	}
}

func TestBuildS1IdentityPipeline(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sources["s"] = &model.SourceConfig{Typetag: "fake"}
	cfg.Transforms["t"] = &model.TransformConfig{Typetag: "identity", Inputs: []string{"s"}}
	cfg.Sinks["k"] = &model.SinkConfig{Typetag: "collector", Inputs: []string{"t"}}

	registry := NewRegistry()
	var src *fakeSource
	registry.RegisterSource("fake", func(sctx *SourceContext) (SourceServer, error) {
		ev := model.NewLogEvent("fake")
		ev.Set(model.LogFieldMessage, "hi")
		src = &fakeSource{events: []model.Event{ev}, ctx: sctx}
		return src, nil
	})
	registry.RegisterTransform("identity", func(tctx *TransformContext) (transform.Transform, error) {
		return transform.Transform{
			Key:    tctx.Key,
			Accept: model.DataTypeAny,
			Kind:   transform.KindFunction,
			Function: func(ev model.Event) []model.Event {
				return []model.Event{ev}
			},
		}, nil
	})
	var sink *collectorSink
	registry.RegisterSink("collector", func(sctx *SinkContext) (Sink, error) {
		sink = &collectorSink{}
		return sink, nil
	})

	b := New(registry)
	pieces, errs := b.Build(cfg, model.FullDiff(cfg), nil)
	require.Empty(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	splice(t, ctx, pieces)
	runAll(ctx, pieces)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	got := sink.snapshot()[0].(*model.LogEvent)
	msg, _ := got.Get(model.LogFieldMessage)
	assert.Equal(t, "hi", msg)
	st, _ := got.Get(model.LogFieldSourceType)
	assert.Equal(t, "fake", st)
}

func TestBuildS4FallibleTransformRouting(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sources["s"] = &model.SourceConfig{Typetag: "fake"}
	cfg.Transforms["t"] = &model.TransformConfig{Typetag: "odd-even", Inputs: []string{"s"}}
	cfg.Sinks["ok"] = &model.SinkConfig{Typetag: "collector", Inputs: []string{"t"}}
	cfg.Sinks["dropped"] = &model.SinkConfig{Typetag: "collector", Inputs: []string{"t.dropped"}}

	registry := NewRegistry()
	registry.RegisterSource("fake", func(sctx *SourceContext) (SourceServer, error) {
		events := make([]model.Event, 0, 4)
		for i := 0; i < 4; i++ {
			ev := model.NewLogEvent("fake")
			ev.Set("i", i)
			events = append(events, ev)
		}
		return &fakeSource{events: events, ctx: sctx}, nil
	})
	registry.RegisterTransform("odd-even", func(tctx *TransformContext) (transform.Transform, error) {
		return transform.Transform{
			Key:    tctx.Key,
			Accept: model.DataTypeAny,
			Kind:   transform.KindFallibleFunction,
			FallibleFunction: func(ev model.Event) ([]model.Event, []model.Event) {
				i, _ := ev.(*model.LogEvent).Get("i")
				if i.(int)%2 == 0 {
					return nil, []model.Event{ev}
				}
				return []model.Event{ev}, nil
			},
		}, nil
	})
	sinks := map[string]*collectorSink{}
	registry.RegisterSink("collector", func(sctx *SinkContext) (Sink, error) {
		s := &collectorSink{}
		sinks[sctx.Key.ID] = s
		return s, nil
	})

	b := New(registry)
	pieces, errs := b.Build(cfg, model.FullDiff(cfg), nil)
	require.Empty(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	splice(t, ctx, pieces)
	runAll(ctx, pieces)

	require.Eventually(t, func() bool {
		return len(sinks["ok"].snapshot()) == 2 && len(sinks["dropped"].snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestBuildSinkAcceptFiltersByDataType covers spec §4.8 testable property
// 8 on a sink edge: a sink declaring accept: "metric" must never see a
// log event forwarded to it, even though its source emits both.
func TestBuildSinkAcceptFiltersByDataType(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sources["s"] = &model.SourceConfig{Typetag: "mixed"}
	cfg.Sinks["metrics-only"] = &model.SinkConfig{Typetag: "collector", Inputs: []string{"s"}, Accept: "metric"}

	registry := NewRegistry()
	registry.RegisterSource("mixed", func(sctx *SourceContext) (SourceServer, error) {
		logEv := model.NewLogEvent("fake")
		metricEv := &model.MetricEvent{Name: "requests_total", Kind: model.MetricKindCounter, Value: 1}
		return &fakeSource{events: []model.Event{logEv, metricEv}, ctx: sctx}, nil
	})
	var sink *collectorSink
	registry.RegisterSink("collector", func(sctx *SinkContext) (Sink, error) {
		sink = &collectorSink{}
		return sink, nil
	})

	b := New(registry)
	pieces, errs := b.Build(cfg, model.FullDiff(cfg), nil)
	require.Empty(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	splice(t, ctx, pieces)
	runAll(ctx, pieces)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	got := sink.snapshot()[0]
	assert.Equal(t, model.DataTypeMetric, got.Type(), "the log event must never reach a sink declared accept: metric")
}

func TestBuildUnknownTypetagAccumulatesError(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sources["s"] = &model.SourceConfig{Typetag: "missing"}

	b := New(NewRegistry())
	_, errs := b.Build(cfg, model.FullDiff(cfg), nil)
	require.NotEmpty(t, errs)
}

func TestBuildS5DiffOnlyBuildsNewSinks(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sinks["a"] = &model.SinkConfig{Typetag: "collector"}
	cfg.Sinks["b"] = &model.SinkConfig{Typetag: "collector"}

	registry := NewRegistry()
	registry.RegisterSink("collector", func(sctx *SinkContext) (Sink, error) {
		return &collectorSink{}, nil
	})
	b := New(registry)

	diff1 := model.NewDiff()
	diff1.AddSink("a")
	diff1.AddSink("b")
	pieces1, errs := b.Build(cfg, diff1, nil)
	require.Empty(t, errs)
	assert.Len(t, pieces1.SinkBuffers, 2)

	cfg.Sinks["c"] = &model.SinkConfig{Typetag: "collector"}
	diff2 := model.NewDiff()
	diff2.AddSink("c")
	pieces2, errs := b.Build(cfg, diff2, pieces1.SinkBuffers)
	require.Empty(t, errs)

	_, hasA := pieces2.Inputs[model.NewComponentKey(model.ScopeSink, "a")]
	_, hasC := pieces2.Inputs[model.NewComponentKey(model.ScopeSink, "c")]
	assert.False(t, hasA)
	assert.True(t, hasC)
}
