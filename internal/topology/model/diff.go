package model

import "reflect"

// Diff enumerates, per category, the component keys that are new in this
// Config snapshot versus whatever topology is currently running. The core
// only builds what is new (spec §3, §6); unchanged components retain their
// existing buffers.
type Diff struct {
	Sources          map[string]struct{}
	Transforms       map[string]struct{}
	Sinks            map[string]struct{}
	EnrichmentTables map[string]struct{}
}

// NewDiff returns an empty Diff, ready for callers to populate.
func NewDiff() *Diff {
	return &Diff{
		Sources:          make(map[string]struct{}),
		Transforms:       make(map[string]struct{}),
		Sinks:            make(map[string]struct{}),
		EnrichmentTables: make(map[string]struct{}),
	}
}

func (d *Diff) AddSource(id string)          { d.Sources[id] = struct{}{} }
func (d *Diff) AddTransform(id string)       { d.Transforms[id] = struct{}{} }
func (d *Diff) AddSink(id string)            { d.Sinks[id] = struct{}{} }
func (d *Diff) AddEnrichmentTable(id string) { d.EnrichmentTables[id] = struct{}{} }

func (d *Diff) IsNewSource(id string) bool    { _, ok := d.Sources[id]; return ok }
func (d *Diff) IsNewTransform(id string) bool { _, ok := d.Transforms[id]; return ok }
func (d *Diff) IsNewSink(id string) bool      { _, ok := d.Sinks[id]; return ok }

// ContainsNew reports whether the named enrichment table is new in this diff.
func (d *Diff) ContainsNew(name string) bool {
	_, ok := d.EnrichmentTables[name]
	return ok
}

// FullDiff builds a Diff that marks every component in cfg as new, useful
// for the first build of a topology where there is no previous snapshot.
func FullDiff(cfg *Config) *Diff {
	d := NewDiff()
	for id := range cfg.Sources {
		d.AddSource(id)
	}
	for id := range cfg.Transforms {
		d.AddTransform(id)
	}
	for id := range cfg.Sinks {
		d.AddSink(id)
	}
	for id := range cfg.EnrichmentTables {
		d.AddEnrichmentTable(id)
	}
	return d
}

// DiffConfigs marks a component as new when its id is absent from prev or
// its configuration value has changed since prev — the same rule the
// reconciler would apply when reloading a topology in place (spec §3,
// §9 "the configuration layer's concern" covers how prev is obtained;
// this is the comparison itself).
func DiffConfigs(prev, next *Config) *Diff {
	d := NewDiff()
	if prev == nil {
		return FullDiff(next)
	}
	for id, c := range next.Sources {
		if old, ok := prev.Sources[id]; !ok || !reflect.DeepEqual(old, c) {
			d.AddSource(id)
		}
	}
	for id, c := range next.Transforms {
		if old, ok := prev.Transforms[id]; !ok || !reflect.DeepEqual(old, c) {
			d.AddTransform(id)
		}
	}
	for id, c := range next.Sinks {
		if old, ok := prev.Sinks[id]; !ok || !reflect.DeepEqual(old, c) {
			d.AddSink(id)
		}
	}
	for id, c := range next.EnrichmentTables {
		if old, ok := prev.EnrichmentTables[id]; !ok || !reflect.DeepEqual(old, c) {
			d.AddEnrichmentTable(id)
		}
	}
	return d
}
