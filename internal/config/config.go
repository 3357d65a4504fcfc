// Package config loads the topology configuration surface described in
// spec.md §6 into a model.Config, plus the process-wide logger settings
// that sit alongside it on disk.
package config

import (
	"firestige.xyz/otus/internal/log"
	"firestige.xyz/otus/internal/topology/model"
)

// RootConfig is the on-disk shape of an otus configuration file: the
// topology proper, plus the ambient logger configuration that applies
// to the whole process rather than any one component.
type RootConfig struct {
	Log      *log.LoggerConfig `mapstructure:"log"`
	Topology model.Config      `mapstructure:"topology"`
}

// applyDefaults fills in any field Load leaves zero after unmarshalling.
func applyDefaults(cfg *RootConfig) {
	if cfg.Log == nil {
		cfg.Log = log.DefaultLoggerConfig()
	}
	if cfg.Topology.Sources == nil {
		cfg.Topology.Sources = map[string]*model.SourceConfig{}
	}
	if cfg.Topology.Transforms == nil {
		cfg.Topology.Transforms = map[string]*model.TransformConfig{}
	}
	if cfg.Topology.Sinks == nil {
		cfg.Topology.Sinks = map[string]*model.SinkConfig{}
	}
	if cfg.Topology.EnrichmentTables == nil {
		cfg.Topology.EnrichmentTables = map[string]*model.EnrichmentTableConfig{}
	}
	if cfg.Topology.Global.DataDir == "" {
		cfg.Topology.Global.DataDir = "/var/lib/otus"
	}
}
