package model

// ProxyConfig is the per-component (or global) outbound proxy setting.
// The builder merges a component's own proxy with global.proxy before
// constructing its context (see SPEC_FULL.md "Proxy configuration merge").
type ProxyConfig struct {
	HTTP    string   `mapstructure:"http"`
	HTTPS   string   `mapstructure:"https"`
	NoProxy []string `mapstructure:"no_proxy"`
}

// MergeProxy returns the effective proxy config for a component: the
// component's own settings take precedence field-by-field over the
// inherited (usually global) settings. Either argument may be nil.
func MergeProxy(own, inherited *ProxyConfig) *ProxyConfig {
	if own == nil && inherited == nil {
		return nil
	}
	merged := ProxyConfig{}
	if inherited != nil {
		merged = *inherited
	}
	if own != nil {
		if own.HTTP != "" {
			merged.HTTP = own.HTTP
		}
		if own.HTTPS != "" {
			merged.HTTPS = own.HTTPS
		}
		if len(own.NoProxy) > 0 {
			merged.NoProxy = own.NoProxy
		}
	}
	return &merged
}

// BufferConfig selects and sizes a sink's input buffer (spec §4.2).
type BufferConfig struct {
	Type     string `mapstructure:"type"`      // "memory" | "disk"
	MaxEvents int   `mapstructure:"max_events"` // memory variant
	MaxBytes int64  `mapstructure:"max_bytes"`  // disk variant
	WhenFull string `mapstructure:"when_full"`  // "block" | "drop_newest"
}

// HealthcheckConfig is the per-sink healthcheck toggle (spec §4.7).
type HealthcheckConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SourceConfig is the configuration-surface entry for one source.
type SourceConfig struct {
	Typetag string       `mapstructure:"type"`
	Proxy   *ProxyConfig `mapstructure:"proxy"`
	Inner   map[string]any `mapstructure:",remain"`
}

// TransformConfig is the configuration-surface entry for one transform.
type TransformConfig struct {
	Typetag string         `mapstructure:"type"`
	Inputs  []string       `mapstructure:"inputs"`
	Inner   map[string]any `mapstructure:",remain"`
}

// SinkConfig is the configuration-surface entry for one sink.
type SinkConfig struct {
	Typetag     string            `mapstructure:"type"`
	Inputs      []string          `mapstructure:"inputs"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Healthcheck HealthcheckConfig `mapstructure:"healthcheck"`
	Proxy       *ProxyConfig      `mapstructure:"proxy"`
	// Accept declares the edge-level event-type filter applied immediately
	// before the sink reads a batch (spec §4.8): "any" | "log" | "metric",
	// parsed via ParseDataType. Empty means DataTypeAny (no filtering).
	Accept string         `mapstructure:"accept"`
	Inner  map[string]any `mapstructure:",remain"`
}

// EnrichmentTableConfig is the configuration-surface entry for one
// enrichment table (spec §4.4, §6).
type EnrichmentTableConfig struct {
	Typetag string         `mapstructure:"type"`
	Inner   map[string]any `mapstructure:",remain"`
}

// HealthchecksConfig is the global healthcheck policy (spec §6).
type HealthchecksConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig controls the process-wide Prometheus metrics endpoint
// (SPEC_FULL.md ambient stack, grounded on the teacher's internal/metrics
// HTTP server).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// GlobalConfig carries the options shared across every component (spec §6).
type GlobalConfig struct {
	DataDir      string             `mapstructure:"data_dir"`
	Proxy        *ProxyConfig       `mapstructure:"proxy"`
	Healthchecks HealthchecksConfig `mapstructure:"healthchecks"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// Config is an immutable snapshot of the full topology (spec §3).
type Config struct {
	Global           GlobalConfig
	Sources          map[string]*SourceConfig
	Transforms       map[string]*TransformConfig
	Sinks            map[string]*SinkConfig
	EnrichmentTables map[string]*EnrichmentTableConfig
}

// SortedSourceKeys returns source config keys in deterministic order.
func (c *Config) SortedSourceKeys() []string { return sortedKeys(c.Sources) }

// SortedTransformKeys returns transform config keys in deterministic order.
func (c *Config) SortedTransformKeys() []string { return sortedKeys(c.Transforms) }

// SortedSinkKeys returns sink config keys in deterministic order.
func (c *Config) SortedSinkKeys() []string { return sortedKeys(c.Sinks) }

// SortedEnrichmentTableKeys returns enrichment table keys in deterministic order.
func (c *Config) SortedEnrichmentTableKeys() []string { return sortedKeys(c.EnrichmentTables) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort is fine here: component counts are small (tens, not
	// millions) and this runs once per build, not on the hot path.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
