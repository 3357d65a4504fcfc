package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
topology:
  global:
    data_dir: /tmp/otus-test
  sources:
    in:
      type: fake
  transforms:
    t:
      type: identity
      inputs: [in]
  sinks:
    out:
      type: collector
      inputs: [t]
      buffer:
        type: memory
        max_events: 50
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "otus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesTopologyAndLog(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/otus-test", cfg.Topology.Global.DataDir)
	require.Contains(t, cfg.Topology.Sources, "in")
	assert.Equal(t, "fake", cfg.Topology.Sources["in"].Typetag)
	require.Contains(t, cfg.Topology.Transforms, "t")
	assert.Equal(t, []string{"in"}, cfg.Topology.Transforms["t"].Inputs)
	require.Contains(t, cfg.Topology.Sinks, "out")
	assert.Equal(t, 50, cfg.Topology.Sinks["out"].Buffer.MaxEvents)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "topology:\n  sources: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Log)
	assert.Equal(t, "/var/lib/otus", cfg.Topology.Global.DataDir)
	assert.NotNil(t, cfg.Topology.Transforms)
	assert.NotNil(t, cfg.Topology.Sinks)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("OTUS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}
