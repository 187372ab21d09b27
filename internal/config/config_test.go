package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/storage"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, storage.KindMemory, cfg.Properties.Backend)
	assert.GreaterOrEqual(t, cfg.Query.Workers, 1)
	assert.Equal(t, graph.VersionPermanent, cfg.GraphVersion())
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoad(t *testing.T) {
	t.Setenv("GRAPHFLOW_TEST_PROPS", "/tmp/props")
	path := filepath.Join(t.TempDir(), "graphflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  file: graphflow.log
properties:
  backend: badger
  path: ${GRAPHFLOW_TEST_PROPS}
query:
  workers: 3
  default_limit: 50
  version: merged
watch:
  debounce: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "graphflow.log", cfg.Log.File)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB, "unset fields keep defaults")
	assert.Equal(t, storage.KindBadger, cfg.Properties.Backend)
	assert.Equal(t, "/tmp/props", cfg.Properties.Path)
	assert.Equal(t, 3, cfg.Query.Workers)
	assert.Equal(t, 50, cfg.Query.DefaultLimit)
	assert.Equal(t, graph.VersionMerged, cfg.GraphVersion())
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{"bad level", "log: {level: loud}"},
		{"bad backend", "properties: {backend: postgres}"},
		{"zero workers", "query: {workers: 0}"},
		{"negative limit", "query: {default_limit: -1}"},
		{"bad version", "query: {version: diff}"},
		{"unknown key", "query: {threads: 4}"},
		{"syntax", "log: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Parse([]byte(tt.doc), Default())
			assert.ErrorIs(t, err, graph.ErrInvalidArgument)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, Parse([]byte("# nothing\n"), cfg))
	assert.Equal(t, Default(), cfg)
}

func TestLogConfig_NewLogger(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "graphflow.log")
	cfg := Default().Log
	cfg.File = file

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.False(t, logger.Core().Enabled(-1), "debug is off at info level")

	cfg.Level = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
