package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Targets)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
targets:
  - name: db
    kind: sqlite
    path: ./operon.db
  - name: scratch
    kind: memory
    vector_field: embedding
  - name: blobs
    kind: object
    object:
      store: fs
      root: ./blobs
      compress: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.Len(t, cfg.Targets, 3)
	assert.Equal(t, "sqlite", cfg.Targets[0].Kind)
	assert.Equal(t, "./operon.db", cfg.Targets[0].Path)
	assert.Equal(t, "embedding", cfg.Targets[1].VectorField)
	assert.True(t, cfg.Targets[2].Object.Compress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPERON_LOG_LEVEL", "warn")
	t.Setenv("OPERON_LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bad level",
			content: "logging: {level: loud, format: text}",
			want:    "logging.level",
		},
		{
			name:    "bad format",
			content: "logging: {level: info, format: xml}",
			want:    "logging.format",
		},
		{
			name:    "unknown kind",
			content: "targets: [{name: a, kind: tape}]",
			want:    "unknown kind",
		},
		{
			name:    "sqlite without path",
			content: "targets: [{name: a, kind: sqlite}]",
			want:    "needs a path",
		},
		{
			name:    "mongo without uri",
			content: "targets: [{name: a, kind: mongo}]",
			want:    "needs a uri",
		},
		{
			name:    "duplicate names",
			content: "targets: [{name: a, kind: memory}, {name: a, kind: memory}]",
			want:    "duplicate target name",
		},
		{
			name:    "unnamed target",
			content: "targets: [{kind: memory}]",
			want:    "name is required",
		},
		{
			name:    "s3 without endpoint",
			content: "targets: [{name: a, kind: object, object: {store: s3, bucket: b}}]",
			want:    "endpoint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	lv, err := Logging{Level: "error"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, lv)
}
