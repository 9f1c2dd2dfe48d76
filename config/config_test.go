package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grovetools/layoutsync/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("LAYOUTSYNC_HOME", "")
	return home
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultVersion, cfg.Version)
	assert.Equal(t, "layout/client", cfg.Hub.ClientAddress)
	assert.Equal(t, 1000, cfg.Hub.MailboxWarn)
	assert.Equal(t, DefaultCompleteTimeout, cfg.CompleteTimeout())
	assert.Equal(t, 100, cfg.Daemon.DebounceMs)
	assert.Equal(t, 100, cfg.Daemon.StreamBuffer)
	assert.True(t, cfg.MetricsEnabled())
}

func TestLoadFromBytes(t *testing.T) {
	yamlContent := `
version: "1"
hub:
  client_address: layout/main
activity:
  complete_timeout: 250ms
daemon:
  metrics: false
`
	cfg, err := LoadFromBytes([]byte(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, "layout/main", cfg.Hub.ClientAddress)
	assert.Equal(t, 1000, cfg.Hub.MailboxWarn, "unset fields keep defaults")
	assert.Equal(t, "250ms", cfg.Activity.CompleteTimeout)
	assert.Equal(t, int64(250e6), cfg.CompleteTimeout().Nanoseconds())
	assert.False(t, cfg.MetricsEnabled())
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("LAYOUTSYNC_TEST_TIMEOUT", "5s")

	yamlContent := `
activity:
  complete_timeout: ${LAYOUTSYNC_TEST_TIMEOUT}
daemon:
  layouts_dir: ${LAYOUTSYNC_TEST_UNSET:-/tmp/layouts}
`
	cfg, err := LoadFromBytes([]byte(yamlContent))
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Activity.CompleteTimeout)
	assert.Equal(t, "/tmp/layouts", cfg.Daemon.LayoutsDir)
}

func TestExtensions(t *testing.T) {
	yamlContent := `
version: "1"
logging:
  level: debug
  file:
    enabled: true
`
	cfg, err := LoadFromBytes([]byte(yamlContent))
	require.NoError(t, err)
	require.Contains(t, cfg.Extensions, "logging")

	type fileCfg struct {
		Enabled bool `yaml:"enabled"`
	}
	type loggingCfg struct {
		Level string  `yaml:"level"`
		File  fileCfg `yaml:"file"`
	}

	var lc loggingCfg
	require.NoError(t, cfg.UnmarshalExtension("logging", &lc))
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.File.Enabled)

	var missing loggingCfg
	require.NoError(t, cfg.UnmarshalExtension("absent", &missing))
	assert.Empty(t, missing.Level)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"mailbox below minimum", "hub:\n  mailbox_warn: -3\n"},
		{"bad client address", "hub:\n  client_address: nosep\n"},
		{"bad duration", "activity:\n  complete_timeout: soon\n"},
		{"negative duration", "activity:\n  complete_timeout: -1s\n"},
		{"negative buffer", "daemon:\n  stream_buffer: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation), "got %v", err)
		})
	}
}

func TestInvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("hub: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "layoutsync.yml"), []byte("version: \"1\"\n"), 0644))

	path, err := FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "layoutsync.yml"), path)

	_, err = FindConfigFile(t.TempDir())
	if err != nil {
		assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layoutsync.toml")
	content := `
version = "1"

[hub]
client_address = "layout/toml"

[logging]
level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "layout/toml", cfg.Hub.ClientAddress)
	require.Contains(t, cfg.Extensions, "logging")
}

func TestHierarchicalMerging(t *testing.T) {
	home := isolateHome(t)

	globalDir := filepath.Join(home, ".config", "layoutsync")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	globalConfig := `
hub:
  client_address: layout/global
  mailbox_warn: 50
daemon:
  debounce_ms: 20
monitoring:
  enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "layoutsync.yml"), []byte(globalConfig), 0644))

	projectDir := filepath.Join(home, "project")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	projectConfig := `
hub:
  client_address: layout/project
daemon:
  stream_buffer: 7
logging:
  level: info
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "layoutsync.yml"), []byte(projectConfig), 0644))

	cfg, err := LoadFromWithLogger(projectDir, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "layout/project", cfg.Hub.ClientAddress)
	assert.Equal(t, 50, cfg.Hub.MailboxWarn)
	assert.Equal(t, 20, cfg.Daemon.DebounceMs)
	assert.Equal(t, 7, cfg.Daemon.StreamBuffer)
	assert.Contains(t, cfg.Extensions, "monitoring")
	assert.Contains(t, cfg.Extensions, "logging")
	assert.Len(t, cfg.Sources, 2)
}

func TestLoadFromWithoutFiles(t *testing.T) {
	home := isolateHome(t)

	cfg, err := LoadFromWithLogger(filepath.Join(home), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultClientAddress, cfg.Hub.ClientAddress)
	assert.Empty(t, cfg.Sources)
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "http://json-schema.org/draft-07/schema#")
	assert.Contains(t, s, "client_address")
	assert.Contains(t, s, "complete_timeout")
	assert.NotContains(t, s, "Extensions")
}

func TestSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]interface{}{
		"hub": map[string]interface{}{"client_address": "layout/client"},
	}))

	err = v.Validate(map[string]interface{}{"unknown": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}
