package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "Novo Procedimento", cfg.Recording.DefaultTitle)
	assert.Equal(t, 500, cfg.Recording.InputDebounceMS)
	assert.Equal(t, 100, cfg.Recording.MaxSteps)
	assert.True(t, cfg.Recording.ShowIndicator)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 1000, cfg.Sync.SettleDelayMS)
	assert.Equal(t, "screenshots", cfg.Sync.Bucket)
	assert.Empty(t, cfg.Remote.URL)
	assert.Equal(t, 60, cfg.Remote.TimeoutSeconds)
	assert.Equal(t, "~/.config/procedura", cfg.Storage.Path)
	assert.Equal(t, "procedura.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Transport.NATSURL)
	assert.Equal(t, "procedura", cfg.Transport.SubjectPrefix)
	assert.Equal(t, -1, cfg.Transport.MaxReconnects)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.Browser.DevToolsURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 500*time.Millisecond, cfg.Recording.InputDebounce())
	assert.Equal(t, time.Second, cfg.Sync.SettleDelay())
	assert.Equal(t, time.Minute, cfg.Remote.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Transport.ReconnectWait())
	assert.Equal(t, 30*time.Second, cfg.Transport.RequestTimeout())
}

func TestDefaultSensitiveURLPatternsIsPopulated(t *testing.T) {
	patterns := DefaultSensitiveURLPatterns()
	assert.NotEmpty(t, patterns)

	assert.Contains(t, patterns, "/login")
	assert.Contains(t, patterns, "/checkout")
	assert.Contains(t, patterns, "/pagamento")
	assert.Equal(t, patterns, DefaultConfig().Privacy.SensitiveURLPatterns)
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
recording:
  default_title: "Onboarding"
  input_debounce_ms: 250
sync:
  batch_size: 10
remote:
  url: "https://project.example.co"
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, "Onboarding", cfg.Recording.DefaultTitle)
	assert.Equal(t, 250, cfg.Recording.InputDebounceMS)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, "https://project.example.co", cfg.Remote.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, 100, cfg.Recording.MaxSteps)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "~/.config/procedura", cfg.Storage.Path)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load("/tmp/nonexistent_path_12345/config.yaml")
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("sync:\n  max_retries: 5\n"), 0644)
	require.NoError(t, err)

	t.Setenv("PROCEDURA_SYNC_MAX_RETRIES", "7")
	t.Setenv("PROCEDURA_REMOTE_ANON_KEY", "anon")
	t.Setenv("PROCEDURA_PRIVACY_SENSITIVE_URL_PATTERNS", "/a,/b")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.MaxRetries)
	assert.Equal(t, "anon", cfg.Remote.AnonKey)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Privacy.SensitiveURLPatterns)
}

func TestBatchSizeIsAtLeastOne(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("sync:\n  batch_size: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Sync.BatchSize)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "Novo Procedimento", cfg.Recording.DefaultTitle)
	assert.Equal(t, 5, cfg.Sync.BatchSize)

	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sync.MaxRetries, cfg2.Sync.MaxRetries)
	assert.Equal(t, cfg.Privacy.SensitiveURLPatterns, cfg2.Privacy.SensitiveURLPatterns)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("recording:\n  max_steps: 7\n"), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Recording.MaxSteps)
	assert.Equal(t, "Novo Procedimento", cfg.Recording.DefaultTitle)
}

func TestLoadWithSensitiveURLPatterns(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
privacy:
  sensitive_url_patterns:
    - "/minha-conta"
    - "/billing"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"/minha-conta", "/billing"}, cfg.Privacy.SensitiveURLPatterns)
}

func TestDBPathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/procedura"

	p, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/procedura/procedura.db", p)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := ExpandPath("~/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), expanded)
}
