package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	env "github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/procedura/config.yaml"

// Config holds all procedura configuration.
type Config struct {
	Recording RecordingConfig `yaml:"recording" envPrefix:"RECORDING_"`
	Sync      SyncConfig      `yaml:"sync" envPrefix:"SYNC_"`
	Remote    RemoteConfig    `yaml:"remote" envPrefix:"REMOTE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Browser   BrowserConfig   `yaml:"browser" envPrefix:"BROWSER_"`
	Privacy   PrivacyConfig   `yaml:"privacy" envPrefix:"PRIVACY_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

type RecordingConfig struct {
	DefaultTitle    string `yaml:"default_title" env:"DEFAULT_TITLE"`
	InputDebounceMS int    `yaml:"input_debounce_ms" env:"INPUT_DEBOUNCE_MS"`
	MaxSteps        int    `yaml:"max_steps" env:"MAX_STEPS"`
	ShowIndicator   bool   `yaml:"show_indicator" env:"SHOW_INDICATOR"`
}

type SyncConfig struct {
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	MaxRetries    int    `yaml:"max_retries" env:"MAX_RETRIES"`
	SettleDelayMS int    `yaml:"settle_delay_ms" env:"SETTLE_DELAY_MS"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
}

type RemoteConfig struct {
	URL            string `yaml:"url" env:"URL"`
	AnonKey        string `yaml:"anon_key" env:"ANON_KEY"`
	Email          string `yaml:"email" env:"EMAIL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

type StorageConfig struct {
	Path       string `yaml:"path" env:"PATH"`
	SQLiteFile string `yaml:"sqlite_file" env:"SQLITE_FILE"`
}

type TransportConfig struct {
	NATSURL         string `yaml:"nats_url" env:"NATS_URL"`
	SubjectPrefix   string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
	ClientName      string `yaml:"client_name" env:"CLIENT_NAME"`
	MaxReconnects   int    `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWaitMS int    `yaml:"reconnect_wait_ms" env:"RECONNECT_WAIT_MS"`
	RequestTimeoutS int    `yaml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS"`
}

type BrowserConfig struct {
	DevToolsURL string `yaml:"devtools_url" env:"DEVTOOLS_URL"`
}

type PrivacyConfig struct {
	// SensitiveURLPatterns are path fragments that mark a page as sensitive.
	SensitiveURLPatterns []string `yaml:"sensitive_url_patterns" env:"SENSITIVE_URL_PATTERNS" envSeparator:","`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// InputDebounce returns the input debounce window as a duration.
func (c RecordingConfig) InputDebounce() time.Duration {
	return time.Duration(c.InputDebounceMS) * time.Millisecond
}

// SettleDelay returns the delay between coming online and draining the queue.
func (c SyncConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// Timeout returns the HTTP client timeout for the remote store.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReconnectWait returns the NATS reconnect wait.
func (c TransportConfig) ReconnectWait() time.Duration {
	return time.Duration(c.ReconnectWaitMS) * time.Millisecond
}

// RequestTimeout returns how long a client waits for a response.
func (c TransportConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS) * time.Second
}

// Load reads a YAML config file at path and merges it with defaults, then
// applies PROCEDURA_* environment overrides.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of cfg. Unset variables
// leave the file/default values untouched.
func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "PROCEDURA_"}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	// A batch size below one would stall the upload loop.
	if cfg.Sync.BatchSize < 1 {
		cfg.Sync.BatchSize = 1
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// DBPath returns the resolved SQLite file location.
func (c *Config) DBPath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return Load(path)
}
