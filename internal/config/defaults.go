package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Recording: RecordingConfig{
			DefaultTitle:    "Novo Procedimento",
			InputDebounceMS: 500,
			MaxSteps:        100,
			ShowIndicator:   true,
		},
		Sync: SyncConfig{
			BatchSize:     5,
			MaxRetries:    3,
			SettleDelayMS: 1000,
			Bucket:        "screenshots",
		},
		Remote: RemoteConfig{
			URL:            "",
			AnonKey:        "",
			Email:          "",
			TimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			Path:       "~/.config/procedura",
			SQLiteFile: "procedura.db",
		},
		Transport: TransportConfig{
			NATSURL:         "nats://127.0.0.1:4222",
			SubjectPrefix:   "procedura",
			ClientName:      "procedura",
			MaxReconnects:   -1,
			ReconnectWaitMS: 2000,
			RequestTimeoutS: 30,
		},
		Browser: BrowserConfig{
			DevToolsURL: "ws://127.0.0.1:9222",
		},
		Privacy: PrivacyConfig{
			SensitiveURLPatterns: DefaultSensitiveURLPatterns(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
