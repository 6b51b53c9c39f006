package config

// Default returns the baseline configuration before any file overrides.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: "~/.local/state/forkful",
			LogDir:   "~/.local/state/forkful/logs",
		},
		Server: Server{
			BaseURL:        "https://api.forkful.app",
			RequestTimeout: 15,
		},
		Sync: Sync{
			PollInterval:           3,
			StreamFailureThreshold: 2,
			ConnectCeiling:         60,
			MaxSessions:            16,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobCompleted:   true,
			JobFailed:      true,
			Duplicate:      true,
			Errors:         true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
