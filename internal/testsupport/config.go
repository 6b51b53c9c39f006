package testsupport

import (
	"path/filepath"
	"testing"

	"forkful/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and sync intervals short enough for fast tests.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfg.Paths.SocketPath = filepath.Join(base, "state", "forkfuld.sock")
	cfg.Paths.APIBind = ""
	cfg.Server.BaseURL = "http://127.0.0.1:0"
	cfg.Server.APIToken = "test-token"
	cfg.Sync.PollInterval = 1
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBackend points the config at a test backend URL.
func WithBackend(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Server.BaseURL = baseURL
	}
}

// WithAPIBind enables the HTTP status API on an ephemeral port.
func WithAPIBind() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIBind = "127.0.0.1:0"
	}
}
