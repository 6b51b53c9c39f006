package main

import (
	"path/filepath"
	"testing"

	"forkful/internal/config"
)

func TestLoggerOptionsIncludesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	opts := loggerOptions(&cfg)
	if opts.Level != "debug" || opts.Format != "json" {
		t.Fatalf("level/format not carried over: %+v", opts)
	}
	want := filepath.Join(cfg.Paths.LogDir, "forkfuld.log")
	found := false
	for _, path := range opts.OutputPaths {
		if path == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q among output paths %v", want, opts.OutputPaths)
	}
}

func TestLoggerOptionsWithoutLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = ""

	opts := loggerOptions(&cfg)
	if len(opts.OutputPaths) != 1 || opts.OutputPaths[0] != "stdout" {
		t.Fatalf("expected stdout only, got %v", opts.OutputPaths)
	}
}
