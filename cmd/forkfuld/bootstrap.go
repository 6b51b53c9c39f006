package main

import (
	"path/filepath"

	"forkful/internal/config"
	"forkful/internal/logging"
)

func loggerOptions(cfg *config.Config) logging.Options {
	opts := logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
	}
	if cfg.Paths.LogDir != "" {
		opts.OutputPaths = append(opts.OutputPaths, filepath.Join(cfg.Paths.LogDir, "forkfuld.log"))
	}
	return opts
}
