package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"forkful/internal/config"
	"forkful/internal/daemon"
	"forkful/internal/ipc"
	"forkful/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(loggerOptions(cfg))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "another forkfuld may already be running"))
		return
	}

	ipcServer, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger, cancel)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("forkfuld ready",
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String(logging.FieldEventType, "daemon_started"))

	<-ctx.Done()
	logger.Info("forkfuld shutting down",
		logging.String(logging.FieldEventType, "daemon_stopped"))
}
