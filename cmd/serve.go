package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/runtime"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := runtime.New(ctx, cfg, log)
	if err != nil {
		log.Error("runtime init failed", "error", err)
		os.Exit(1)
	}
	if err := rt.Start(ctx); err != nil {
		log.Error("runtime start failed", "error", err)
		os.Exit(1)
	}

	log.Info("gohive started", "version", Version, "mode", cfg.Database.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("graceful shutdown initiated", "signal", sig)

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Shutdown(sctx); err != nil {
		log.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}
