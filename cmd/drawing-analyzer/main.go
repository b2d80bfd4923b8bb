package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/retro-lab/drawing-analyzer/internal/chain"
	"github.com/retro-lab/drawing-analyzer/internal/cloud"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/history"
	"github.com/retro-lab/drawing-analyzer/internal/server"
)

func main() {
	pflag.String("addr", "", "listen address, e.g. :8000")
	pflag.String("log-level", "", "log level: debug, info, warn or error")
	pflag.String("history-dsn", "", "run history DSN (postgres://, sqlite://path; empty disables)")
	common.BindFlag("server.addr", pflag.Lookup("addr"))
	common.BindFlag("log.level", pflag.Lookup("log-level"))
	common.BindFlag("history.dsn", pflag.Lookup("history-dsn"))
	pflag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "drawing-analyzer: %v\n", err)
		os.Exit(1)
	}

	// Validate already vetted the level string.
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, history.Config{
		DSN:      cfg.History.DSN,
		MaxConns: cfg.History.MaxConns,
		MinConns: cfg.History.MinConns,
	}, logger)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("close history store", "error", cerr)
		}
	}()

	svc, err := chain.NewService(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build analysis service", "error", err)
		os.Exit(1)
	}

	cloudClient := cloud.NewClient(cloud.Config{
		BaseURL:   cfg.Cloud.BaseURL,
		UserAgent: cfg.Cloud.UserAgent,
	}, logger)

	srv := server.New(svc, cloudClient, cfg, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("drawing-analyzer listening", "addr", cfg.Server.Addr)
	go func() {
		if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("http serve error", "error", serr)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", "grace", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
