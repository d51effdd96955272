package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/loadpilot/internal/api"
	"github.com/torosent/loadpilot/internal/bus"
	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/plans"
	"github.com/torosent/loadpilot/internal/registry"
	"github.com/torosent/loadpilot/internal/results"
	"github.com/torosent/loadpilot/internal/tracing"
)

func newServeCommand() *cobra.Command {
	loader := config.NewLoader()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the performance-testing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	loader.RegisterFlags(cmd.Flags())
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func serve(ctx context.Context, cfg *config.Server) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	resStore, err := results.NewStore(cfg.ResultsDir, log)
	if err != nil {
		return err
	}
	planStore, err := plans.NewStore(cfg.PlansDir)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.MaxRecords)
	b := bus.New(cfg.OutboxSize, log)

	server := api.NewServer(cfg, log, reg, b, resStore, planStore, tp.Tracer())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
