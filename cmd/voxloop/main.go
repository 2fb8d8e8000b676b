package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/pkg/gateway"
	"github.com/voxloop/voxloop/pkg/voxloop"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Warn("env_file_not_loaded", "error", err.Error())
	}

	cfg, err := voxloop.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	gw := gateway.NewServer()
	engine, err := voxloop.NewEngine(voxloop.EngineOptions{
		Config:   cfg,
		Sink:     gw,
		Notifier: gw,
	})
	if err != nil {
		slog.Error("engine_init_failed", "error", err.Error())
		os.Exit(1)
	}

	if err := engine.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err.Error())
		os.Exit(1)
	}
	gw.Attach(engine.Coordinator(), engine.Input())

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway_listening", "addr", cfg.Gateway.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-engine.Coordinator().Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return engine.Stop()
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown_error", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("exited", "metric_events", len(engine.Metrics()))
}
