package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/logger"
	"github.com/michaelbrown/pyexec/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution server",
	Long: `Start the pyexec HTTP server.

Endpoints:
  POST /execute   run a script: {"script": "def main(): ..."}
  GET  /health    liveness and sandbox availability
  GET  /metrics   Prometheus metrics
  GET  /ws        WebSocket execution
  GET  /api/runs  execution history

Examples:
  pyexec serve
  pyexec serve --port 9090
  PORT=8080 pyexec serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing jail is logged, not fatal: /health reports it and
	// executions fail with 503 until it is fixed.
	if err := a.jail.Check(ctx); err != nil {
		logger.Error().Err(err).Str("jail", cfg.Sandbox.JailPath).Msg("nsjail not available")
	} else {
		logger.Info().Str("jail", cfg.Sandbox.JailPath).Msg("nsjail is available")
	}

	srv := server.New(a.runner, a.store, server.Options{
		Version:      version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger.Get(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr()) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background(), cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
