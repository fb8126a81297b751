package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentkanban/orchestrator/internal/gateway"
	"github.com/agentkanban/orchestrator/internal/kernel"
)

// shutdownGrace bounds how long the gateway's HTTP server waits for
// in-flight requests (including open WebSocket connections) to drain
// once a shutdown signal arrives.
const shutdownGrace = 10 * time.Second

var (
	serveManifestPath string
	serveAddr         string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kernel's dispatch/health loops and HTTP/WebSocket gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveManifestPath, "manifest", "workers.yaml", "Path to the worker pool manifest")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Gateway listen address (default: config/env default)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}

	k, err := kernel.New(cfg)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	if err := k.LoadWorkers(serveManifestPath); err != nil {
		return fmt.Errorf("load worker manifest: %w", err)
	}

	srv := &gateway.Server{Kernel: k, CORSOrigins: cfg.Gateway.CORSOrigins}
	httpServer := &http.Server{Addr: cfg.Gateway.Addr, Handler: srv.Routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kernelDone := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(kernelDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", cfg.Gateway.Addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	// Whichever happens first — a shutdown signal or the server dying on
	// its own — triggers the same drain-then-exit sequence below.
	var listenErr error
	select {
	case <-ctx.Done():
		stop()
	case listenErr = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway shutdown error", "error", err)
	}
	if listenErr == nil {
		listenErr = <-serveErr
	}

	<-kernelDone // blocks until the dispatch/health loops have drained
	if listenErr != nil {
		return fmt.Errorf("gateway server: %w", listenErr)
	}
	return nil
}
