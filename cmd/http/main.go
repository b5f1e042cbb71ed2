package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slidespeaker/internal/config"
	"slidespeaker/internal/endpoints"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/server"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func main() {
	// Initialize structured logging
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State store, queue and rows share one redis connection
	states, err := state.NewManagerFromConfig(ctx)
	if err != nil {
		slog.Error("Failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer states.Close()

	rep, err := repo.OpenFromConfig()
	if err != nil {
		slog.Error("Failed to open task repository", "error", err)
		os.Exit(1)
	}
	defer rep.Close()
	rep = rep.WithCache(states.Client())

	taskQueue := queue.NewQueueWithClient(states.Client()).WithRows(rep)

	provider, err := storage.NewProviderFromConfig(ctx)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	app := &endpoints.App{
		Queue:   taskQueue,
		States:  states,
		Repo:    rep,
		Storage: provider,
	}

	// Create HTTP server
	srv := server.NewServer(config.Port, app)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("SlideSpeaker HTTP server started", "port", config.Port)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
