package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slidespeaker/internal/media"
	"slidespeaker/internal/pipeline"
	"slidespeaker/internal/providers"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/registry"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
	"slidespeaker/internal/worker"
)

const providerRetries = 3

func main() {
	// Initialize structured logging with JSON handler
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

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

	taskQueue := queue.NewQueueWithClient(states.Client()).WithRows(rep)

	provider, err := storage.NewProviderFromConfig(ctx)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Scripted providers plus the shell document extractor; swap in real
	// LLM/TTS backends here when credentials are configured.
	set := providers.FakeSet()
	set.Extractor = &providers.ShellExtractor{}
	set = providers.WithRetries(set, providerRetries)

	coord := pipeline.New(pipeline.Deps{
		States:    states,
		Queue:     taskQueue,
		Storage:   provider,
		Providers: set,
		Composer:  media.NewEncoder(),
		Registry:  registry.New(provider, states),
	})

	slog.Info("Worker started, waiting for tasks...")
	worker.New(taskQueue, coord).Run(ctx)
	slog.Info("Worker exited")
}
