// The worker binary is spawned by the manager and speaks the envelope
// protocol on stdin/stdout. It deliberately has no CLI surface: all logging
// goes to stderr so stdout stays a clean protocol channel.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ramiqadoumi/go-task-pool/internal/handlers"
	"github.com/ramiqadoumi/go-task-pool/services/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).
		With(slog.String("service", "worker"))
	if id := os.Getenv("TASKPOOL_WORKER_ID"); id != "" {
		logger = logger.With(slog.String("worker_id", id))
	}

	registry := handlers.NewRegistry()
	registry.Register(handlers.NewSleepHandler())
	registry.Register(handlers.NewChecksumHandler())
	registry.Register(handlers.NewWebhookHandler())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	w := worker.New(os.Stdin, os.Stdout, registry, worker.WithLogger(logger))
	if err := w.Run(ctx); err != nil {
		logger.Error("worker exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
