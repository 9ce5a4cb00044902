// Package worker implements the child-process side of the pool. A worker is
// spawned by the manager, reads envelopes from stdin, executes tasks through
// its handler registry, and writes reply envelopes to stdout. Stdout carries
// protocol frames only; all logging goes to stderr.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-pool/internal/handlers"
	"github.com/ramiqadoumi/go-task-pool/internal/protocol"
)

// TaskPayload is the shape the manager sends in a task envelope's Data field.
type TaskPayload struct {
	Handler string          `json:"handler"`
	Data    json.RawMessage `json:"data"`
}

// Worker runs the envelope read loop for a single worker process.
type Worker struct {
	dec      *protocol.Decoder
	enc      *protocol.Encoder
	registry *handlers.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

func WithTimeout(d time.Duration) Option { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option   { return func(w *Worker) { w.logger = l } }

// New constructs a Worker reading envelopes from in and replying on out.
func New(in io.Reader, out io.Writer, registry *handlers.Registry, opts ...Option) *Worker {
	w := &Worker{
		dec:      protocol.NewDecoder(in),
		enc:      protocol.NewEncoder(out),
		registry: registry,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes envelopes until the input stream closes, a shutdown envelope
// arrives, or ctx is cancelled. Returns nil on orderly exit.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := w.dec.Decode()
		if errors.Is(err, io.EOF) {
			w.logger.Info("input stream closed, exiting")
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		switch env.Type {
		case protocol.TypeTask:
			w.execute(ctx, env)
		case protocol.TypeHealthCheck:
			if err := w.enc.Encode(protocol.Envelope{Type: protocol.TypeHealthCheckResponse}); err != nil {
				return fmt.Errorf("send health response: %w", err)
			}
		case protocol.TypeShutdown:
			w.logger.Info("shutdown requested, exiting")
			return nil
		default:
			// The protocol set is closed; report the stray type and keep serving.
			if err := env.Validate(); err != nil {
				w.logger.Warn("unknown envelope type", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Worker) execute(parentCtx context.Context, env protocol.Envelope) {
	ctx, span := otel.Tracer("worker").Start(parentCtx, "worker.execute")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", env.TaskID))

	log := w.logger.With(slog.String("task_id", env.TaskID))

	var payload TaskPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		log.Error("malformed task payload", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed payload")
		w.reply(env.TaskID, nil, fmt.Errorf("malformed task payload: %w", err))
		return
	}
	span.SetAttributes(attribute.String("task.handler", payload.Handler))

	h, err := w.registry.Get(payload.Handler)
	if err != nil {
		log.Error("no handler for task", slog.String("handler", payload.Handler))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		w.reply(env.TaskID, nil, err)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	result, err := h.Handle(execCtx, payload.Data)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		log.Error("task failed",
			slog.String("handler", payload.Handler),
			slog.Int64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		w.reply(env.TaskID, nil, err)
		return
	}

	log.Info("task completed",
		slog.String("handler", payload.Handler),
		slog.Int64("duration_ms", durationMs),
	)
	w.reply(env.TaskID, result, nil)
}

// reply writes a completion or error envelope. A write failure here means
// the manager side of the pipe is gone; the read loop will see EOF next.
func (w *Worker) reply(taskID string, result json.RawMessage, taskErr error) {
	env := protocol.Envelope{TaskID: taskID}
	if taskErr != nil {
		env.Type = protocol.TypeTaskError
		env.Error = taskErr.Error()
	} else {
		env.Type = protocol.TypeTaskComplete
		env.Data = result
	}
	if err := w.enc.Encode(env); err != nil {
		w.logger.Error("failed to write reply", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}
