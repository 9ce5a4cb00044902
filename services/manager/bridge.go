package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/kafka"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
)

// BridgeMessage is the JSON shape accepted on the ingestion topic.
type BridgeMessage struct {
	Payload      json.RawMessage `json:"payload"`
	Priority     string          `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// Bridge feeds task submissions from a Kafka topic into the manager.
// Malformed or invalid messages are counted and committed; transient
// submission failures skip the commit so the message is re-delivered.
type Bridge struct {
	consumer kafka.Consumer
	mgr      *Manager
	logger   *slog.Logger
}

func NewBridge(consumer kafka.Consumer, mgr *Manager, logger *slog.Logger) *Bridge {
	return &Bridge{consumer: consumer, mgr: mgr, logger: logger}
}

// Run consumes until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	return b.consumer.Subscribe(ctx, b.ingest)
}

func (b *Bridge) ingest(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("bridge").Start(ctx, "bridge.ingest")
	defer span.End()

	var in BridgeMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		b.reject(span, "malformed submission", err)
		return nil
	}

	priority, err := domain.ParsePriority(in.Priority)
	if err != nil {
		b.reject(span, "invalid priority", err)
		return nil
	}

	id, err := b.mgr.Submit(ctx, SubmitRequest{
		Payload:      in.Payload,
		Priority:     priority,
		ScheduledFor: in.ScheduledFor,
	})
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			b.reject(span, "rejected submission", err)
			return nil
		}
		// Shutdown or loop unavailability: leave the offset uncommitted.
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return err
	}

	span.SetAttributes(attribute.String("task.id", id))
	telemetry.BridgeTasksConsumed.Inc()
	b.logger.Info("task ingested from kafka",
		slog.String("task_id", id),
		slog.String("topic", msg.Topic),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}

func (b *Bridge) reject(span trace.Span, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	telemetry.BridgeTasksRejected.Inc()
	b.logger.Warn(reason, slog.String("error", err.Error()))
}
