//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-pool/internal/kafka"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafka_PublishConsumeRoundTrip(t *testing.T) {
	topic := "taskpool.test.roundtrip"
	createTopic(t, topic)

	producer := kafka.NewProducer(testKafkaBrokers)
	defer producer.Close()

	ctx := context.Background()
	require.NoError(t, producer.Publish(ctx, topic, "task-000001", []byte(`{"payload":{"n":1}}`)))

	consumer := kafka.NewConsumer(testKafkaBrokers, topic, "roundtrip-group", quietLogger())
	defer consumer.Close()

	var (
		mu  sync.Mutex
		got []kafka.Message
	)
	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Subscribe(consumeCtx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
			cancel()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 30*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "task-000001", string(got[0].Key))
	assert.JSONEq(t, `{"payload":{"n":1}}`, string(got[0].Value))
}

func TestKafka_HandlerErrorSkipsCommit(t *testing.T) {
	topic := "taskpool.test.redelivery"
	createTopic(t, topic)

	producer := kafka.NewProducer(testKafkaBrokers)
	defer producer.Close()

	ctx := context.Background()
	require.NoError(t, producer.Publish(ctx, topic, "task-000002", []byte(`{"payload":{"n":2}}`)))

	// First consumer fails the message so its offset is never committed.
	failCtx, failCancel := context.WithCancel(ctx)
	first := kafka.NewConsumer(testKafkaBrokers, topic, "redelivery-group", quietLogger())
	var delivered sync.WaitGroup
	delivered.Add(1)
	go func() {
		once := sync.OnceFunc(func() { delivered.Done() })
		first.Subscribe(failCtx, func(_ context.Context, _ kafka.Message) error { //nolint:errcheck
			once()
			return assert.AnError
		})
	}()
	delivered.Wait()
	failCancel()
	require.NoError(t, first.Close())

	// A fresh consumer in the same group sees the message again.
	var (
		mu  sync.Mutex
		got int
	)
	retryCtx, retryCancel := context.WithCancel(ctx)
	defer retryCancel()
	second := kafka.NewConsumer(testKafkaBrokers, topic, "redelivery-group", quietLogger())
	defer second.Close()
	go func() {
		second.Subscribe(retryCtx, func(_ context.Context, _ kafka.Message) error { //nolint:errcheck
			mu.Lock()
			got++
			mu.Unlock()
			retryCancel()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, 30*time.Second, 100*time.Millisecond)
}
