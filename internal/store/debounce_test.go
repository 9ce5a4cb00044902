package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records saves and can be made to fail a number of times.
type countingStore struct {
	mu       sync.Mutex
	saves    int
	failures int
	last     *QueueState
}

func (s *countingStore) Load(context.Context) (*QueueState, error) {
	return NewQueueState(), nil
}

func (s *countingStore) Save(_ context.Context, state *QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	s.saves++
	s.last = state
	return nil
}

func (s *countingStore) stats() (int, *QueueState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.last
}

var _ Store = (*countingStore)(nil)

func TestDebouncer_CoalescesRapidSaves(t *testing.T) {
	inner := &countingStore{}
	d := NewDebouncer(inner, 20*time.Millisecond, slog.Default())
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		state := NewQueueState()
		state.TaskCounter = i
		require.NoError(t, d.Save(ctx, state))
	}

	require.Eventually(t, func() bool {
		saves, _ := inner.stats()
		return saves == 1
	}, time.Second, 5*time.Millisecond, "five rapid saves must coalesce into one write")

	_, last := inner.stats()
	assert.Equal(t, uint64(5), last.TaskCounter, "the latest state wins")
}

func TestDebouncer_FlushWritesImmediately(t *testing.T) {
	inner := &countingStore{}
	d := NewDebouncer(inner, time.Hour, slog.Default())
	ctx := context.Background()

	state := NewQueueState()
	state.TaskCounter = 7
	require.NoError(t, d.Save(ctx, state))
	require.NoError(t, d.Flush(ctx))

	saves, last := inner.stats()
	assert.Equal(t, 1, saves)
	assert.Equal(t, uint64(7), last.TaskCounter)

	// Nothing pending — Flush is a no-op.
	require.NoError(t, d.Flush(ctx))
	saves, _ = inner.stats()
	assert.Equal(t, 1, saves)
}

func TestDebouncer_FailedWriteRetriedOnNextMutation(t *testing.T) {
	inner := &countingStore{failures: 1}
	d := NewDebouncer(inner, 10*time.Millisecond, slog.Default())
	ctx := context.Background()

	state := NewQueueState()
	state.TaskCounter = 1
	require.NoError(t, d.Save(ctx, state))

	// First flush fails; the state stays pending. The next mutation re-arms
	// the timer and carries it through.
	require.Eventually(t, func() bool {
		next := NewQueueState()
		next.TaskCounter = 2
		require.NoError(t, d.Save(ctx, next))
		saves, _ := inner.stats()
		return saves >= 1
	}, time.Second, 20*time.Millisecond)

	_, last := inner.stats()
	assert.Equal(t, uint64(2), last.TaskCounter)
}
