//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/store"
)

// newPostgresStore connects to the test container, runs the migration, and
// truncates the state table on cleanup so tests stay independent.
func newPostgresStore(t *testing.T) *store.Postgres {
	t.Helper()
	ctx := context.Background()
	pool, err := store.NewPool(ctx, testPostgresDSN)
	require.NoError(t, err)

	st := store.NewPostgres(pool)
	require.NoError(t, st.Migrate(ctx))

	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE queue_state") //nolint:errcheck
		pool.Close()
	})
	return st
}

func sampleState() *store.QueueState {
	now := time.Now().UTC().Truncate(time.Millisecond)
	later := now.Add(time.Hour)
	return &store.QueueState{
		Version: store.StateVersion,
		Pending: []*domain.Task{
			{ID: "task-000001", Payload: []byte(`{"n":1}`), Priority: domain.PriorityHigh, CreatedAt: now},
			{ID: "task-000002", Payload: []byte(`{"n":2}`), Priority: domain.PriorityNormal, RetryCount: 1, CreatedAt: now},
		},
		Scheduled: []*domain.Task{
			{ID: "task-000003", Payload: []byte(`{"n":3}`), Priority: domain.PriorityLow, CreatedAt: now, ScheduledFor: &later},
		},
		DeadLetter: []*domain.DeadTask{
			{Task: domain.Task{ID: "task-000004", Payload: []byte(`{"n":4}`), Priority: domain.PriorityNormal, RetryCount: 3, CreatedAt: now}, LastError: "boom", FailedAt: now},
		},
		TaskCounter: 4,
	}
}

func TestPostgres_LoadEmptyReturnsFreshState(t *testing.T) {
	st := newPostgresStore(t)

	state, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Scheduled)
	assert.Empty(t, state.DeadLetter)
	assert.Zero(t, state.TaskCounter)
}

func TestPostgres_SaveLoadRoundTrip(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, st.Save(ctx, want))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Pending, got.Pending)
	assert.Equal(t, want.Scheduled, got.Scheduled)
	assert.Equal(t, want.DeadLetter, got.DeadLetter)
	assert.Equal(t, want.TaskCounter, got.TaskCounter)
}

func TestPostgres_SaveOverwritesPreviousState(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleState()))

	next := store.NewQueueState()
	next.TaskCounter = 7
	require.NoError(t, st.Save(ctx, next))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Pending)
	assert.EqualValues(t, 7, got.TaskCounter)
}
