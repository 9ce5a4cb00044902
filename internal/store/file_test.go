package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

func sampleState() *QueueState {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scheduledFor := created.Add(time.Hour)
	state := NewQueueState()
	state.TaskCounter = 3
	state.Pending = append(state.Pending, &domain.Task{
		ID:        "task-1",
		Payload:   []byte(`{"handler":"sleep"}`),
		Priority:  domain.PriorityHigh,
		CreatedAt: created,
	})
	state.Scheduled = append(state.Scheduled, &domain.Task{
		ID:           "task-2",
		Payload:      []byte(`{"handler":"sleep"}`),
		Priority:     domain.PriorityNormal,
		ScheduledFor: &scheduledFor,
		RetryCount:   1,
		CreatedAt:    created,
	})
	state.DeadLetter = append(state.DeadLetter, &domain.DeadTask{
		Task: domain.Task{
			ID:         "task-3",
			Payload:    []byte(`{"handler":"webhook"}`),
			Priority:   domain.PriorityLow,
			RetryCount: 3,
			CreatedAt:  created,
		},
		LastError: "connection refused",
		FailedAt:  created.Add(time.Minute),
	})
	return state
}

func TestFile_LoadMissingReturnsEmptyState(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))
	state, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateVersion, state.Version)
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Scheduled)
	assert.Empty(t, state.DeadLetter)
	assert.Zero(t, state.TaskCounter)
}

func TestFile_RoundTripIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewFile(path)
	ctx := context.Background()

	require.NoError(t, f.Save(ctx, sampleState()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := f.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Save(ctx, loaded))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "save→load→save must be byte-identical")

	reloaded, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, loaded, reloaded)
	assert.Equal(t, uint64(3), reloaded.TaskCounter)
	assert.Equal(t, "connection refused", reloaded.DeadLetter[0].LastError)
	assert.Equal(t, 1, reloaded.Scheduled[0].RetryCount)
}

func TestFile_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.Save(ctx, sampleState()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFile_RejectsUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0o644))

	_, err := NewFile(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestFile_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.json")
	require.NoError(t, NewFile(path).Save(context.Background(), NewQueueState()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
