// Package store persists the manager's crash-recoverable queue state.
package store

import (
	"context"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// StateVersion is the current persisted record version.
const StateVersion = 1

// QueueState is the sole unit of crash-recoverable state. Worker handles,
// the result cache, and metrics are ephemeral and rebuilt on restart.
//
// Pending includes in-flight tasks: a task stays durably pending until its
// terminal transition is persisted, so a crash mid-execution re-delivers it
// on recovery instead of losing it.
type QueueState struct {
	Version     int                `json:"version"`
	Pending     []*domain.Task     `json:"pending"`
	Scheduled   []*domain.Task     `json:"scheduled"`
	DeadLetter  []*domain.DeadTask `json:"dead_letter"`
	TaskCounter uint64             `json:"task_counter"`
}

// NewQueueState returns an empty state at the current version.
func NewQueueState() *QueueState {
	return &QueueState{
		Version:    StateVersion,
		Pending:    []*domain.Task{},
		Scheduled:  []*domain.Task{},
		DeadLetter: []*domain.DeadTask{},
	}
}

// Store owns the authoritative durable copy of the queue state.
type Store interface {
	// Load reads the persisted state, returning an empty state when none
	// has been written yet.
	Load(ctx context.Context) (*QueueState, error)
	// Save replaces the persisted state.
	Save(ctx context.Context, state *QueueState) error
}

// Flusher is implemented by stores that defer writes; Flush forces any
// deferred state onto the medium.
type Flusher interface {
	Flush(ctx context.Context) error
}
