// Package queue implements the in-memory priority queue of ready tasks.
package queue

import (
	"sync"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// Tiered holds three independent FIFO sequences, one per priority tier.
// Dequeue drains high before normal before low; within a tier, submission
// order is preserved. Sustained high-tier traffic can starve lower tiers
// indefinitely — an accepted trade-off of strict tier precedence.
type Tiered struct {
	mu    sync.Mutex
	tiers map[domain.Priority][]*domain.Task
}

func NewTiered() *Tiered {
	return &Tiered{tiers: map[domain.Priority][]*domain.Task{
		domain.PriorityHigh:   nil,
		domain.PriorityNormal: nil,
		domain.PriorityLow:    nil,
	}}
}

// Enqueue appends the task to its priority tier. An unknown tier is a
// ConfigurationError.
func (q *Tiered) Enqueue(task *domain.Task) error {
	if !task.Priority.Valid() {
		return &domain.ConfigurationError{Field: "priority", Reason: "unknown tier " + string(task.Priority)}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tiers[task.Priority] = append(q.tiers[task.Priority], task)
	return nil
}

// Dequeue removes and returns the head of the highest non-empty tier, or nil
// when every tier is empty.
func (q *Tiered) Dequeue() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tier := range domain.Tiers {
		if tasks := q.tiers[tier]; len(tasks) > 0 {
			task := tasks[0]
			q.tiers[tier] = tasks[1:]
			return task
		}
	}
	return nil
}

// Peek returns the next task without removing it, or nil when empty.
func (q *Tiered) Peek() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tier := range domain.Tiers {
		if tasks := q.tiers[tier]; len(tasks) > 0 {
			return tasks[0]
		}
	}
	return nil
}

// Len returns the total number of queued tasks.
func (q *Tiered) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tasks := range q.tiers {
		n += len(tasks)
	}
	return n
}

// SizesByTier returns the queued count per tier.
func (q *Tiered) SizesByTier() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	sizes := make(map[domain.Priority]int, len(q.tiers))
	for tier, tasks := range q.tiers {
		sizes[tier] = len(tasks)
	}
	return sizes
}

// Snapshot returns all queued tasks in dispatch order (tier precedence, FIFO
// within each tier). The slice is freshly allocated; the tasks are shared.
func (q *Tiered) Snapshot() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*domain.Task
	for _, tier := range domain.Tiers {
		out = append(out, q.tiers[tier]...)
	}
	return out
}

// Find returns the queued task with the given ID, or nil.
func (q *Tiered) Find(id string) *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tasks := range q.tiers {
		for _, t := range tasks {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}
