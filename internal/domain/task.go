package domain

import (
	"encoding/json"
	"time"
)

// Priority is the scheduling tier of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Tiers lists all priorities in dispatch order: high strictly precedes
// normal, normal strictly precedes low.
var Tiers = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ParsePriority converts a string to a Priority. The empty string maps to
// normal; any other unknown value is a ConfigurationError.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", &ConfigurationError{Field: "priority", Reason: "unknown tier " + s}
	}
	return p, nil
}

// Status is the lifecycle position of a task. A task is in exactly one
// status at any time; its ID is stable across all transitions.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInFlight   Status = "in-flight"
	StatusDeadLetter Status = "dead-letter"
)

// Task is a unit of background work flowing through the pool. The payload is
// opaque to the manager; only workers interpret it.
type Task struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     Priority        `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Due reports whether the task is visible to the dispatcher at the given time.
func (t *Task) Due(now time.Time) bool {
	return t.ScheduledFor == nil || !t.ScheduledFor.After(now)
}

// DeadTask is a task that exhausted its retry budget. Dead tasks are kept for
// manual inspection and requeueing; they are never retried automatically.
type DeadTask struct {
	Task
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}
