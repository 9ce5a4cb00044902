package domain

import "fmt"

// ConfigurationError reports an invalid configuration or submission value.
// It is rejected synchronously and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TaskNotFoundError is returned when a task ID does not exist in any of the
// manager's collections.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// UnknownMessageTypeError reports an envelope type outside the closed
// manager↔worker protocol set.
type UnknownMessageTypeError struct {
	Type string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// ShuttingDownError is returned for submissions and pending waiters once
// manager shutdown has begun.
type ShuttingDownError struct{}

func (e *ShuttingDownError) Error() string {
	return "manager is shutting down"
}

// TaskDeadError is delivered to waiters when a task exhausts its retry budget
// and lands in the dead-letter queue.
type TaskDeadError struct {
	TaskID    string
	LastError string
}

func (e *TaskDeadError) Error() string {
	return fmt.Sprintf("task %s dead after exhausting retries: %s", e.TaskID, e.LastError)
}
