// Package protocol defines the manager↔worker message envelope and its
// newline-delimited JSON codec. The envelope set is closed: unknown types are
// a reportable error, never silently ignored.
package protocol

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

// Envelope types exchanged between the manager and a worker process.
const (
	TypeTask                = "task"
	TypeTaskComplete        = "task_complete"
	TypeTaskError           = "task_error"
	TypeHealthCheck         = "health_check"
	TypeHealthCheckResponse = "health_check_response"
	TypeShutdown            = "shutdown"
)

// Envelope is one wire message. TaskID is set on task-related messages;
// Data carries the task payload (manager→worker) or the result
// (worker→manager); Error carries the failure reason on task_error.
type Envelope struct {
	Type   string          `json:"type"`
	TaskID string          `json:"task_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Validate returns an UnknownMessageTypeError if the envelope type is outside
// the closed protocol set.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeTask, TypeTaskComplete, TypeTaskError,
		TypeHealthCheck, TypeHealthCheckResponse, TypeShutdown:
		return nil
	}
	return &domain.UnknownMessageTypeError{Type: e.Type}
}

// Encoder writes envelopes as newline-delimited JSON. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

func (e *Encoder) Encode(env Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(env)
}

// Decoder reads envelopes from a newline-delimited JSON stream.
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Decode reads the next envelope. It returns io.EOF once the stream ends.
func (d *Decoder) Decode() (Envelope, error) {
	var env Envelope
	err := d.dec.Decode(&env)
	return env, err
}
