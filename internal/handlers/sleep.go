package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type sleepPayload struct {
	Duration string `json:"duration"`
}

// SleepHandler waits for the requested duration. Used for load testing and
// as the canonical do-nothing task.
type SleepHandler struct{}

func NewSleepHandler() *SleepHandler { return &SleepHandler{} }

func (h *SleepHandler) Name() string { return "sleep" }

func (h *SleepHandler) Handle(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	var p sleepPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid sleep payload: %w", err)
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return nil, fmt.Errorf("invalid sleep duration %q: %w", p.Duration, err)
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out, _ := json.Marshal(map[string]string{"slept": d.String()})
	return out, nil
}
