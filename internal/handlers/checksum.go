package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

type checksumPayload struct {
	Data string `json:"data"`
}

// ChecksumHandler computes the SHA-256 digest of the payload data. Its
// deterministic output makes it the reference workload for result caching.
type ChecksumHandler struct{}

func NewChecksumHandler() *ChecksumHandler { return &ChecksumHandler{} }

func (h *ChecksumHandler) Name() string { return "checksum" }

func (h *ChecksumHandler) Handle(_ context.Context, data json.RawMessage) (json.RawMessage, error) {
	var p checksumPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid checksum payload: %w", err)
	}
	if p.Data == "" {
		return nil, errors.New("checksum payload missing required field 'data'")
	}

	sum := sha256.Sum256([]byte(p.Data))
	out, _ := json.Marshal(map[string]string{"sha256": hex.EncodeToString(sum[:])})
	return out, nil
}
