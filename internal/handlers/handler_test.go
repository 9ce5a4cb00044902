package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

var (
	_ Handler = (*SleepHandler)(nil)
	_ Handler = (*ChecksumHandler)(nil)
	_ Handler = (*WebhookHandler)(nil)
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewChecksumHandler())

	h, err := r.Get("checksum")
	require.NoError(t, err)
	assert.Equal(t, "checksum", h.Name())

	_, err = r.Get("nope")
	require.Error(t, err)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestChecksumHandler(t *testing.T) {
	h := NewChecksumHandler()

	out, err := h.Handle(context.Background(), json.RawMessage(`{"data":"hello"}`))
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal(out, &result))

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), result["sha256"])
}

func TestChecksumHandlerMissingData(t *testing.T) {
	h := NewChecksumHandler()

	_, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "missing required field 'data'")

	_, err = h.Handle(context.Background(), json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestSleepHandler(t *testing.T) {
	h := NewSleepHandler()

	start := time.Now()
	out, err := h.Handle(context.Background(), json.RawMessage(`{"duration":"10ms"}`))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	var result map[string]string
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "10ms", result["slept"])
}

func TestSleepHandlerCancelled(t *testing.T) {
	h := NewSleepHandler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Handle(ctx, json.RawMessage(`{"duration":"10s"}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepHandlerInvalidDuration(t *testing.T) {
	h := NewSleepHandler()

	_, err := h.Handle(context.Background(), json.RawMessage(`{"duration":"soon"}`))
	assert.ErrorContains(t, err, "invalid sleep duration")
}

func TestWebhookHandler(t *testing.T) {
	var gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewWebhookHandler()
	payload, _ := json.Marshal(map[string]any{
		"url":     srv.URL,
		"method":  "PUT",
		"headers": map[string]string{"X-Token": "abc"},
		"body":    `{"k":"v"}`,
	})

	out, err := h.Handle(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "abc", gotHeader)

	var result map[string]int
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, http.StatusAccepted, result["status_code"])
}

func TestWebhookHandlerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewWebhookHandler()
	payload, _ := json.Marshal(map[string]string{"url": srv.URL})

	_, err := h.Handle(context.Background(), payload)
	assert.ErrorContains(t, err, "returned status 500")
}

func TestWebhookHandlerMissingURL(t *testing.T) {
	h := NewWebhookHandler()

	_, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "missing required field 'url'")
}
