package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-pool/internal/domain"
)

func startAPI(t *testing.T, l *fakeLauncher, extra ...Option) (*Manager, *httptest.Server) {
	t.Helper()
	m, _ := startManager(t, l, extra...)
	srv := httptest.NewServer(NewAPI(m, quietLogger()).Router())
	t.Cleanup(srv.Close)
	return m, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPISubmitWait(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(autoComplete(okResult)))

	resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
		"payload": map[string]int{"n": 1},
		"wait":    true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[submitResponse](t, resp)
	assert.Equal(t, "task-000001", body.TaskID)
	assert.Equal(t, "completed", body.Status)
	assert.JSONEq(t, `{"ok":true}`, string(body.Result))
}

func TestAPISubmitAsync(t *testing.T) {
	m, srv := startAPI(t, newFakeLauncher(autoComplete(okResult)))

	resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
		"payload":  map[string]int{"n": 1},
		"priority": "high",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody[submitResponse](t, resp)
	assert.NotEmpty(t, body.TaskID)
	assert.Equal(t, string(domain.StatusPending), body.Status)

	require.Eventually(t, func() bool {
		stats, err := m.Stats(context.Background())
		return err == nil && stats.Metrics.Completed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAPISubmitScheduled(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(nil))

	at := time.Now().Add(time.Hour)
	resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
		"payload":       map[string]int{"n": 1},
		"scheduled_for": at,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[submitResponse](t, resp)
	assert.Equal(t, string(domain.StatusScheduled), body.Status)

	got, err := http.Get(srv.URL + "/api/v1/tasks/" + body.TaskID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.StatusCode)
	info := decodeBody[TaskInfo](t, got)
	assert.Equal(t, domain.StatusScheduled, info.Status)
}

func TestAPISubmitValidation(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(nil))

	resp := postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{
		"payload":  map[string]int{"n": 1},
		"priority": "urgent",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/tasks", map[string]any{"priority": "low"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPITaskNotFound(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(nil))

	resp, err := http.Get(srv.URL + "/api/v1/tasks/task-999999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIWorkersAndStats(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(autoComplete(okResult)))

	resp, err := http.Get(srv.URL + "/api/v1/workers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workers := decodeBody[[]WorkerInfo](t, resp)
	require.Len(t, workers, 1)
	assert.Equal(t, "idle", workers[0].State)

	resp, err = http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[Stats](t, resp)
	assert.Equal(t, 1, stats.Workers)
}

func TestAPIDeadLetterRequeue(t *testing.T) {
	l := newFakeLauncher(autoFail("boom"))
	m, srv := startAPI(t, l, WithMaxRetries(0))
	ctx := context.Background()

	id, _, err := m.SubmitWait(ctx, SubmitRequest{Payload: payload(`{"n":1}`)})
	var deadErr *domain.TaskDeadError
	require.ErrorAs(t, err, &deadErr)

	resp, err := http.Get(srv.URL + "/api/v1/deadletter")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dead := decodeBody[[]domain.DeadTask](t, resp)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)

	l.setBehavior(autoComplete(okResult))
	requeued := postJSON(t, srv.URL+"/api/v1/deadletter/"+id+"/requeue", nil)
	assert.Equal(t, http.StatusOK, requeued.StatusCode)
	requeued.Body.Close()

	missing := postJSON(t, srv.URL+"/api/v1/deadletter/task-999999/requeue", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestAPIHealthz(t *testing.T) {
	_, srv := startAPI(t, newFakeLauncher(nil))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
