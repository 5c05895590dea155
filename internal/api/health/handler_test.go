package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/queue"
	"github.com/good-yellow-bee/blazealert/internal/storage/storagetest"
)

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("disk I/O error") }

func ready(t *testing.T, h *Handler) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestReadyAllHealthy(t *testing.T) {
	store := storagetest.New(t)
	h := NewHandler()
	h.RegisterChecker(NewSQLiteChecker(store.DB()))
	h.RegisterChecker(NewQueueChecker(queue.New(2)))

	code, resp := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"sqlite": "ok", "dispatch_queue": "ok"}, resp.Checks)
}

func TestReadyDegraded(t *testing.T) {
	q := queue.New(1)
	q.Push(queue.Item{AlertID: "a"})

	h := NewHandler()
	h.RegisterChecker(NewSQLiteChecker(failingPinger{}))
	h.RegisterChecker(NewQueueChecker(q))

	code, resp := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disk I/O error", resp.Checks["sqlite"])
	assert.Equal(t, "queue full (1/1)", resp.Checks["dispatch_queue"])
}

func TestLive(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler().Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyCheckerFunc(t *testing.T) {
	h := NewHandler()
	h.RegisterChecker(CheckerFunc{CheckName: "redis", Fn: func(context.Context) error { return nil }})
	h.RegisterChecker(CheckerFunc{CheckName: "nats", Fn: func(context.Context) error { return errors.New("connection closed") }})

	code, resp := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "ok", "nats": "connection closed"}, resp.Checks)
}
