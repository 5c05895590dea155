package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	SetBuildInfo("1.0.0", "abc", "now")
	TriggersTotal.WithLabelValues("created").Inc()
	QueueDepth.Set(7)
	DeliveriesTotal.WithLabelValues("webhook", "delivered").Inc()

	srv := NewServer(":0", zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `blazealert_build_info{build_time="now",commit="abc",version="1.0.0"} 1`)
	assert.Contains(t, body, `blazealert_intake_triggers_total{outcome="created"}`)
	assert.Contains(t, body, "blazealert_queue_depth 7")
	assert.Contains(t, body, `blazealert_delivery_attempts_total{channel="webhook",status="delivered"}`)
	assert.Equal(t, ":0", srv.Addr())
}

func TestServerIndexPage(t *testing.T) {
	srv := NewServer(":0", zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "BlazeAlert Metrics")
}
