package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flor3z/ct-planner-bot/internal/metrics"
)

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestChecker(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()), "no checks")

	c.Register("store", func(ctx context.Context) Status { return StatusOK })
	c.Register("chat", func(ctx context.Context) Status { return StatusDegraded })
	assert.True(t, c.IsReady(context.Background()), "degraded is still ready")

	c.Register("chat", ErrorCheck(func(ctx context.Context) error { return errors.New("session closed") }))
	results := c.RunAll(context.Background())
	assert.Equal(t, StatusDown, results["chat"])
	assert.False(t, c.IsReady(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ready"`)

	c.Register("chat", func(ctx context.Context) Status { return StatusDown })
	rr = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

func TestServerRoutes(t *testing.T) {
	m := metrics.New()
	m.RecordNotification("decay")
	srv := httptest.NewServer(NewServer(":0", NewChecker(zerolog.Nop()), m.Handler(), zerolog.Nop()).Handler())
	defer srv.Close()

	for path, want := range map[string]string{
		"/health":  "ok",
		"/ready":   "ready",
		"/metrics": "planner_notifications_total",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}

	resp, err := http.Post(srv.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
