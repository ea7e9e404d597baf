package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordTick(t *testing.T) {
	m := New()
	m.RecordTick("decay", "ok", 0.01)
	m.RecordTick("decay", "ok", 0.02)
	m.RecordTick("reminder", "error", 0.5)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `planner_ticks_total{poller="decay",result="ok"} 2`)
	assert.Contains(t, body, `planner_ticks_total{poller="reminder",result="error"} 1`)
	assert.Contains(t, body, "planner_tick_duration_seconds")
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordNotification("decay")
	m.RecordBoardSync("modified")
	m.RecordClaim("claim", "ok")
	m.RecordError("scheduler", "store")
	m.RecordRoleChange("add")
	m.SetActivePlanners(3)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `planner_notifications_total{kind="decay"} 1`)
	assert.Contains(t, body, `planner_board_syncs_total{mode="modified"} 1`)
	assert.Contains(t, body, `planner_claims_total{action="claim",result="ok"} 1`)
	assert.Contains(t, body, `planner_errors_total{module="scheduler",type="store"} 1`)
	assert.Contains(t, body, `planner_role_changes_total{action="add"} 1`)
	assert.Contains(t, body, `planner_active_planners 3`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTick("decay", "ok", 1)
		m.RecordNotification("decay")
		m.RecordBoardSync("replaced")
		m.RecordClaim("claim", "ok")
		m.RecordError("x", "y")
		m.RecordRoleChange("remove")
		m.SetActivePlanners(1)
	})
}
