// Package metrics provides Prometheus metrics for the planner bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TicksTotal       *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	Notifications    *prometheus.CounterVec
	BoardSyncs       *prometheus.CounterVec
	ClaimsTotal      *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	ActivePlanners   prometheus.Gauge
	RoleChangesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_ticks_total",
				Help: "Total scheduler ticks by poller and result.",
			},
			[]string{"poller", "result"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_tick_duration_seconds",
				Help:    "Scheduler tick duration by poller.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"poller"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_notifications_total",
				Help: "Notifications sent by kind.",
			},
			[]string{"kind"},
		),
		BoardSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_board_syncs_total",
				Help: "Board reconciliations by outcome.",
			},
			[]string{"mode"},
		),
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_claims_total",
				Help: "Claim operations by action and result.",
			},
			[]string{"action", "result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		ActivePlanners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "planner_active_planners",
				Help: "Number of active planners seen by the last sweep.",
			},
		),
		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_role_changes_total",
				Help: "Ticket role grants and removals.",
			},
			[]string{"action"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TicksTotal)
	reg.MustRegister(m.TickDuration)
	reg.MustRegister(m.Notifications)
	reg.MustRegister(m.BoardSyncs)
	reg.MustRegister(m.ClaimsTotal)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.ActivePlanners)
	reg.MustRegister(m.RoleChangesTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTick counts a finished scheduler tick and its duration.
func (m *Metrics) RecordTick(poller, result string, seconds float64) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(poller, result).Inc()
	m.TickDuration.WithLabelValues(poller).Observe(seconds)
}

// RecordNotification counts a dispatched ping.
func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

// RecordBoardSync counts a board reconciliation.
func (m *Metrics) RecordBoardSync(mode string) {
	if m == nil {
		return
	}
	m.BoardSyncs.WithLabelValues(mode).Inc()
}

// RecordClaim counts a claim or unclaim attempt.
func (m *Metrics) RecordClaim(action, result string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(action, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// RecordRoleChange counts a ticket role grant or removal.
func (m *Metrics) RecordRoleChange(action string) {
	if m == nil {
		return
	}
	m.RoleChangesTotal.WithLabelValues(action).Inc()
}

// SetActivePlanners sets the active planner gauge.
func (m *Metrics) SetActivePlanners(count int) {
	if m == nil {
		return
	}
	m.ActivePlanners.Set(float64(count))
}
