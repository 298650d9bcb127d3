// Package telemetry exposes the process-wide prometheus registry for the
// risk control plane: pool solvency gauges, breaker incident counters, and
// scheduler tick/duration instrumentation.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RiskMetrics is the singleton metrics registry. Every method is a no-op on
// a nil receiver so components can hold an *RiskMetrics obtained before
// registration without special-casing tests that never call Registry().
type RiskMetrics struct {
	juniorVirtualBalance   *prometheus.GaugeVec
	trancheBadDebt         *prometheus.GaugeVec
	incidentsOpened        *prometheus.CounterVec
	incidentsResolved      *prometheus.CounterVec
	enforcementGlobalBlock *prometheus.GaugeVec
	schedulerTicks         *prometheus.CounterVec
	schedulerTickDuration  *prometheus.HistogramVec
	schedulerFailClosed    *prometheus.CounterVec
	invariantViolations    *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *RiskMetrics
)

// Registry returns the process-wide metrics registry, constructing and
// registering it with the default prometheus registerer on first use.
func Registry() *RiskMetrics {
	once.Do(func() {
		registry = &RiskMetrics{
			juniorVirtualBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "riskplane_tranche_virtual_balance",
				Help: "Current virtualBalance per tranche, labeled junior/senior.",
			}, []string{"pool_id", "tranche"}),
			trancheBadDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "riskplane_tranche_bad_debt",
				Help: "Current recognized bad debt per tranche.",
			}, []string{"pool_id", "tranche"}),
			incidentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "riskplane_breaker_incidents_opened_total",
				Help: "Count of breaker incidents opened by trigger.",
			}, []string{"trigger"}),
			incidentsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "riskplane_breaker_incidents_resolved_total",
				Help: "Count of breaker incidents resolved by trigger and reason.",
			}, []string{"trigger", "reason"}),
			enforcementGlobalBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "riskplane_enforcement_state",
				Help: "Current enforcement projection booleans (1=active).",
			}, []string{"field"}),
			schedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "riskplane_scheduler_ticks_total",
				Help: "Scheduler cadence executions by cadence and outcome.",
			}, []string{"cadence", "outcome"}),
			schedulerTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "riskplane_scheduler_tick_duration_seconds",
				Help: "Wall-clock duration of a scheduler cadence callback.",
			}, []string{"cadence"}),
			schedulerFailClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "riskplane_scheduler_fail_closed_total",
				Help: "Count of metric fetches that fell back to the fail-closed default.",
			}, []string{"metric"}),
			invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "riskplane_invariant_violations_total",
				Help: "Count of invariant check failures observed by self-audit, by code.",
			}, []string{"pool_id", "code"}),
		}
		prometheus.MustRegister(
			registry.juniorVirtualBalance,
			registry.trancheBadDebt,
			registry.incidentsOpened,
			registry.incidentsResolved,
			registry.enforcementGlobalBlock,
			registry.schedulerTicks,
			registry.schedulerTickDuration,
			registry.schedulerFailClosed,
			registry.invariantViolations,
		)
	})
	return registry
}

func (m *RiskMetrics) SetTrancheVirtualBalance(poolID, tranche string, value float64) {
	if m == nil {
		return
	}
	m.juniorVirtualBalance.WithLabelValues(poolID, tranche).Set(value)
}

func (m *RiskMetrics) SetTrancheBadDebt(poolID, tranche string, value float64) {
	if m == nil {
		return
	}
	m.trancheBadDebt.WithLabelValues(poolID, tranche).Set(value)
}

func (m *RiskMetrics) IncIncidentOpened(trigger string) {
	if m == nil {
		return
	}
	m.incidentsOpened.WithLabelValues(trigger).Inc()
}

func (m *RiskMetrics) IncIncidentResolved(trigger, reason string) {
	if m == nil {
		return
	}
	m.incidentsResolved.WithLabelValues(trigger, reason).Inc()
}

func (m *RiskMetrics) SetEnforcementField(field string, active bool) {
	if m == nil {
		return
	}
	value := 0.0
	if active {
		value = 1.0
	}
	m.enforcementGlobalBlock.WithLabelValues(field).Set(value)
}

func (m *RiskMetrics) ObserveSchedulerTick(cadence, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.schedulerTicks.WithLabelValues(cadence, outcome).Inc()
	m.schedulerTickDuration.WithLabelValues(cadence).Observe(seconds)
}

func (m *RiskMetrics) IncFailClosed(metric string) {
	if m == nil {
		return
	}
	m.schedulerFailClosed.WithLabelValues(metric).Inc()
}

func (m *RiskMetrics) IncInvariantViolation(poolID, code string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(poolID, code).Inc()
}
