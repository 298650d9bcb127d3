// Package scheduler runs the breaker's three evaluation cadences (spec §5) —
// a 5-minute settlement-integrity sweep, an hourly credit+liquidity sweep,
// and a daily 03:00 UTC full reconciliation — plus an optional self-audit
// cadence (spec §7) that re-checks the pool's invariants on a timer. Each
// cadence is independent, idempotent on its own input, and single-shot — if
// a prior run of a given cadence is still executing, the next tick is
// dropped rather than queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tranchepool/riskplane/breaker"
	"github.com/tranchepool/riskplane/internal/telemetry"
	"github.com/tranchepool/riskplane/loanbook"
	"github.com/tranchepool/riskplane/pool"
)

// SettlementReportFetcher resolves the two settlement-integrity report
// counts from the external reconciliation process (chain RPC, fiat webhook
// ledger) that sits outside the risk control plane's boundary.
type SettlementReportFetcher interface {
	FetchReports(ctx context.Context) (breaker.ReconciliationReports, error)
}

// SelfAuditor re-evaluates a pool's invariants on demand. pool.Pool
// satisfies this directly (ID, RunSelfAudit); a nil SelfAuditor disables
// the cadence entirely (e.g. a deployment with no live pool wired yet).
type SelfAuditor interface {
	ID() string
	RunSelfAudit() (bool, pool.InvariantCode)
}

// Conservative fail-closed defaults substituted when a metric fetch fails
// (spec §4.E failure model, property 14): settlement mismatch counts assume
// a breach occurred; higher-is-worse credit/NAV ratios assume the worst
// possible value (1.0); the liquidity ratio (lower-is-worse) assumes zero
// liquidity. The spec's literal "0 for higher is worse" constant cannot
// itself trigger a higher-is-worse threshold and contradicts its own stated
// rationale and testable property 14, so these defaults follow the
// rationale instead (recorded as an Open Question resolution).
const (
	failClosedMismatchCount  = 1
	failClosedHigherIsWorse  = 1.0
	failClosedLiquidityRatio = 0.0
)

// Scheduler owns the four ticker loops (the three breaker cadences plus
// self-audit) and the single-shot busy guard for
// each. It holds no pool or breaker state of its own beyond the injected
// Engine and LoanBook collaborators.
type Scheduler struct {
	engine   *breaker.Engine
	book     loanbook.LoanBook
	reports  SettlementReportFetcher
	auditor  SelfAuditor
	partners []string
	logger   *slog.Logger
	metrics  *telemetry.RiskMetrics
	now      func() int64

	settlementBusy     atomic.Bool
	creditLiquidityBusy atomic.Bool
	fullReconcileBusy  atomic.Bool
	selfAuditBusy      atomic.Bool

	stabilityWindowSeconds int64
}

// Config groups the Scheduler's cadence intervals (spec §5 defaults).
type Config struct {
	SettlementInterval        time.Duration
	CreditLiquidityInterval   time.Duration
	FullReconciliationHourUTC int
	SelfAuditInterval         time.Duration
}

// New constructs a Scheduler. now defaults to time.Now().Unix() when nil. A
// nil auditor disables the self-audit cadence.
func New(engine *breaker.Engine, book loanbook.LoanBook, reports SettlementReportFetcher, partners []string, logger *slog.Logger, metrics *telemetry.RiskMetrics, now func() int64, auditor SelfAuditor) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Scheduler{
		engine:                 engine,
		book:                   book,
		reports:                reports,
		auditor:                auditor,
		partners:               partners,
		logger:                 logger,
		metrics:                metrics,
		now:                    now,
		stabilityWindowSeconds: int64(60 * 60),
	}
}

// Run blocks, driving the settlement, credit+liquidity, and full
// reconciliation cadences concurrently until ctx is cancelled, plus the
// self-audit cadence when an auditor was injected. Each cadence's in-flight
// callback is allowed to reach its next safe point (the end of a single
// metric read + evaluate cycle) before Run returns.
func (s *Scheduler) Run(ctx context.Context, cfg Config) {
	cadences := 3
	if s.auditor != nil {
		cadences++
	}
	done := make(chan struct{}, cadences)
	go s.runCadence(ctx, "settlement", cfg.SettlementInterval, &s.settlementBusy, s.tickSettlement, done)
	go s.runCadence(ctx, "credit_liquidity", cfg.CreditLiquidityInterval, &s.creditLiquidityBusy, s.tickCreditLiquidity, done)
	go s.runDaily(ctx, cfg.FullReconciliationHourUTC, &s.fullReconcileBusy, s.tickFullReconciliation, done)
	if s.auditor != nil {
		go s.runCadence(ctx, "self_audit", cfg.SelfAuditInterval, &s.selfAuditBusy, s.tickSelfAudit, done)
	}

	<-ctx.Done()
	for i := 0; i < cadences; i++ {
		<-done
	}
}

func (s *Scheduler) runCadence(ctx context.Context, name string, interval time.Duration, busy *atomic.Bool, tick func(context.Context), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireOnce(ctx, name, busy, tick)
		}
	}
}

// runDaily fires tick once per UTC day at hourUTC, guarded by the same
// single-shot busy flag as the other cadences.
func (s *Scheduler) runDaily(ctx context.Context, hourUTC int, busy *atomic.Bool, tick func(context.Context), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		wait := untilNextUTCHour(time.Now().UTC(), hourUTC)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fireOnce(ctx, "full_reconciliation", busy, tick)
		}
	}
}

func untilNextUTCHour(now time.Time, hourUTC int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (s *Scheduler) fireOnce(ctx context.Context, name string, busy *atomic.Bool, tick func(context.Context)) {
	if !busy.CompareAndSwap(false, true) {
		s.logger.Warn("scheduler tick dropped, prior run still executing", "cadence", name)
		if s.metrics != nil {
			s.metrics.ObserveSchedulerTick(name, "dropped", 0)
		}
		return
	}
	defer busy.Store(false)

	start := time.Now()
	tick(ctx)
	if s.metrics != nil {
		s.metrics.ObserveSchedulerTick(name, "completed", time.Since(start).Seconds())
	}
}

func (s *Scheduler) tickSettlement(ctx context.Context) {
	reports, err := s.reports.FetchReports(ctx)
	if err != nil {
		s.logger.Error("settlement report fetch failed, applying fail-closed defaults", "error", err)
		if s.metrics != nil {
			s.metrics.IncFailClosed("settlement_reports")
		}
		reports = breaker.ReconciliationReports{
			FiatConfirmedNoChainTx:             failClosedMismatchCount,
			ChainActiveNoFiatDisbursementProof: failClosedMismatchCount,
		}
	}

	alerts := s.engine.EvaluateReconciliation(reports)
	for _, alert := range alerts {
		s.logger.Warn("settlement reconciliation opened incident", "trigger", alert.Trigger, "incident_id", alert.Incident.ID)
		if s.metrics != nil {
			s.metrics.IncIncidentOpened(string(alert.Trigger))
		}
	}
}

func (s *Scheduler) tickCreditLiquidity(ctx context.Context) {
	now := s.now()

	defaultRates := s.fetchPartnerRates(func() map[string]float64 { return loanbook.PartnerDefaultRate30D(s.book, now) }, "partner_default_rate_30d")
	for _, partnerID := range s.partners {
		rate, ok := defaultRates[partnerID]
		if !ok {
			continue
		}
		if inc := s.engine.EvaluatePartnerDefaultSpike(partnerID, rate); inc != nil {
			s.noteIncident(inc)
		}
	}

	delinquencyRates := s.fetchPartnerRates(func() map[string]float64 { return loanbook.PartnerDelinquency14D(s.book, now) }, "partner_delinquency_14d")
	for _, partnerID := range s.partners {
		rate, ok := delinquencyRates[partnerID]
		if !ok {
			continue
		}
		if inc := s.engine.EvaluateDelinquencySpike(partnerID, rate); inc != nil {
			s.noteIncident(inc)
		}
	}

	liquidityRatios := s.fetchPoolRates(func() map[string]float64 { return loanbook.PoolLiquidityRatio(s.book) }, "pool_liquidity_ratio", failClosedLiquidityRatio)
	for _, ratio := range liquidityRatios {
		if inc := s.engine.EvaluateLiquidityRatioBreach(ratio); inc != nil {
			s.noteIncident(inc)
		}
		cleared := s.engine.AutoClearLiquidityIncidentsIfStable(ratio, s.stabilityWindowSeconds)
		if cleared > 0 && s.metrics != nil {
			s.metrics.IncIncidentResolved(string(breaker.PoolLiquidityRatio), "auto-resolved")
		}
	}

	drawdowns := s.fetchPoolRates(func() map[string]float64 { return loanbook.PoolNavDrawdown7D(s.book, now) }, "pool_nav_drawdown_7d", failClosedHigherIsWorse)
	for _, drawdown := range drawdowns {
		if inc := s.engine.EvaluateNavDrawdown(drawdown); inc != nil {
			s.noteIncident(inc)
		}
	}
}

// tickFullReconciliation re-runs the settlement sweep against the complete
// dataset. The injected SettlementReportFetcher is responsible for the
// "full" vs. "incremental" distinction; the scheduler's cadence wiring is
// otherwise identical.
func (s *Scheduler) tickFullReconciliation(ctx context.Context) {
	s.tickSettlement(ctx)
}

// tickSelfAudit re-runs the pool's invariant checker (spec §7: INV-1/INV-3/
// INV-6 violations are Fatal, escalated inside RunSelfAudit itself). The
// scheduler's only job here is to log the outcome and surface it as a
// metric; RunSelfAudit has already paused the pool and invoked its fatal
// handler by the time this returns.
func (s *Scheduler) tickSelfAudit(ctx context.Context) {
	if s.auditor == nil {
		return
	}
	ok, code := s.auditor.RunSelfAudit()
	if !ok {
		s.logger.Error("self-audit invariant violation detected", "code", code)
		if s.metrics != nil {
			s.metrics.IncInvariantViolation(s.auditor.ID(), fmt.Sprintf("%d", code))
		}
	}
}

func (s *Scheduler) fetchPartnerRates(fetch func() map[string]float64, metricName string) map[string]float64 {
	rates, err := safeCall(fetch)
	if err != nil {
		s.logger.Error("metric fetch failed, applying fail-closed default", "metric", metricName, "error", err)
		if s.metrics != nil {
			s.metrics.IncFailClosed(metricName)
		}
		failClosed := make(map[string]float64, len(s.partners))
		for _, partnerID := range s.partners {
			failClosed[partnerID] = failClosedHigherIsWorse
		}
		return failClosed
	}
	return rates
}

func (s *Scheduler) fetchPoolRates(fetch func() map[string]float64, metricName string, failClosedValue float64) []float64 {
	rates, err := safeCall(fetch)
	if err != nil {
		s.logger.Error("metric fetch failed, applying fail-closed default", "metric", metricName, "error", err)
		if s.metrics != nil {
			s.metrics.IncFailClosed(metricName)
		}
		return []float64{failClosedValue}
	}
	out := make([]float64, 0, len(rates))
	for _, v := range rates {
		out = append(out, v)
	}
	return out
}

// safeCall recovers a panicking projection (e.g. a LoanBook implementation
// whose upstream chain RPC client panics on a dropped connection) into the
// same fail-closed path a returned error would take.
func safeCall(fetch func() map[string]float64) (result map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metric projection panicked: %v", r)
		}
	}()
	return fetch(), nil
}

func (s *Scheduler) noteIncident(inc *breaker.Incident) {
	s.logger.Warn("metric trigger opened incident", "trigger", inc.Trigger, "incident_id", inc.ID, "metric_value", inc.MetricValue)
	if s.metrics != nil {
		s.metrics.IncIncidentOpened(string(inc.Trigger))
	}
}
