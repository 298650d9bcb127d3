// Command risk-control-plane runs the tranched capital pool's risk engine
// as a standalone process: the pool's accounting state, the circuit breaker
// state machine wired to it as a BreakerHook, and the scheduler driving the
// breaker's three evaluation cadences plus the pool's self-audit cadence.
// The loan book and settlement-report feed wired here are the empty
// placeholders loanbook.EmptyBook and scheduler.NoReports.
//
// The admin/status HTTP or gRPC surface a host application would expose
// around this engine is out of scope here (SPEC_FULL §11) — this binary
// only runs the engine and its own /metrics endpoint.
package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tranchepool/riskplane/audit"
	"github.com/tranchepool/riskplane/breaker"
	"github.com/tranchepool/riskplane/clock"
	"github.com/tranchepool/riskplane/internal/config"
	"github.com/tranchepool/riskplane/internal/logging"
	"github.com/tranchepool/riskplane/internal/telemetry"
	"github.com/tranchepool/riskplane/loanbook"
	"github.com/tranchepool/riskplane/pool"
	"github.com/tranchepool/riskplane/scheduler"
)

func main() {
	var cfgPath, metricsAddr string
	flag.StringVar(&cfgPath, "config", "config/risk-control-plane.yaml", "path to risk-control-plane config")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for the /metrics endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RISKPLANE_ENV"))
	logger := logging.Setup("risk-control-plane", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.Registry()
	sysClock := clock.System{}

	params := pool.RiskParameters{
		SeniorAllocationBps:      cfg.Pool.SeniorAllocationBps,
		MinSubordinationBps:      cfg.Pool.MinSubordinationBps,
		JuniorCoverageFloorBps:   cfg.Pool.JuniorCoverageFloorBps,
		SeniorTargetYieldBps:     cfg.Pool.SeniorTargetYieldBps,
		ReserveFactorBps:         cfg.Pool.ReserveFactorBps,
		SeniorPriorityMaxSeconds: cfg.Pool.SeniorPriorityMaxSeconds,
	}
	capitalPool := pool.New(cfg.PoolID, params, sysClock, logger)
	if cap, ok := new(big.Int).SetString(cfg.Pool.JuniorDepositCap, 10); ok && cap.Sign() > 0 {
		capitalPool.SetDepositCap(pool.Junior, cap)
	}
	if cap, ok := new(big.Int).SetString(cfg.Pool.SeniorDepositCap, 10); ok && cap.Sign() > 0 {
		capitalPool.SetDepositCap(pool.Senior, cap)
	}

	auditSink := audit.NewMemory()
	engine := breaker.New(cfg.PoolID, sysClock, auditSink)
	capitalPool.SetBreakerHook(engine)

	// spec §7 classifies an arithmetic overflow, an INV-1/INV-3/INV-6
	// self-audit violation, or a lost audit-log write as Fatal. The pool and
	// engine have already paused/flagged themselves by the time this runs
	// (the handler must not call back into either, since both invoke it
	// while still holding their own write lock); this process exits so an
	// orchestrator restarts it against a clean pool rather than limping
	// forward on unaudited state.
	fatal := func(err error) {
		logger.Error("fatal condition, taking pool offline", "error", err)
		os.Exit(1)
	}
	capitalPool.SetFatalHandler(fatal)
	engine.SetFatalHandler(fatal)

	book := loanbook.EmptyBook{}
	reports := scheduler.NoReports{}

	sched := scheduler.New(engine, book, reports, book.Partners(), logger, metrics, nil, capitalPool)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	schedulerDone := make(chan struct{})
	go func() {
		sched.Run(ctx, scheduler.Config{
			SettlementInterval:        time.Duration(cfg.Scheduler.SettlementIntervalMinutes) * time.Minute,
			CreditLiquidityInterval:   time.Duration(cfg.Scheduler.CreditLiquidityIntervalHours) * time.Hour,
			FullReconciliationHourUTC: cfg.Scheduler.FullReconciliationHourUTC,
			SelfAuditInterval:         time.Duration(cfg.Scheduler.SelfAuditIntervalMinutes) * time.Minute,
		})
		close(schedulerDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("metrics server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	<-schedulerDone
	logger.Info("risk-control-plane stopped")
}
