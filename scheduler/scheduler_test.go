package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tranchepool/riskplane/breaker"
	"github.com/tranchepool/riskplane/clock"
	"github.com/tranchepool/riskplane/loanbook"
	"github.com/tranchepool/riskplane/pool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeReports struct {
	reports breaker.ReconciliationReports
	err     error
}

func (f *fakeReports) FetchReports(ctx context.Context) (breaker.ReconciliationReports, error) {
	return f.reports, f.err
}

type fakeLoanBook struct {
	loanbook.LoanBook
}

type fakeAuditor struct {
	ok   bool
	code pool.InvariantCode
}

func (f *fakeAuditor) ID() string                              { return "pool-1" }
func (f *fakeAuditor) RunSelfAudit() (bool, pool.InvariantCode) { return f.ok, f.code }

func TestTickSelfAuditLogsViolation(t *testing.T) {
	e := breaker.New("pool-1", clock.Fixed{T: 0}, nil)
	auditor := &fakeAuditor{ok: false, code: pool.InvCashConservation}
	s := New(e, fakeLoanBook{}, &fakeReports{}, nil, discardLogger(), nil, func() int64 { return 0 }, auditor)

	s.tickSelfAudit(context.Background())
}

func TestTickSelfAuditNoAuditorIsNoop(t *testing.T) {
	e := breaker.New("pool-1", clock.Fixed{T: 0}, nil)
	s := New(e, fakeLoanBook{}, &fakeReports{}, nil, discardLogger(), nil, func() int64 { return 0 }, nil)

	s.tickSelfAudit(context.Background())
}

func TestTickSettlementFailClosedOpensBothIncidents(t *testing.T) {
	e := breaker.New("pool-1", clock.Fixed{T: 0}, nil)
	s := New(e, fakeLoanBook{}, &fakeReports{err: errors.New("rpc unavailable")}, nil, discardLogger(), nil, func() int64 { return 0 }, nil)

	s.tickSettlement(context.Background())

	if err := e.AssertOriginationAllowed("any-partner"); err == nil {
		t.Fatalf("expected fail-closed settlement mismatch to block origination")
	}
	if inc, ok := e.Incident(1); !ok || inc.Trigger != breaker.FiatConfirmedNoChainRecord {
		t.Fatalf("expected incident 1 to be FiatConfirmedNoChainRecord, got %+v (found=%v)", inc, ok)
	}
	if inc, ok := e.Incident(2); !ok || inc.Trigger != breaker.ActiveWithoutDisbursementProof {
		t.Fatalf("expected incident 2 to be ActiveWithoutDisbursementProof, got %+v (found=%v)", inc, ok)
	}
}

func TestTickSettlementNoMismatchesOpensNothing(t *testing.T) {
	e := breaker.New("pool-1", clock.Fixed{T: 0}, nil)
	s := New(e, fakeLoanBook{}, &fakeReports{reports: breaker.ReconciliationReports{}}, nil, discardLogger(), nil, func() int64 { return 0 }, nil)

	s.tickSettlement(context.Background())

	if err := e.AssertOriginationAllowed("any-partner"); err != nil {
		t.Fatalf("expected no incident opened, got blocked: %v", err)
	}
}

func TestFireOnceDropsOverlappingTick(t *testing.T) {
	e := breaker.New("pool-1", clock.Fixed{T: 0}, nil)
	s := New(e, fakeLoanBook{}, &fakeReports{}, nil, discardLogger(), nil, nil, nil)

	var running atomic.Bool
	var calls atomic.Int32
	release := make(chan struct{})
	blocking := func(ctx context.Context) {
		if !running.CompareAndSwap(false, true) {
			t.Fatalf("overlapping execution detected")
		}
		calls.Add(1)
		<-release
		running.Store(false)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fireOnce(context.Background(), "test", &s.settlementBusy, blocking)
	}()

	// Give the first tick a moment to claim the busy flag before the second
	// fires; this is the same single-shot guard a dropped ticker tick would
	// exercise in production.
	time.Sleep(10 * time.Millisecond)
	s.fireOnce(context.Background(), "test", &s.settlementBusy, blocking)

	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one tick to execute while busy, got %d", got)
	}
}

func TestUntilNextUTCHourWrapsToTomorrow(t *testing.T) {
	now := time.Date(2026, 7, 30, 5, 0, 0, 0, time.UTC)
	wait := untilNextUTCHour(now, 3)
	want := 22 * time.Hour
	if wait != want {
		t.Fatalf("expected wait of %s, got %s", want, wait)
	}
}

func TestUntilNextUTCHourSameDay(t *testing.T) {
	now := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)
	wait := untilNextUTCHour(now, 3)
	want := 2 * time.Hour
	if wait != want {
		t.Fatalf("expected wait of %s, got %s", want, wait)
	}
}
