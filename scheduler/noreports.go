package scheduler

import (
	"context"

	"github.com/tranchepool/riskplane/breaker"
)

// NoReports is a SettlementReportFetcher that always reports zero mismatches.
// It is the boundary placeholder for deployments where no live reconciliation
// feed (chain RPC, fiat webhook ledger) has been wired yet. It intentionally
// reports clean rather than failing, so operators who have not yet connected
// a feed are not paged by a fetcher that was never meant to hold real data;
// the scheduler's own fail-closed path is what protects against a feed that
// is wired but failing.
type NoReports struct{}

func (NoReports) FetchReports(context.Context) (breaker.ReconciliationReports, error) {
	return breaker.ReconciliationReports{}, nil
}
