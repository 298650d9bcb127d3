package breaker

import (
	"strings"
	"testing"

	"github.com/tranchepool/riskplane/audit"
	"github.com/tranchepool/riskplane/clock"
	"github.com/tranchepool/riskplane/riskerr"
)

func TestPartnerDefaultSpikeBlocksOnlyThatPartner(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)

	inc := e.EvaluatePartnerDefaultSpike("partner-a", 0.12)
	if inc == nil {
		t.Fatalf("expected an incident to open")
	}

	if err := e.AssertOriginationAllowed("partner-a"); err == nil {
		t.Fatalf("expected partner-a origination to be blocked")
	}
	if err := e.AssertOriginationAllowed("partner-b"); err != nil {
		t.Fatalf("expected partner-b unaffected, got %v", err)
	}
	if err := e.AssertOriginationAllowed("partner-c"); err != nil {
		t.Fatalf("expected partner-c unaffected, got %v", err)
	}
	if e.Enforcement().GlobalBlock {
		t.Fatalf("partner-scoped incident must not set globalBlock")
	}
}

func TestAtThresholdDoesNotFire(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	if inc := e.EvaluatePartnerDefaultSpike("partner-a", 0.08); inc != nil {
		t.Fatalf("expected no incident exactly at threshold")
	}
	if inc := e.EvaluatePartnerDefaultSpike("partner-a", 0.08+1e-9); inc == nil {
		t.Fatalf("expected an incident just above threshold")
	}
}

func TestLiquidityAutoClearAfterStabilityWindow(t *testing.T) {
	c := clock.Fixed{T: 0}
	mem := audit.NewMemory()
	e := New("pool-1", c, mem)

	inc := e.EvaluateLiquidityRatioBreach(0.18)
	if inc == nil {
		t.Fatalf("expected an incident to open below the liquidity threshold")
	}
	if !e.Enforcement().GlobalBlock {
		t.Fatalf("expected liquidity breach to block all originations")
	}

	e.clock = c.Advance(3600)
	cleared := e.AutoClearLiquidityIncidentsIfStable(0.35, 3600)
	if cleared != 1 {
		t.Fatalf("expected exactly one incident auto-cleared, got %d", cleared)
	}
	if e.Enforcement().GlobalFreeze {
		t.Fatalf("expected globalFreeze false after auto-clear")
	}
	if e.Enforcement().GlobalBlock {
		t.Fatalf("expected globalBlock false after auto-clear")
	}

	found := false
	for _, entry := range mem.Entries() {
		if strings.Contains(entry.Note, "auto-resolved") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an audit entry noting auto-resolution")
	}
}

func TestFiatConfirmedNoChainRecordBlocksAllOriginations(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)

	alerts := e.EvaluateReconciliation(ReconciliationReports{FiatConfirmedNoChainTx: 3})
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].Incident.Status != StatusOpen {
		t.Fatalf("expected the opened incident to be Open")
	}
	if !e.Enforcement().GlobalBlock {
		t.Fatalf("expected globalBlock true after settlement trigger")
	}
	if err := e.AssertOriginationAllowed("any-partner"); err == nil {
		t.Fatalf("expected origination to be blocked for every partner")
	}
}

func TestOverrideLiftIsIdempotent(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)

	ov, err := e.ApplyOverride(OverrideRequest{
		Trigger:          PoolLiquidityRatio,
		Scope:            ScopeGlobal,
		Reason:           "known maintenance window",
		Operator:         "ops-1",
		ExpiresInMinutes: 60,
	})
	if err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}

	if err := e.LiftOverride(ov.ID, "ops-1"); err != nil {
		t.Fatalf("first lift: %v", err)
	}
	if err := e.LiftOverride(ov.ID, "ops-1"); !isBreakerErr(err, riskerr.ErrOverrideAlreadyLifted) {
		t.Fatalf("expected ErrOverrideAlreadyLifted on second lift, got %v", err)
	}
}

func TestOverrideExpiryClamp(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	base := OverrideRequest{Trigger: PoolLiquidityRatio, Scope: ScopeGlobal, Operator: "ops-1"}

	cases := []struct {
		minutes int
		wantErr bool
	}{
		{0, true},
		{10081, true},
		{1, false},
		{10080, false},
	}
	for _, c := range cases {
		req := base
		req.ExpiresInMinutes = c.minutes
		_, err := e.ApplyOverride(req)
		if c.wantErr && err == nil {
			t.Fatalf("expiresInMinutes=%d: expected error", c.minutes)
		}
		if !c.wantErr && err != nil {
			t.Fatalf("expiresInMinutes=%d: unexpected error %v", c.minutes, err)
		}
	}
}

func TestOverrideMasksMatchingIncidentOnly(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	e.EvaluatePartnerDefaultSpike("partner-a", 0.50)

	if err := e.AssertOriginationAllowed("partner-a"); err == nil {
		t.Fatalf("expected partner-a blocked before override")
	}

	if _, err := e.ApplyOverride(OverrideRequest{
		Trigger:          PartnerDefaultRate30D,
		Scope:            ScopePartner,
		PartnerID:        "partner-a",
		Operator:         "ops-1",
		ExpiresInMinutes: 30,
	}); err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}

	if err := e.AssertOriginationAllowed("partner-a"); err != nil {
		t.Fatalf("expected override to mask partner-a's block, got %v", err)
	}
}

func TestEnforcementIsPureOverOpenIncidentsAndOverrides(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	e.EvaluatePartnerDefaultSpike("partner-a", 0.5)

	first := e.Enforcement()
	second := e.Enforcement()
	if first.GlobalBlock != second.GlobalBlock || len(first.BlockedPartnerIDs) != len(second.BlockedPartnerIDs) {
		t.Fatalf("expected re-derivation to yield the same projection")
	}
}

func TestFireDrillOpensGovernanceDrillIncident(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	inc, err := e.FireDrillTrigger(JuniorDepletion, "ops-1")
	if err != nil {
		t.Fatalf("FireDrillTrigger: %v", err)
	}
	if inc.Status != StatusOpen {
		t.Fatalf("expected drill incident Open")
	}
	if inc.DrillNote == "" {
		t.Fatalf("expected a GOVERNANCE_DRILL note")
	}
}

func TestFireDrillRejectsUnknownTrigger(t *testing.T) {
	e := New("pool-1", clock.Fixed{T: 0}, nil)
	if _, err := e.FireDrillTrigger(Trigger("NotARealTrigger"), "ops-1"); !isBreakerErr(err, riskerr.ErrTriggerUnknown) {
		t.Fatalf("expected ErrTriggerUnknown, got %v", err)
	}
}

func isBreakerErr(err error, sentinel *riskerr.Error) bool {
	re, ok := err.(*riskerr.Error)
	if !ok {
		return false
	}
	return re.Code == sentinel.Code
}
