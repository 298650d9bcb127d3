package loanbook

import (
	"math/big"
	"testing"
)

type fakeLoanBook struct {
	loans     []Loan
	transfers []FiatTransfer
	pools     []PartnerPool
	partners  []string
}

func (f *fakeLoanBook) LoansByStatus(status LoanStatus) []Loan {
	var out []Loan
	for _, l := range f.loans {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeLoanBook) LoansByPartner(partnerID string) []Loan {
	var out []Loan
	for _, l := range f.loans {
		if l.PartnerID == partnerID {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeLoanBook) FiatTransfersByStatus(statuses ...FiatTransferStatus) []FiatTransfer {
	want := make(map[FiatTransferStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []FiatTransfer
	for _, t := range f.transfers {
		if want[t.Status] {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeLoanBook) FiatTransfersByDirection(dir FiatDirection) []FiatTransfer {
	var out []FiatTransfer
	for _, t := range f.transfers {
		if t.Direction == dir {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeLoanBook) PartnerPools() []PartnerPool { return f.pools }
func (f *fakeLoanBook) Partners() []string          { return f.partners }

func TestActiveWithoutDisbursementProofCountsUnprovenLoans(t *testing.T) {
	book := &fakeLoanBook{
		loans: []Loan{
			{ID: "loan-proven", Status: LoanActive},
			{ID: "loan-unproven", Status: LoanActive},
			{ID: "loan-repaid", Status: LoanRepaid},
		},
		transfers: []FiatTransfer{
			{ID: "t1", LoanID: "loan-proven", Direction: FiatOutbound, Status: FiatConfirmed},
		},
	}

	if got := ActiveWithoutDisbursementProof(book); got != 1 {
		t.Fatalf("expected 1 unproven active loan, got %d", got)
	}
}

func TestFiatConfirmedNoChainRecordOnlyCountsOutboundMissingHash(t *testing.T) {
	book := &fakeLoanBook{
		transfers: []FiatTransfer{
			{ID: "t1", Direction: FiatOutbound, Status: FiatConfirmed, ChainAction: nil},
			{ID: "t2", Direction: FiatOutbound, Status: FiatPayoutConfirmed, ChainAction: &ChainAction{TxHash: "0xabc"}},
			{ID: "t3", Direction: FiatInbound, Status: FiatConfirmed, ChainAction: nil},
			{ID: "t4", Direction: FiatOutbound, Status: FiatPending, ChainAction: nil},
		},
	}

	if got := FiatConfirmedNoChainRecord(book); got != 1 {
		t.Fatalf("expected 1 unlinked outbound confirmed transfer, got %d", got)
	}
}

func TestPartnerDefaultRate30DExcludesPartnersWithNoDenominator(t *testing.T) {
	now := int64(40 * secondsPerDay)
	book := &fakeLoanBook{
		partners: []string{"alice-co", "stale-partner"},
		loans: []Loan{
			{PartnerID: "alice-co", Status: LoanActive, LastStatusChange: now - secondsPerDay},
			{PartnerID: "alice-co", Status: LoanDefaulted, LastStatusChange: now - 2*secondsPerDay},
			{PartnerID: "alice-co", Status: LoanRepaid, LastStatusChange: now - 3*secondsPerDay},
			// Outside the 30-day window entirely.
			{PartnerID: "stale-partner", Status: LoanDefaulted, LastStatusChange: 0},
		},
	}

	rates := PartnerDefaultRate30D(book, now)
	if got, want := rates["alice-co"], 1.0/3.0; got != want {
		t.Fatalf("expected alice-co default rate %v, got %v", want, got)
	}
	if _, ok := rates["stale-partner"]; ok {
		t.Fatalf("expected stale-partner excluded for lacking in-window activity")
	}
}

func TestPartnerDelinquency14D(t *testing.T) {
	now := int64(20 * secondsPerDay)
	book := &fakeLoanBook{
		partners: []string{"bob-co"},
		loans: []Loan{
			{PartnerID: "bob-co", Status: LoanActive, LastStatusChange: now - secondsPerDay},
			{PartnerID: "bob-co", Status: LoanDefaulted, LastStatusChange: now - secondsPerDay},
			{PartnerID: "bob-co", Status: LoanRepaid, LastStatusChange: now - secondsPerDay},
		},
	}

	rates := PartnerDelinquency14D(book, now)
	if got, want := rates["bob-co"], 0.5; got != want {
		t.Fatalf("expected delinquency 0.5, got %v", got)
	}
}

func TestPoolLiquidityRatioClampsAndHandlesZeroCapacity(t *testing.T) {
	book := &fakeLoanBook{
		pools: []PartnerPool{
			{PoolID: "pool-a", PartnerID: "p1", Capacity: big.NewInt(1_000_000), Outstanding: big.NewInt(750_000)},
			{PoolID: "pool-b", PartnerID: "p2", Capacity: big.NewInt(0), Outstanding: big.NewInt(0)},
			{PoolID: "pool-c", PartnerID: "p3", Capacity: big.NewInt(100), Outstanding: big.NewInt(500)},
		},
	}

	ratios := PoolLiquidityRatio(book)
	if got, want := ratios["pool-a"], 0.25; got != want {
		t.Fatalf("expected pool-a ratio 0.25, got %v", got)
	}
	if got := ratios["pool-b"]; got != 1.0 {
		t.Fatalf("expected zero-capacity pool fully liquid, got %v", got)
	}
	if got := ratios["pool-c"]; got != 0.0 {
		t.Fatalf("expected over-drawn pool clamped to 0, got %v", got)
	}
}

func TestPoolNavDrawdown7D(t *testing.T) {
	now := int64(10 * secondsPerDay)
	book := &fakeLoanBook{
		loans: []Loan{
			{PoolID: "pool-a", Status: LoanActive, Principal: big.NewInt(600_000)},
			{PoolID: "pool-a", Status: LoanDefaulted, Principal: big.NewInt(400_000), LastStatusChange: now - secondsPerDay},
		},
	}

	drawdowns := PoolNavDrawdown7D(book, now)
	if got, want := drawdowns["pool-a"], 0.4; got != want {
		t.Fatalf("expected drawdown 0.4, got %v", got)
	}
}
