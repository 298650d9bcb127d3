// Package pool implements the two-tranche (Senior/Junior) capital pool
// accounting engine and its withdrawal queue: deposits, instant and queued
// withdrawals, loan allocation, repayment waterfall distribution, and the
// numerical invariants (INV-1..INV-8) that must hold after every mutation.
//
// The package generalizes the teacher's native/lending market/account model
// (native/lending/types.go, engine.go) from a single fiat-currency lending
// market into a tranched structured pool, and replaces the teacher's
// blockchain account/address plumbing with plain holder identifiers since
// this module sits above the on-chain/off-chain boundary rather than inside
// a single ledger.
package pool

import "math/big"

// Tranche identifies one of the pool's two risk layers.
type Tranche uint8

const (
	Junior Tranche = iota
	Senior
)

func (t Tranche) String() string {
	if t == Senior {
		return "senior"
	}
	return "junior"
}

// Other returns the complementary tranche.
func (t Tranche) Other() Tranche {
	if t == Senior {
		return Junior
	}
	return Senior
}

// TrancheState captures the per-tranche accounting ledger (spec §3).
type TrancheState struct {
	TotalShares         *big.Int
	VirtualBalance      *big.Int
	PrincipalAllocated  *big.Int
	BadDebt             *big.Int
	InterestEarned      *big.Int
	TargetYieldBps      uint64 // Senior only
	DepositCap          *big.Int
	JuniorHighWaterMark *big.Int // Junior only: peak virtualBalance observed
}

func newTrancheState() *TrancheState {
	return &TrancheState{
		TotalShares:         big.NewInt(0),
		VirtualBalance:      big.NewInt(0),
		PrincipalAllocated:  big.NewInt(0),
		BadDebt:             big.NewInt(0),
		InterestEarned:      big.NewInt(0),
		DepositCap:          big.NewInt(0),
		JuniorHighWaterMark: big.NewInt(0),
	}
}

func (t *TrancheState) clone() *TrancheState {
	return &TrancheState{
		TotalShares:         new(big.Int).Set(t.TotalShares),
		VirtualBalance:      new(big.Int).Set(t.VirtualBalance),
		PrincipalAllocated:  new(big.Int).Set(t.PrincipalAllocated),
		BadDebt:             new(big.Int).Set(t.BadDebt),
		InterestEarned:      new(big.Int).Set(t.InterestEarned),
		TargetYieldBps:      t.TargetYieldBps,
		DepositCap:          new(big.Int).Set(t.DepositCap),
		JuniorHighWaterMark: new(big.Int).Set(t.JuniorHighWaterMark),
	}
}

// Position tracks a single holder's stake within one tranche (spec §3).
type Position struct {
	Shares               *big.Int
	PendingShares        *big.Int
	OpenRequestCount     uint32
	LastOpenRequestIndex uint64
	hasOpenRequest       bool
}

func newPosition() *Position {
	return &Position{Shares: big.NewInt(0), PendingShares: big.NewInt(0)}
}

func (p *Position) clone() *Position {
	return &Position{
		Shares:               new(big.Int).Set(p.Shares),
		PendingShares:        new(big.Int).Set(p.PendingShares),
		OpenRequestCount:     p.OpenRequestCount,
		LastOpenRequestIndex: p.LastOpenRequestIndex,
		hasOpenRequest:       p.hasOpenRequest,
	}
}

// WithdrawRequest is an append-only, index-addressable queue entry (spec §3,
// §4.D).
type WithdrawRequest struct {
	Index     uint64
	Holder    string
	Shares    *big.Int
	Fulfilled bool
	Cancelled bool
	CreatedAt int64
}

// RiskParameters groups the governance-controlled safety limits, generalized
// from the teacher's native/lending.RiskParameters to the tranched pool.
type RiskParameters struct {
	SeniorAllocationBps      uint64 // bps of each allocation routed to Senior, [5000,9000]
	MinSubordinationBps      uint64
	JuniorCoverageFloorBps   uint64
	SeniorTargetYieldBps     uint64
	ReserveFactorBps         uint64
	SeniorPriorityMaxSeconds int64 // default 30 days
}

// MaxOpenRequests bounds the number of simultaneously open withdraw requests
// a single holder may hold in a single tranche (spec §4.C).
const MaxOpenRequests = 50

// DefaultSeniorPriorityMaxSeconds is the auto-expiry window for
// seniorPriorityActive absent an explicit clear (spec §4.C, 30 days).
const DefaultSeniorPriorityMaxSeconds = 30 * 24 * 60 * 60

// LoanCapability is the non-owning handle the pool holds for a registered
// loan collaborator, replacing the runtime-polymorphic pool<->loan dispatch
// the teacher's single-chain module could rely on (spec §9 design notes).
// The pool never calls back into the loan synchronously from within a
// mutation; it only consults IsPaused when allocating.
type LoanCapability interface {
	LoanID() string
	IsPaused() bool
}

// FeeAccrual mirrors the teacher's native/lending.FeeAccrual bookkeeping,
// carried over per SPEC_FULL §12: interest routed to the protocol reserve on
// top of the Senior/Junior waterfall split.
type FeeAccrual struct {
	ProtocolFees *big.Int
}
