package pool

import (
	"fmt"
	"math/big"

	"github.com/tranchepool/riskplane/riskmath"
)

// InvariantCode identifies which numbered invariant a CheckInvariants
// failure corresponds to (spec §3's INV-1..INV-8), mirroring the teacher's
// convention of surfacing a stable code rather than a free-form message so
// callers (and the simulator's drift report) can tally failures by kind.
type InvariantCode uint8

const (
	InvOK InvariantCode = iota
	InvCashConservation
	InvPendingSharesBounded
	InvBadDebtSplit
	InvLossOrder
	InvShareMonotonicity
	InvNAVIdentity
	InvCoverageFloor
	InvZeroSeniorImpairmentBundle
)

// CheckInvariants evaluates INV-1 through INV-8 against the current locked
// state and returns the first violated invariant, or InvOK if all hold. It
// takes a read lock, so it never blocks a concurrent writer for longer than
// one snapshot read (spec §5).
func (p *Pool) CheckInvariants() (bool, InvariantCode) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkInvariantsLocked()
}

// fatalInvariants is the spec §7 subset of INV-1..INV-8 whose violation is
// Fatal when caught by a self-audit: cash conservation, bad-debt split, and
// the NAV identity. The remaining codes (including INV-8, which the spec
// explicitly calls "the designed response", not a failure) pause the pool
// without escalating to the fatal handler.
var fatalInvariants = map[InvariantCode]bool{
	InvCashConservation: true,
	InvBadDebtSplit:     true,
	InvNAVIdentity:      true,
}

// RunSelfAudit re-evaluates every invariant against the current state and is
// the scheduled counterpart to CheckInvariants (spec §7: "abort the process
// or take the pool offline" on an INV-1/INV-3/INV-6 violation). It takes the
// write lock, not the read lock CheckInvariants uses, because a violation
// must pause the pool in the same snapshot it was detected in, with no
// writer able to interleave a mutation in between.
func (p *Pool) RunSelfAudit() (bool, InvariantCode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ok, code := p.checkInvariantsLocked()
	if ok {
		return true, InvOK
	}
	p.paused = true
	if fatalInvariants[code] {
		p.fatalLocked(fmt.Errorf("pool: self-audit fatal invariant violation, code %d", code))
	}
	return false, code
}

func (p *Pool) checkInvariantsLocked() (bool, InvariantCode) {
	junior, senior := p.tranches[Junior], p.tranches[Senior]

	// INV-1: cash equals the sum of both tranches' virtual balances plus
	// unallocated protocol fee revenue. Cash is maintained independently of
	// virtualBalance at every mutation site, so this is a live assertion, not
	// a tautology.
	expectedCash := new(big.Int).Add(junior.VirtualBalance, senior.VirtualBalance)
	expectedCash.Add(expectedCash, p.fees.ProtocolFees)
	if p.cash.Cmp(expectedCash) != 0 {
		return false, InvCashConservation
	}

	// INV-2: pending shares never exceed a holder's total shares, in either
	// tranche.
	for t := range p.positions {
		for _, pos := range p.positions[t] {
			if pos.PendingShares.Cmp(pos.Shares) > 0 {
				return false, InvPendingSharesBounded
			}
		}
	}

	// INV-3: bad debt is only ever recorded against a tranche that actually
	// absorbed loss; never negative.
	if junior.BadDebt.Sign() < 0 || senior.BadDebt.Sign() < 0 {
		return false, InvBadDebtSplit
	}

	// INV-4: Senior only carries bad debt once Junior's virtual balance has
	// been fully depleted by the waterfall (loss order).
	if senior.BadDebt.Sign() > 0 && junior.VirtualBalance.Sign() > 0 {
		return false, InvLossOrder
	}

	// INV-5: tranche total shares are never negative (share supply
	// monotonicity under floor-rounded conversions).
	if junior.TotalShares.Sign() < 0 || senior.TotalShares.Sign() < 0 {
		return false, InvShareMonotonicity
	}

	// INV-6: NAV identity — total assets under management equal cash plus
	// principal outstanding minus recognized bad debt, and is never negative.
	nav := p.totalAssetsNAVLocked()
	if nav.Sign() < 0 {
		return false, InvNAVIdentity
	}

	// INV-7: Junior's share of combined virtual balance never falls below
	// the configured coverage floor while the pool holds any balance.
	totalVirtualBalance := new(big.Int).Add(junior.VirtualBalance, senior.VirtualBalance)
	if totalVirtualBalance.Sign() > 0 {
		juniorRatio := riskmath.RatioBps(junior.VirtualBalance, totalVirtualBalance)
		if juniorRatio < p.params.JuniorCoverageFloorBps {
			return false, InvCoverageFloor
		}
	}

	// INV-8: whenever Senior carries any bad debt, the pool must be in the
	// full enforcement bundle (paused, stressMode, seniorPriorityActive) —
	// never a partial combination of the three.
	if senior.BadDebt.Sign() > 0 {
		if !(p.paused && p.stressMode && p.seniorPriorityActive) {
			return false, InvZeroSeniorImpairmentBundle
		}
	}

	return true, InvOK
}
