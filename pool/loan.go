package pool

import (
	"math/big"

	"github.com/tranchepool/riskplane/riskerr"
	"github.com/tranchepool/riskplane/riskmath"
)

// AllocationEvent is emitted by AllocateToLoan (spec §4.C).
type AllocationEvent struct {
	LoanID string
	Junior *big.Int
	Senior *big.Int
}

// AllocateToLoan draws down cash into a registered loan, split across
// tranches per SeniorAllocationBps. The allocation is computed against a
// scratch copy of tranche state and only committed if the post-allocation
// Junior coverage floor (INV-7) still holds, replacing the teacher's
// exception-for-control-flow revert with a check-then-commit pattern (spec
// §9 design notes).
func (p *Pool) AllocateToLoan(caller LoanCapability, amount *big.Int) (AllocationEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return AllocationEvent{}, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorizedLoan(caller); err != nil {
		return AllocationEvent{}, err
	}
	if p.paused {
		return AllocationEvent{}, riskerr.ErrEnforcedPause
	}
	if caller.IsPaused() {
		return AllocationEvent{}, riskerr.ErrLoanPaused
	}

	seniorShare, err := riskmath.BpsOf(amount, p.params.SeniorAllocationBps)
	if err != nil {
		p.fatalLocked(err)
		return AllocationEvent{}, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
	}
	juniorShare := new(big.Int).Sub(amount, seniorShare)

	if juniorShare.Cmp(p.tranches[Junior].VirtualBalance) > 0 {
		return AllocationEvent{}, riskerr.ErrInsufficientLiquidity
	}
	if seniorShare.Cmp(p.tranches[Senior].VirtualBalance) > 0 {
		return AllocationEvent{}, riskerr.ErrInsufficientLiquidity
	}

	// Check-then-commit: project the post-allocation Junior virtual-balance
	// coverage ratio (INV-7) before mutating any state.
	projectedJuniorBalance := riskmath.SaturatingSub(p.tranches[Junior].VirtualBalance, juniorShare)
	projectedSeniorBalance := riskmath.SaturatingSub(p.tranches[Senior].VirtualBalance, seniorShare)
	projectedTotalBalance := new(big.Int).Add(projectedJuniorBalance, projectedSeniorBalance)
	if riskmath.RatioBps(projectedJuniorBalance, projectedTotalBalance) < p.params.JuniorCoverageFloorBps {
		return AllocationEvent{}, riskerr.ErrCoverageFloorBreached
	}

	p.tranches[Junior].VirtualBalance = projectedJuniorBalance
	p.tranches[Senior].VirtualBalance = projectedSeniorBalance
	p.tranches[Junior].PrincipalAllocated = new(big.Int).Add(p.tranches[Junior].PrincipalAllocated, juniorShare)
	p.tranches[Senior].PrincipalAllocated = new(big.Int).Add(p.tranches[Senior].PrincipalAllocated, seniorShare)
	p.cash = riskmath.SaturatingSub(p.cash, amount)

	exposure := p.exposures[caller.LoanID()]
	exposure.outstanding[Junior] = new(big.Int).Add(exposure.outstanding[Junior], juniorShare)
	exposure.outstanding[Senior] = new(big.Int).Add(exposure.outstanding[Senior], seniorShare)

	return AllocationEvent{LoanID: caller.LoanID(), Junior: juniorShare, Senior: seniorShare}, nil
}

// RepaymentEvent is emitted by OnLoanRepayment (spec §4.C).
type RepaymentEvent struct {
	LoanID           string
	PrincipalJunior  *big.Int
	PrincipalSenior  *big.Int
	InterestSenior   *big.Int
	InterestJunior   *big.Int
	ProtocolFee      *big.Int
}

// OnLoanRepayment distributes a principal+interest repayment: principal is
// split across tranches in proportion to each tranche's live outstanding
// exposure to the loan (not a frozen origination-time ratio, so the split
// stays exact across partial writeoffs), interest is capped for Senior at
// its pro-rata target yield over the elapsed accrual window with the
// remainder — net of the protocol reserve cut — credited to Junior.
func (p *Pool) OnLoanRepayment(caller LoanCapability, principal, interest *big.Int) (RepaymentEvent, error) {
	if principal == nil || interest == nil || (principal.Sign() <= 0 && interest.Sign() <= 0) {
		return RepaymentEvent{}, riskerr.ErrZeroAmount
	}
	if principal.Sign() < 0 || interest.Sign() < 0 {
		return RepaymentEvent{}, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorizedLoan(caller); err != nil {
		return RepaymentEvent{}, err
	}

	exposure, ok := p.exposures[caller.LoanID()]
	if !ok {
		return RepaymentEvent{}, riskerr.ErrInvalidLoanState
	}
	totalOutstanding := exposure.total()
	if principal.Sign() > 0 && totalOutstanding.Sign() <= 0 {
		return RepaymentEvent{}, riskerr.ErrOverClaim
	}

	var principalJunior, principalSenior *big.Int
	if principal.Sign() == 0 {
		principalJunior, principalSenior = big.NewInt(0), big.NewInt(0)
	} else {
		var err error
		principalSenior, err = riskmath.MulDiv(principal, exposure.outstanding[Senior], totalOutstanding)
		if err != nil {
			p.fatalLocked(err)
			return RepaymentEvent{}, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
		}
		principalJunior = new(big.Int).Sub(principal, principalSenior)
	}

	now := p.clock.Now()
	elapsed := now - p.lastAccrualAt
	seniorCap := seniorInterestCap(p.tranches[Senior].VirtualBalance, p.tranches[Senior].TargetYieldBps, elapsed)

	interestSenior := riskmath.Min(interest, seniorCap)
	remainder := new(big.Int).Sub(interest, interestSenior)

	protocolFee, err := riskmath.BpsOf(remainder, p.params.ReserveFactorBps)
	if err != nil {
		p.fatalLocked(err)
		return RepaymentEvent{}, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
	}
	interestJunior := new(big.Int).Sub(remainder, protocolFee)

	exposure.outstanding[Junior] = riskmath.SaturatingSub(exposure.outstanding[Junior], principalJunior)
	exposure.outstanding[Senior] = riskmath.SaturatingSub(exposure.outstanding[Senior], principalSenior)

	p.tranches[Junior].PrincipalAllocated = riskmath.SaturatingSub(p.tranches[Junior].PrincipalAllocated, principalJunior)
	p.tranches[Senior].PrincipalAllocated = riskmath.SaturatingSub(p.tranches[Senior].PrincipalAllocated, principalSenior)

	inflow := new(big.Int).Add(principal, interest)
	p.tranches[Junior].VirtualBalance = new(big.Int).Add(p.tranches[Junior].VirtualBalance, new(big.Int).Add(principalJunior, interestJunior))
	p.tranches[Senior].VirtualBalance = new(big.Int).Add(p.tranches[Senior].VirtualBalance, new(big.Int).Add(principalSenior, interestSenior))
	p.tranches[Senior].InterestEarned = new(big.Int).Add(p.tranches[Senior].InterestEarned, interestSenior)
	p.tranches[Junior].InterestEarned = new(big.Int).Add(p.tranches[Junior].InterestEarned, interestJunior)
	p.fees.ProtocolFees = new(big.Int).Add(p.fees.ProtocolFees, protocolFee)
	p.cash = new(big.Int).Add(p.cash, inflow)

	p.lastAccrualAt = now

	if tranche := p.tranches[Junior]; tranche.VirtualBalance.Cmp(tranche.JuniorHighWaterMark) > 0 {
		tranche.JuniorHighWaterMark = new(big.Int).Set(tranche.VirtualBalance)
	}

	return RepaymentEvent{
		LoanID:          caller.LoanID(),
		PrincipalJunior: principalJunior,
		PrincipalSenior: principalSenior,
		InterestSenior:  interestSenior,
		InterestJunior:  interestJunior,
		ProtocolFee:     protocolFee,
	}, nil
}

// BadDebtEvent is emitted by RecordBadDebt (spec §4.C).
type BadDebtEvent struct {
	LoanID          string
	JuniorAbsorbed  *big.Int
	SeniorAbsorbed  *big.Int
	SeniorImpaired  bool
}

// RecordBadDebt applies a confirmed, unrecoverable loss to the waterfall
// (Junior-first). If the loss spills into Senior, the pool atomically enters
// the INV-8 enforcement bundle — paused, stressMode, and seniorPriorityActive
// all become true in the same critical section as the loss write — and, if
// this also fully depletes Junior, notifies the injected BreakerHook.
func (p *Pool) RecordBadDebt(caller LoanCapability, loss *big.Int) (BadDebtEvent, error) {
	if loss == nil || loss.Sign() <= 0 {
		return BadDebtEvent{}, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorizedLoan(caller); err != nil {
		return BadDebtEvent{}, err
	}
	exposure, ok := p.exposures[caller.LoanID()]
	if !ok {
		return BadDebtEvent{}, riskerr.ErrInvalidLoanState
	}
	if loss.Cmp(exposure.total()) > 0 {
		return BadDebtEvent{}, riskerr.ErrOverClaim
	}

	res := p.applyLossLocked(loss)

	exposure.outstanding[Junior] = riskmath.SaturatingSub(exposure.outstanding[Junior], res.JuniorAbsorbed)
	exposure.outstanding[Senior] = riskmath.SaturatingSub(exposure.outstanding[Senior], res.SeniorAbsorbed)
	exposure.lossAbsorbed[Junior] = new(big.Int).Add(exposure.lossAbsorbed[Junior], res.JuniorAbsorbed)
	exposure.lossAbsorbed[Senior] = new(big.Int).Add(exposure.lossAbsorbed[Senior], res.SeniorAbsorbed)

	p.tranches[Junior].PrincipalAllocated = riskmath.SaturatingSub(p.tranches[Junior].PrincipalAllocated, res.JuniorAbsorbed)
	p.tranches[Senior].PrincipalAllocated = riskmath.SaturatingSub(p.tranches[Senior].PrincipalAllocated, res.SeniorAbsorbed)
	p.tranches[Junior].BadDebt = new(big.Int).Add(p.tranches[Junior].BadDebt, res.JuniorAbsorbed)
	p.tranches[Senior].BadDebt = new(big.Int).Add(p.tranches[Senior].BadDebt, res.SeniorAbsorbed)

	seniorImpaired := res.SeniorAbsorbed.Sign() > 0
	if seniorImpaired {
		p.paused = true
		p.stressMode = true
		p.activateSeniorPriorityLocked()
	}

	juniorDepleted := p.tranches[Junior].VirtualBalance.Sign() == 0
	if juniorDepleted && p.hook != nil {
		p.hook.OpenJuniorDepletionIncident(p.id, p.subordinationBpsLocked())
	}

	return BadDebtEvent{
		LoanID:         caller.LoanID(),
		JuniorAbsorbed: res.JuniorAbsorbed,
		SeniorAbsorbed: res.SeniorAbsorbed,
		SeniorImpaired: seniorImpaired,
	}, nil
}

// RecoveryEvent is emitted by OnCollateralRecovery (spec §4.C).
type RecoveryEvent struct {
	LoanID           string
	JuniorRecovered  *big.Int
	SeniorRecovered  *big.Int
	ResidualToJunior *big.Int
}

// OnCollateralRecovery reverses previously recorded bad debt Senior-first:
// late collateral liquidation or legal recovery proceeds are credited back
// against whichever tranche absorbed the original loss, with any amount
// beyond what was lost on this loan returned to Junior as a recovery bonus
// (spec §3, waterfall.ApplyRecovery).
func (p *Pool) OnCollateralRecovery(caller LoanCapability, recovery *big.Int) (RecoveryEvent, error) {
	if recovery == nil || recovery.Sign() <= 0 {
		return RecoveryEvent{}, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorizedLoan(caller); err != nil {
		return RecoveryEvent{}, err
	}
	exposure, ok := p.exposures[caller.LoanID()]
	if !ok {
		return RecoveryEvent{}, riskerr.ErrInvalidLoanState
	}

	priorJuniorLoss := new(big.Int).Set(exposure.lossAbsorbed[Junior])
	res := p.applyRecoveryLocked(exposure.lossAbsorbed[Junior], exposure.lossAbsorbed[Senior], recovery)

	// The bonus is whatever landed in Junior beyond reversing its own
	// recorded loss on this loan (waterfall.ApplyRecovery folds any leftover
	// recovery into Junior's credit after Senior is made whole).
	residualToJunior := riskmath.SaturatingSub(res.JuniorRecovered, priorJuniorLoss)
	juniorBadDebtReversal := riskmath.Min(res.JuniorRecovered, priorJuniorLoss)

	exposure.lossAbsorbed[Junior] = riskmath.SaturatingSub(exposure.lossAbsorbed[Junior], res.JuniorRecovered)
	exposure.lossAbsorbed[Senior] = riskmath.SaturatingSub(exposure.lossAbsorbed[Senior], res.SeniorRecovered)

	p.tranches[Junior].BadDebt = riskmath.SaturatingSub(p.tranches[Junior].BadDebt, juniorBadDebtReversal)
	p.tranches[Senior].BadDebt = riskmath.SaturatingSub(p.tranches[Senior].BadDebt, res.SeniorRecovered)
	p.cash = new(big.Int).Add(p.cash, recovery)

	return RecoveryEvent{
		LoanID:           caller.LoanID(),
		JuniorRecovered:  res.JuniorRecovered,
		SeniorRecovered:  res.SeniorRecovered,
		ResidualToJunior: residualToJunior,
	}, nil
}
