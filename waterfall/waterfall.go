// Package waterfall implements the pure loss-absorption and recovery
// reverse-impairment primitives shared by the live pool accounting engine and
// the offline stress simulator. Both kernels are total and side-effect free:
// every call returns new balances rather than mutating its arguments, so the
// simulator can replay the exact math the pool uses without depending on it.
package waterfall

import "math/big"

// Balances captures the two inputs every waterfall primitive needs from a
// tranche: the cash currently available to absorb loss or receive recovery.
type Balances struct {
	JuniorVirtualBalance *big.Int
	SeniorVirtualBalance *big.Int
}

// LossResult is the outcome of applying a loss to a pair of tranches.
type LossResult struct {
	Junior          *big.Int
	Senior          *big.Int
	JuniorAbsorbed  *big.Int
	SeniorAbsorbed  *big.Int
	Residual        *big.Int
}

// ApplyLoss absorbs loss bottom-up: Junior first up to its virtual balance,
// then Senior up to its virtual balance, with anything left over surfaced as
// Residual — protocol-level bad debt outside both tranches. A healthy system
// never produces a non-zero residual; the simulator flags it as an invariant
// violation (spec §4.B, §4.G step 3).
func ApplyLoss(b Balances, loss *big.Int) LossResult {
	junior := nonNegative(b.JuniorVirtualBalance)
	senior := nonNegative(b.SeniorVirtualBalance)
	remaining := nonNegative(loss)

	juniorAbsorbed := minBig(remaining, junior)
	remaining = new(big.Int).Sub(remaining, juniorAbsorbed)
	junior = new(big.Int).Sub(junior, juniorAbsorbed)

	seniorAbsorbed := minBig(remaining, senior)
	remaining = new(big.Int).Sub(remaining, seniorAbsorbed)
	senior = new(big.Int).Sub(senior, seniorAbsorbed)

	return LossResult{
		Junior:         junior,
		Senior:         senior,
		JuniorAbsorbed: juniorAbsorbed,
		SeniorAbsorbed: seniorAbsorbed,
		Residual:       remaining,
	}
}

// RecoveryResult is the outcome of applying a recovery against a pair of
// tranches that previously absorbed loss.
type RecoveryResult struct {
	Junior          *big.Int
	Senior          *big.Int
	JuniorRecovered *big.Int
	SeniorRecovered *big.Int
	Residual        *big.Int
}

// ApplyRecovery reverses impairment in Senior-first order — the opposite of
// ApplyLoss — because Senior was impaired last and must be made whole first.
// Recovery is applied up to seniorLossAbsorbed, then up to juniorLossAbsorbed,
// and any leftover is credited to Junior's virtual balance as a bonus
// (spec §4.B).
func ApplyRecovery(b Balances, juniorLossAbsorbed, seniorLossAbsorbed, recovery *big.Int) RecoveryResult {
	junior := nonNegative(b.JuniorVirtualBalance)
	senior := nonNegative(b.SeniorVirtualBalance)
	remaining := nonNegative(recovery)

	seniorRecovered := minBig(remaining, nonNegative(seniorLossAbsorbed))
	remaining = new(big.Int).Sub(remaining, seniorRecovered)
	senior = new(big.Int).Add(senior, seniorRecovered)

	juniorRecovered := minBig(remaining, nonNegative(juniorLossAbsorbed))
	remaining = new(big.Int).Sub(remaining, juniorRecovered)
	junior = new(big.Int).Add(junior, juniorRecovered)

	if remaining.Sign() > 0 {
		junior = new(big.Int).Add(junior, remaining)
		juniorRecovered = new(big.Int).Add(juniorRecovered, remaining)
		remaining = big.NewInt(0)
	}

	return RecoveryResult{
		Junior:          junior,
		Senior:          senior,
		JuniorRecovered: juniorRecovered,
		SeniorRecovered: seniorRecovered,
		Residual:        remaining,
	}
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
