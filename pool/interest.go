package pool

import (
	"math/big"

	"github.com/tranchepool/riskplane/riskmath"
)

const secondsPerYear = 365 * 24 * 60 * 60

// seniorInterestCap bounds the interest Senior may receive from a single
// repayment to its pro-rata share of targetYieldBps accrued over the time
// elapsed since the pool's last accrual checkpoint, generalizing the
// teacher's per-block interest accrual (native/lending/interest.go) from a
// block-indexed to a wall-clock-indexed accrual window.
//
//	cap = seniorVirtualBalance * targetYieldBps * elapsedSeconds / (secondsPerYear * 10_000)
func seniorInterestCap(seniorVirtualBalance *big.Int, targetYieldBps uint64, elapsedSeconds int64) *big.Int {
	if seniorVirtualBalance.Sign() <= 0 || targetYieldBps == 0 || elapsedSeconds <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(seniorVirtualBalance, new(big.Int).SetUint64(targetYieldBps))
	num.Mul(num, big.NewInt(elapsedSeconds))
	den := big.NewInt(int64(secondsPerYear) * riskmath.BasisPointsDenominator)
	return new(big.Int).Div(num, den)
}
