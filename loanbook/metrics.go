package loanbook

import "math/big"

const (
	secondsPerDay = int64(24 * 60 * 60)
	window30Days  = 30 * secondsPerDay
	window14Days  = 14 * secondsPerDay
	window7Days   = 7 * secondsPerDay
)

func inWindow(t, now, window int64) bool {
	return t >= now-window && t <= now
}

// ActiveWithoutDisbursementProof counts loans in state Active for which no
// outbound fiat transfer exists in any proof-acceptable status (Confirmed or
// PayoutConfirmed).
func ActiveWithoutDisbursementProof(book LoanBook) int {
	proof := book.FiatTransfersByStatus(FiatConfirmed, FiatPayoutConfirmed)
	proven := make(map[string]bool, len(proof))
	for _, xfer := range proof {
		if xfer.Direction == FiatOutbound {
			proven[xfer.LoanID] = true
		}
	}

	count := 0
	for _, loan := range book.LoansByStatus(LoanActive) {
		if !proven[loan.ID] {
			count++
		}
	}
	return count
}

// FiatConfirmedNoChainRecord counts outbound fiat transfers in Confirmed or
// PayoutConfirmed status whose linked chain-action, if any, lacks a
// transaction hash.
func FiatConfirmedNoChainRecord(book LoanBook) int {
	count := 0
	for _, xfer := range book.FiatTransfersByStatus(FiatConfirmed, FiatPayoutConfirmed) {
		if xfer.Direction != FiatOutbound {
			continue
		}
		if xfer.ChainAction == nil || xfer.ChainAction.TxHash == "" {
			count++
		}
	}
	return count
}

// PartnerDefaultRate30D computes, for each partner with loan activity in the
// trailing 30-day window, defaulted/(active+repaid+defaulted). A partner
// with no qualifying loans in the window is excluded from the result.
func PartnerDefaultRate30D(book LoanBook, now int64) map[string]float64 {
	return partnerStatusRate(book, now, window30Days)
}

// PartnerDelinquency14D computes, for each partner, the share of loans
// active or defaulted in the trailing 14-day window that are defaulted.
func PartnerDelinquency14D(book LoanBook, now int64) map[string]float64 {
	rates := make(map[string]float64)
	for _, partnerID := range book.Partners() {
		var activeOrDefaulted, defaulted int
		for _, loan := range book.LoansByPartner(partnerID) {
			if !inWindow(loan.LastStatusChange, now, window14Days) {
				continue
			}
			switch loan.Status {
			case LoanActive, LoanDefaulted:
				activeOrDefaulted++
				if loan.Status == LoanDefaulted {
					defaulted++
				}
			}
		}
		if activeOrDefaulted == 0 {
			continue
		}
		rates[partnerID] = float64(defaulted) / float64(activeOrDefaulted)
	}
	return rates
}

func partnerStatusRate(book LoanBook, now, window int64) map[string]float64 {
	rates := make(map[string]float64)
	for _, partnerID := range book.Partners() {
		var active, repaid, defaulted int
		for _, loan := range book.LoansByPartner(partnerID) {
			if !inWindow(loan.LastStatusChange, now, window) {
				continue
			}
			switch loan.Status {
			case LoanActive:
				active++
			case LoanRepaid:
				repaid++
			case LoanDefaulted:
				defaulted++
			}
		}
		denominator := active + repaid + defaulted
		if denominator == 0 {
			continue
		}
		rates[partnerID] = float64(defaulted) / float64(denominator)
	}
	return rates
}

// PoolLiquidityRatio computes, for each pool, (capacity-outstanding)/capacity
// across all partner funding lines into that pool, clamped to [0,1]. A pool
// with zero aggregate capacity is reported fully liquid (ratio 1.0).
func PoolLiquidityRatio(book LoanBook) map[string]float64 {
	capacity := make(map[string]*big.Int)
	outstanding := make(map[string]*big.Int)
	for _, pp := range book.PartnerPools() {
		if _, ok := capacity[pp.PoolID]; !ok {
			capacity[pp.PoolID] = big.NewInt(0)
			outstanding[pp.PoolID] = big.NewInt(0)
		}
		capacity[pp.PoolID].Add(capacity[pp.PoolID], pp.Capacity)
		outstanding[pp.PoolID].Add(outstanding[pp.PoolID], pp.Outstanding)
	}

	ratios := make(map[string]float64, len(capacity))
	for poolID, poolCapacity := range capacity {
		if poolCapacity.Sign() == 0 {
			ratios[poolID] = 1.0
			continue
		}
		free := new(big.Int).Sub(poolCapacity, outstanding[poolID])
		ratio := ratioOf(free, poolCapacity)
		ratios[poolID] = clamp01(ratio)
	}
	return ratios
}

// PoolNavDrawdown7D computes, for each pool, the principal defaulted in the
// trailing 7-day window over the pool's active-plus-defaulted principal.
func PoolNavDrawdown7D(book LoanBook, now int64) map[string]float64 {
	activeOrDefaultedPrincipal := make(map[string]*big.Int)
	defaultedIn7d := make(map[string]*big.Int)

	addTo := func(m map[string]*big.Int, poolID string, amount *big.Int) {
		if _, ok := m[poolID]; !ok {
			m[poolID] = big.NewInt(0)
		}
		m[poolID].Add(m[poolID], amount)
	}

	for _, status := range []LoanStatus{LoanActive, LoanDefaulted} {
		for _, loan := range book.LoansByStatus(status) {
			addTo(activeOrDefaultedPrincipal, loan.PoolID, loan.Principal)
			if status == LoanDefaulted && inWindow(loan.LastStatusChange, now, window7Days) {
				addTo(defaultedIn7d, loan.PoolID, loan.Principal)
			}
		}
	}

	drawdowns := make(map[string]float64, len(activeOrDefaultedPrincipal))
	for poolID, denominator := range activeOrDefaultedPrincipal {
		numerator, ok := defaultedIn7d[poolID]
		if !ok {
			numerator = big.NewInt(0)
		}
		drawdowns[poolID] = ratioOf(numerator, denominator)
	}
	return drawdowns
}

func ratioOf(numerator, denominator *big.Int) float64 {
	if denominator == nil || denominator.Sign() == 0 {
		return 0
	}
	num := new(big.Float).SetInt(numerator)
	den := new(big.Float).SetInt(denominator)
	ratio, _ := new(big.Float).Quo(num, den).Float64()
	return ratio
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
