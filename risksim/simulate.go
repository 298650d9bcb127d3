package risksim

import (
	"math"
	"math/big"

	"github.com/tranchepool/riskplane/riskmath"
	"github.com/tranchepool/riskplane/waterfall"
)

// pathPrincipal is the notional deployed capital each simulated path starts
// from. It is a fixed constant rather than part of Config: the grid varies
// rates and ratios, not pool size, matching spec §4.G's own parameter list.
const pathPrincipal = 10_000_000.0

// startingTranches splits pathPrincipal between Junior and Senior using the
// configuration's senior allocation ratio, the same split AllocateToLoan
// applies in the live pool.
func startingTranches(cfg Config) (junior, senior float64) {
	seniorShare := pathPrincipal * float64(cfg.SeniorAllocationBps) / float64(riskmath.BasisPointsDenominator)
	return pathPrincipal - seniorShare, seniorShare
}

// SimulateConfigurationSeed replays exactly one path for cfg at seed and is
// the pure function testable property 13 and scenario S7 require: two calls
// with identical arguments return identical PathRecords. No argument is
// read from a wall clock, environment, or package-level mutable state.
func SimulateConfigurationSeed(cfg Config, seed uint32) PathRecord {
	configID := ConfigID(cfg)
	r := newRNG(seed)

	junior, senior := startingTranches(cfg)

	defaultRate := sampleDefaultRate(r, cfg)
	grossLoss := pathPrincipal * defaultRate
	netLoss := grossLoss * (1 - cfg.RecoveryRate)

	lossResult := waterfall.ApplyLoss(waterfall.Balances{
		JuniorVirtualBalance: toBig(junior),
		SeniorVirtualBalance: toBig(senior),
	}, toBig(netLoss))

	juniorAfterLoss := fromBig(lossResult.Junior)
	seniorAfterLoss := fromBig(lossResult.Senior)
	juniorAbsorbed := fromBig(lossResult.JuniorAbsorbed)
	seniorAbsorbed := fromBig(lossResult.SeniorAbsorbed)
	residual := fromBig(lossResult.Residual)

	latency := responseLatencies[cfg.ResponseProfile]
	if latency == (responseLatency{}) {
		latency = responseLatencies[ProfileBase]
	}
	recoveryLag := latency.ClearMinutes + r.intn(latency.ClearMinutes+1)
	recoveryAmount := grossLoss * cfg.RecoveryRate

	recoveryResult := waterfall.ApplyRecovery(waterfall.Balances{
		JuniorVirtualBalance: toBig(juniorAfterLoss),
		SeniorVirtualBalance: toBig(seniorAfterLoss),
	}, toBig(juniorAbsorbed), toBig(seniorAbsorbed), toBig(recoveryAmount))

	juniorFinal := fromBig(recoveryResult.Junior)
	seniorFinal := fromBig(recoveryResult.Senior)
	juniorRecovered := fromBig(recoveryResult.JuniorRecovered)
	seniorRecovered := fromBig(recoveryResult.SeniorRecovered)
	recoveryResidual := fromBig(recoveryResult.Residual)

	juniorImpaired := juniorAbsorbed > 0
	seniorImpaired := seniorAbsorbed > 0

	totalAfterLoss := juniorAfterLoss + seniorAfterLoss
	coverageRatioBps := uint64(0)
	if totalAfterLoss > 0 {
		coverageRatioBps = riskmath.RatioBps(toBig(juniorAfterLoss), toBig(totalAfterLoss))
	}
	coverageFloorBreached := totalAfterLoss > 0 && coverageRatioBps < cfg.JuniorCoverageFloorBps

	severity := severityScore(juniorImpaired, seniorImpaired, juniorFinal, seniorFinal, residual, cfg)

	// seniorImpairmentBundleViolation models INV-8's enforcement bundle
	// (RecordBadDebt activates paused+stressMode+seniorPriorityActive
	// together the instant Senior absorbs any loss). seniorPriorityActive
	// alone auto-expires after cfg.SeniorPriorityWindowHours; if recovery
	// takes longer than that window, the live pool would be left with its
	// priority leg expired while BadDebt is still outstanding, splitting the
	// bundle apart rather than holding it until an operator resolves the
	// incident.
	seniorPriorityWindowMinutes := cfg.SeniorPriorityWindowHours * 60
	seniorImpairmentBundleViolation := seniorImpaired && recoveryLag > seniorPriorityWindowMinutes

	// pauseStateMachineViolation checks that the pause a Senior impairment
	// triggers actually stays in force until coverage is restored: risk
	// actions must remain blocked, and the exit queue must remain in its
	// safe-exit state, for as long as Junior coverage sits below the floor.
	// If the post-recovery coverage ratio is still below the floor, lifting
	// the pause (the only way new allocations or instant withdrawals resume)
	// would have reopened risk actions on a tranche split that hasn't
	// actually recovered.
	totalFinal := juniorFinal + seniorFinal
	coverageAfterRecoveryBps := uint64(0)
	if totalFinal > 0 {
		coverageAfterRecoveryBps = riskmath.RatioBps(toBig(juniorFinal), toBig(totalFinal))
	}
	pauseStateMachineViolation := seniorImpaired && totalFinal > 0 && coverageAfterRecoveryBps < cfg.JuniorCoverageFloorBps

	return PathRecord{
		ConfigID:                        configID,
		Seed:                            seed,
		GrossLoss:                       grossLoss,
		NetLoss:                         netLoss,
		JuniorAbsorbed:                  juniorAbsorbed,
		SeniorAbsorbed:                  seniorAbsorbed,
		Residual:                        residual,
		RecoveryLagMinutes:              recoveryLag,
		JuniorRecovered:                 juniorRecovered,
		SeniorRecovered:                 seniorRecovered,
		RecoveryResidual:                recoveryResidual,
		JuniorFinal:                     juniorFinal,
		SeniorFinal:                     seniorFinal,
		JuniorImpaired:                  juniorImpaired,
		SeniorImpaired:                  seniorImpaired,
		CoverageFloorBreached:           coverageFloorBreached,
		WaterfallResidualNonzero:        residual > 0,
		NegativeNAV:                     juniorFinal < 0 || seniorFinal < 0,
		SeniorImpairmentBundleViolation: seniorImpairmentBundleViolation,
		PauseStateMachineViolation:      pauseStateMachineViolation,
		Severity:                        severity,
	}
}

// sampleDefaultRate draws a Gaussian-perturbed default rate around
// cfg.DefaultRatePct, scaled by the configured correlation level (spec
// §4.G step 1: "Gaussian noise with correlation parameter").
func sampleDefaultRate(r *rng, cfg Config) float64 {
	noise := r.gaussian() * cfg.CorrelationStrength * cfg.DefaultRatePct
	rate := cfg.DefaultRatePct + noise
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return rate
}

// severityScore is the weighted sum spec §4.G step 6 names: senior
// impairment percentage, junior depletion, spiral severity (compounding of
// both), and backlog (unresolved residual).
func severityScore(juniorImpaired, seniorImpaired bool, juniorFinal, seniorFinal, residual float64, cfg Config) float64 {
	junior, senior := startingTranches(cfg)

	juniorDepletionPct := 0.0
	if junior > 0 {
		juniorDepletionPct = math.Max(0, (junior-juniorFinal)/junior)
	}
	seniorImpairmentPct := 0.0
	if senior > 0 {
		seniorImpairmentPct = math.Max(0, (senior-seniorFinal)/senior)
	}

	spiral := 0.0
	if juniorImpaired && seniorImpaired {
		spiral = juniorDepletionPct * seniorImpairmentPct
	}

	backlog := 0.0
	if pathPrincipal > 0 {
		backlog = residual / pathPrincipal
	}

	const (
		weightSeniorImpairment = 0.45
		weightJuniorDepletion  = 0.25
		weightSpiral           = 0.20
		weightBacklog          = 0.10
	)
	return weightSeniorImpairment*seniorImpairmentPct +
		weightJuniorDepletion*juniorDepletionPct +
		weightSpiral*spiral +
		weightBacklog*backlog
}

// toBig/fromBig convert between the float64 the simulator's synthetic
// capital amounts are expressed in and the *big.Int the shared waterfall
// kernel operates on. The simulator trades exactness for the ability to
// express fractional rates (default rate, recovery rate) directly; the live
// pool (pool.Pool) never goes through this conversion.
func toBig(v float64) *big.Int {
	if v < 0 {
		v = 0
	}
	return big.NewInt(int64(math.Round(v)))
}

func fromBig(v *big.Int) float64 {
	return float64(v.Int64())
}
