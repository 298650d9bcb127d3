// Package risksim replays the pool's waterfall kernel under a seeded,
// deterministic Monte-Carlo parameter sweep to produce the heatmaps, drift
// metrics, and audit manifest that gate a protocol release (spec §4.G).
//
// Every exported evaluation function here is pure and total: no wall clock,
// no global RNG, and no dependency on the live pool package beyond the
// waterfall/riskmath kernels it shares with it. Re-running the same
// (configuration, seed) pair is required to produce a byte-identical
// PathRecord.
package risksim

// ResponseProfile names the breaker latency profile a path is simulated
// under: how many simulated minutes elapse between a trigger condition
// arising, the breaker opening an incident, enforcement taking effect, and
// the incident clearing once the underlying metric recovers.
type ResponseProfile string

const (
	ProfileFast ResponseProfile = "FAST"
	ProfileBase ResponseProfile = "BASE"
	ProfileSlow ResponseProfile = "SLOW"
)

// responseLatency holds the detect/enforce/clear minute offsets for a
// ResponseProfile (spec §4.G, "one of three response profiles").
type responseLatency struct {
	DetectMinutes  int
	EnforceMinutes int
	ClearMinutes   int
}

var responseLatencies = map[ResponseProfile]responseLatency{
	ProfileFast: {DetectMinutes: 1, EnforceMinutes: 2, ClearMinutes: 15},
	ProfileBase: {DetectMinutes: 5, EnforceMinutes: 10, ClearMinutes: 60},
	ProfileSlow: {DetectMinutes: 15, EnforceMinutes: 30, ClearMinutes: 240},
}

// WithdrawalSensitivity buckets how aggressively liquidity withdrawal
// pressure reacts to a credit event within a simulated path.
type WithdrawalSensitivity string

const (
	SensitivityLow    WithdrawalSensitivity = "LOW"
	SensitivityMedium WithdrawalSensitivity = "MEDIUM"
	SensitivityHigh   WithdrawalSensitivity = "HIGH"
)

// CorrelationLevel names a point on the correlation axis spec §4.G
// enumerates ("correlation ∈ 5"); CorrelationStrength carries the numeric
// value the Gaussian sampler actually uses, since 5 grid points don't fit
// 3 qualitative labels without repetition.
type CorrelationLevel string

const (
	CorrelationLow      CorrelationLevel = "LOW"
	CorrelationModerate CorrelationLevel = "MODERATE"
	CorrelationHigh     CorrelationLevel = "HIGH"
)

// labelCorrelation maps a numeric strength to the nearest qualitative band,
// used only for human-readable output (CSV/JSON records).
func labelCorrelation(strength float64) CorrelationLevel {
	switch {
	case strength < 0.3:
		return CorrelationLow
	case strength < 0.55:
		return CorrelationModerate
	default:
		return CorrelationHigh
	}
}

// Config is one point in the parameter grid (spec §4.G): a fully specified
// set of tranche and scenario parameters a path count of seeds is replayed
// against.
type Config struct {
	SeniorAllocationBps       uint64
	JuniorCoverageFloorBps    uint64
	DefaultRatePct            float64
	RecoveryRate              float64
	CorrelationStrength       float64
	WithdrawalSensitivity     WithdrawalSensitivity
	SeniorPriorityWindowHours int
	ResponseProfile           ResponseProfile
}

// Grid describes the cross-product dimensions spec §4.G enumerates. Each
// slice is one axis of the sweep; BuildGrid takes their cross-product.
type Grid struct {
	SeniorAllocationBps       []uint64
	JuniorCoverageFloorBps    []uint64
	DefaultRatePct            []float64
	CorrelationStrength       []float64
	RecoveryRate              []float64
	SeniorPriorityWindowHours []int
}

// DefaultGrid reproduces the cardinalities spec §4.G names: 7 senior
// allocation points, 3 coverage floors, 3 default rates, 5 correlation
// levels, 6 recovery rates, 5 priority-window durations.
func DefaultGrid() Grid {
	return Grid{
		SeniorAllocationBps:       []uint64{5000, 6000, 6500, 7000, 7500, 8000, 9000},
		JuniorCoverageFloorBps:    []uint64{500, 1000, 1500},
		DefaultRatePct:            []float64{0.02, 0.05, 0.10},
		CorrelationStrength:       []float64{0.10, 0.25, 0.40, 0.55, 0.75},
		RecoveryRate:              []float64{0.0, 0.2, 0.4, 0.5, 0.6, 0.8},
		SeniorPriorityWindowHours: []int{6, 12, 24, 72, 168},
	}
}

// PathRecord is the per-seed outcome of SimulateConfigurationSeed: the
// terminal tranche state, the invariant checks that ran against it, and the
// scalar severity score the top-K worst-seed heap is keyed on.
type PathRecord struct {
	ConfigID                        string
	SeedIndex                       uint32
	Seed                            uint32
	GrossLoss                       float64
	NetLoss                         float64
	JuniorAbsorbed                  float64
	SeniorAbsorbed                  float64
	Residual                        float64
	RecoveryLagMinutes              int
	JuniorRecovered                 float64
	SeniorRecovered                 float64
	RecoveryResidual                float64
	JuniorFinal                     float64
	SeniorFinal                     float64
	JuniorImpaired                  bool
	SeniorImpaired                  bool
	CoverageFloorBreached           bool
	WaterfallResidualNonzero        bool
	NegativeNAV                     bool
	SeniorImpairmentBundleViolation bool
	PauseStateMachineViolation      bool
	Severity                        float64
}

// ConfigAggregate summarizes N PathRecords for one Config (spec §4.G
// "Aggregation per configuration").
type ConfigAggregate struct {
	Config                                Config
	ConfigID                              string
	PathCount                             int
	SeniorImpairmentProbability           float64
	JuniorDepletionProbability            float64
	BreakerActivationFrequency            float64
	AvgBreakerDurationMinutes             float64
	AvgTimeToStabilizationMinutes         float64
	JuniorNAVVolatility                   float64
	SeniorNAVVolatility                   float64
	CapitalEfficiencyScore                float64
	WaterfallViolationCount               int
	NegativeNavCount                      int
	SeniorImpairmentBundleViolationCount  int
	PauseStateMachineViolationCount       int
}

// RunManifest records the provenance of one simulator run (spec §4.G,
// output "run manifest").
type RunManifest struct {
	RunID           string
	GeneratedAtUTC  string
	CommitHash      string
	ConfigGridHash  string
	OutputHash      string
	GoVersion       string
	PathCountPerCfg int
	BaseSeed        uint32
	BatchSize       int
}

// UnbornHeadCommit is substituted for CommitHash when the run executes
// outside of any resolvable version-control commit.
const UnbornHeadCommit = "UNBORN_HEAD"
