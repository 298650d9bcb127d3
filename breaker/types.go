// Package breaker implements the circuit breaker state machine (spec §4.E):
// a static trigger catalogue, an incident lifecycle, a derived enforcement
// projection, time-bound overrides, and the origination gate every
// capital-deploying operation consults before proceeding.
//
// It generalizes the teacher's module-pause guard (native/common/guard.go,
// PauseView+Guard) from a single boolean "module paused" flag into a set of
// independently triggerable, independently liftable incidents whose actions
// compose into one enforcement snapshot.
package breaker

import "math"

// Trigger identifies one entry in the static catalogue (spec §3).
type Trigger string

const (
	ActiveWithoutDisbursementProof Trigger = "ActiveWithoutDisbursementProof"
	FiatConfirmedNoChainRecord     Trigger = "FiatConfirmedNoChainRecord"
	PartnerDefaultRate30D          Trigger = "PartnerDefaultRate30D"
	PartnerDelinquency14D          Trigger = "PartnerDelinquency14D"
	PoolLiquidityRatio             Trigger = "PoolLiquidityRatio"
	PoolNavDrawdown7D              Trigger = "PoolNavDrawdown7D"
	JuniorDepletion                Trigger = "JuniorDepletion"
	SeniorDrawdown                 Trigger = "SeniorDrawdown"
)

// Scope identifies the blast radius of an incident or override.
type Scope string

const (
	ScopeGlobal  Scope = "Global"
	ScopePool    Scope = "Pool"
	ScopePartner Scope = "Partner"
)

// Action is one enforcement effect a trigger's catalogue entry may carry.
type Action string

const (
	ActionBlockAllOriginations     Action = "BLOCK_ALL_ORIGINATIONS"
	ActionFreezeOriginations       Action = "FREEZE_ORIGINATIONS"
	ActionRequireManualApproval    Action = "REQUIRE_MANUAL_APPROVAL"
	ActionBlockPartnerOriginations Action = "BLOCK_PARTNER_ORIGINATIONS"
	ActionTightenTerms             Action = "TIGHTEN_TERMS"
)

// Severity classifies how serious a catalogue entry's trigger is, carried
// through to audit entries and the simulator's severity scoring.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
)

// CatalogueEntry is one static row of the trigger catalogue (spec §3).
type CatalogueEntry struct {
	Trigger   Trigger
	Severity  Severity
	Scope     Scope
	Actions   []Action
	Threshold float64
	// HigherIsWorse selects the comparison direction for threshold breach
	// evaluation: true means "value > threshold breaches" (default-rate,
	// delinquency, drawdown style metrics); false means "value < threshold
	// breaches" (liquidity-ratio style metrics).
	HigherIsWorse bool
}

// Status is an incident's lifecycle stage (spec §3: Open → Acknowledged →
// Resolved). An Open incident may also be resolved directly, without an
// acknowledgement; a Resolved incident is never reopened.
type Status string

const (
	StatusOpen         Status = "Open"
	StatusAcknowledged Status = "Acknowledged"
	StatusResolved     Status = "Resolved"
)

// Incident is a single firing of a trigger, mutated only by ack/resolve or
// auto-clear, never deleted (spec §3).
type Incident struct {
	ID             uint64
	Trigger        Trigger
	Scope          Scope
	PartnerID      string
	MetricValue    float64
	Threshold      float64
	ActionsApplied []Action
	Status         Status
	OpenedAt       int64
	AcknowledgedBy string
	AcknowledgedAt int64
	ResolvedBy     string
	ResolvedAt     int64
	DrillNote      string
}

// Override is a time-bound admin mask that neutralizes a specific
// trigger+scope(+partner)'s enforcement effect (spec §3). Write-once +
// lift-once: once Lifted is set it can never be lifted again.
type Override struct {
	ID        uint64
	Trigger   Trigger
	Scope     Scope
	PartnerID string
	Reason    string
	Operator  string
	CreatedAt int64
	ExpiresAt int64
	LiftedAt  int64
	LiftedBy  string
	Lifted    bool
}

func (o *Override) activeAt(now int64) bool {
	if o.Lifted {
		return false
	}
	return now < o.ExpiresAt
}

// matches reports whether this override masks the given trigger+scope+
// partner combination (spec §4.E: "an override of trigger+partner
// suppresses blocks caused by incidents with that trigger+partner only").
func (o *Override) matches(trigger Trigger, partnerID string) bool {
	if o.Trigger != trigger {
		return false
	}
	if o.Scope == ScopePartner {
		return o.PartnerID == partnerID
	}
	return true
}

// EnforcementState is the derived, never-stored projection of all Open
// incidents minus active overrides (spec §3).
type EnforcementState struct {
	GlobalBlock           bool
	GlobalFreeze          bool
	RequireManualApproval bool
	BlockedPartnerIDs     map[string]bool
	TightenedPartnerIDs   map[string]bool
	EvaluatedAt           int64
}

func newEnforcementState(now int64) EnforcementState {
	return EnforcementState{
		BlockedPartnerIDs:   make(map[string]bool),
		TightenedPartnerIDs: make(map[string]bool),
		EvaluatedAt:         now,
	}
}

// MaxOverrideMinutes is the 7-day cap on applyOverride's expiresInMinutes
// (spec §4.E).
const MaxOverrideMinutes = 7 * 24 * 60

// DrillSentinelMetricValue is the synthetic metric value fireDrillTrigger
// records, chosen to read obviously as a rehearsal value rather than a real
// measurement.
var DrillSentinelMetricValue = math.Inf(1)
