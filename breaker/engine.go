package breaker

import (
	"fmt"
	"sync"

	"github.com/tranchepool/riskplane/audit"
	"github.com/tranchepool/riskplane/clock"
	"github.com/tranchepool/riskplane/riskerr"
)

// FatalHandler is invoked when the engine hits a condition spec §7
// classifies as Fatal (abort the process or take the pool offline). The
// default, installed by New, panics: an unrecorded state transition leaves
// the incident/override ledger unauditable, and the teacher's own
// cmd/*/main.go convention is to panic rather than limp forward on a
// failure it cannot safely continue past.
type FatalHandler func(error)

// Engine is the single-writer owner of incidents and overrides for one pool
// (or the global scope). Incident creation, enforcement projection, and the
// origination gate all serialize on one mutex, matching the pool engine's
// concurrency model (spec §5).
type Engine struct {
	mu sync.RWMutex

	poolID string

	incidents map[uint64]*Incident
	overrides map[uint64]*Override
	nextID    uint64

	clock clock.Clock
	sink  audit.Sink
	fatal FatalHandler
}

// New constructs an Engine for poolID with the given injected clock and
// audit sink. A nil clock defaults to the system clock; a nil sink defaults
// to an in-memory one.
func New(poolID string, c clock.Clock, sink audit.Sink) *Engine {
	if c == nil {
		c = clock.System{}
	}
	if sink == nil {
		sink = audit.NewMemory()
	}
	return &Engine{
		poolID:    poolID,
		incidents: make(map[uint64]*Incident),
		overrides: make(map[uint64]*Override),
		clock:     c,
		sink:      sink,
		fatal:     func(err error) { panic(err) },
	}
}

// SetFatalHandler overrides the default panic-on-Fatal behavior, letting a
// deployment take the pool offline (e.g. page and exit cleanly) instead of
// crashing the process outright. A nil handler restores the panic default.
func (e *Engine) SetFatalHandler(h FatalHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		h = func(err error) { panic(err) }
	}
	e.fatal = h
}

func (e *Engine) nextIDLocked() uint64 {
	e.nextID++
	return e.nextID
}

// writeAudit records a state transition. A write failure here is Fatal
// (spec §7): the transition has already been applied in memory, so a lost
// audit entry means the incident/override ledger can no longer be trusted,
// and the only safe response is to escalate rather than continue silently.
func (e *Engine) writeAudit(operator string, trigger Trigger, scope Scope, partnerID string, metricValue, threshold float64, note string) {
	err := e.sink.Write(audit.Entry{
		Operator:    operator,
		Trigger:     string(trigger),
		Scope:       string(scope),
		PartnerID:   partnerID,
		MetricValue: metricValue,
		Threshold:   threshold,
		Note:        note,
		Timestamp:   e.clock.Now(),
	})
	if err != nil {
		e.fatal(fmt.Errorf("breaker: audit write failed during state transition (trigger=%s): %w", trigger, err))
	}
}

// openIncidentLocked creates and records an Open incident for the given
// trigger/scope/partner/metric, applying the catalogue's static action set.
func (e *Engine) openIncidentLocked(trigger Trigger, partnerID string, metricValue float64, note, operator string) *Incident {
	entry := catalogue[trigger]
	inc := &Incident{
		ID:             e.nextIDLocked(),
		Trigger:        trigger,
		Scope:          entry.Scope,
		PartnerID:      partnerID,
		MetricValue:    metricValue,
		Threshold:      entry.Threshold,
		ActionsApplied: append([]Action(nil), entry.Actions...),
		Status:         StatusOpen,
		OpenedAt:       e.clock.Now(),
		DrillNote:      note,
	}
	e.incidents[inc.ID] = inc
	e.writeAudit(operator, trigger, entry.Scope, partnerID, metricValue, entry.Threshold, note)
	return inc
}

func breaches(entry CatalogueEntry, value float64) bool {
	if entry.HigherIsWorse {
		return value > entry.Threshold
	}
	return value < entry.Threshold
}

// --- Trigger evaluation (spec §4.E) ---

// ReconciliationReports carries the two settlement-integrity report counts
// the scheduler's reconciliation sweep produces.
type ReconciliationReports struct {
	FiatConfirmedNoChainTx              int
	ChainActiveNoFiatDisbursementProof  int
}

// Alert is returned for each breaching report evaluateReconciliation opens.
type Alert struct {
	Trigger  Trigger
	Incident *Incident
}

// EvaluateReconciliation maps each known report count to its trigger and
// opens an incident for any report with count > 0. Unknown reports are not
// representable in ReconciliationReports and are implicitly ignored.
func (e *Engine) EvaluateReconciliation(reports ReconciliationReports) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alerts []Alert
	if reports.FiatConfirmedNoChainTx > 0 {
		inc := e.openIncidentLocked(FiatConfirmedNoChainRecord, "", float64(reports.FiatConfirmedNoChainTx), "", "")
		alerts = append(alerts, Alert{Trigger: FiatConfirmedNoChainRecord, Incident: inc})
	}
	if reports.ChainActiveNoFiatDisbursementProof > 0 {
		inc := e.openIncidentLocked(ActiveWithoutDisbursementProof, "", float64(reports.ChainActiveNoFiatDisbursementProof), "", "")
		alerts = append(alerts, Alert{Trigger: ActiveWithoutDisbursementProof, Incident: inc})
	}
	return alerts
}

// EvaluatePartnerDefaultSpike opens a PartnerDefaultRate30D incident if rate
// strictly exceeds the catalogue threshold.
func (e *Engine) EvaluatePartnerDefaultSpike(partnerID string, rate float64) *Incident {
	return e.evaluateMetricTrigger(PartnerDefaultRate30D, partnerID, rate)
}

// EvaluateDelinquencySpike opens a PartnerDelinquency14D incident if rate
// strictly exceeds the catalogue threshold.
func (e *Engine) EvaluateDelinquencySpike(partnerID string, rate float64) *Incident {
	return e.evaluateMetricTrigger(PartnerDelinquency14D, partnerID, rate)
}

// EvaluateLiquidityRatioBreach opens a PoolLiquidityRatio incident if ratio
// strictly falls below the catalogue threshold.
func (e *Engine) EvaluateLiquidityRatioBreach(ratio float64) *Incident {
	return e.evaluateMetricTrigger(PoolLiquidityRatio, "", ratio)
}

// EvaluateNavDrawdown opens a PoolNavDrawdown7D incident if drawdown
// strictly exceeds the catalogue threshold.
func (e *Engine) EvaluateNavDrawdown(drawdown float64) *Incident {
	return e.evaluateMetricTrigger(PoolNavDrawdown7D, "", drawdown)
}

func (e *Engine) evaluateMetricTrigger(trigger Trigger, partnerID string, value float64) *Incident {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := catalogue[trigger]
	if !breaches(entry, value) {
		return nil
	}
	return e.openIncidentLocked(trigger, partnerID, value, "", "")
}

// OpenJuniorDepletionIncident satisfies pool.BreakerHook: it opens a
// JuniorDepletion incident whenever the pool's RecordBadDebt fully depletes
// Junior, carrying the pool's post-loss subordination ratio as the metric.
func (e *Engine) OpenJuniorDepletionIncident(poolID string, subordinationBps uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openIncidentLocked(JuniorDepletion, "", float64(subordinationBps)/10_000, "", "")
}

// --- Incident lifecycle ---

// AcknowledgeIncident transitions an Open incident to Acknowledged. Ack from
// any non-Open status is rejected.
func (e *Engine) AcknowledgeIncident(id uint64, operator string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc, ok := e.incidents[id]
	if !ok {
		return riskerr.ErrIncidentNotFound
	}
	if inc.Status != StatusOpen {
		return riskerr.ErrIncidentNotOpen
	}
	inc.Status = StatusAcknowledged
	inc.AcknowledgedBy = operator
	inc.AcknowledgedAt = e.clock.Now()
	e.writeAudit(operator, inc.Trigger, inc.Scope, inc.PartnerID, inc.MetricValue, inc.Threshold, "acknowledged")
	return nil
}

// ResolveIncident transitions an Open or Acknowledged incident to Resolved,
// dropping it from the enforcement projection.
func (e *Engine) ResolveIncident(id uint64, operator string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(id, operator, "resolved")
}

func (e *Engine) resolveLocked(id uint64, operator, note string) error {
	inc, ok := e.incidents[id]
	if !ok {
		return riskerr.ErrIncidentNotFound
	}
	if inc.Status == StatusResolved {
		return riskerr.ErrIncidentNotOpen
	}
	inc.Status = StatusResolved
	inc.ResolvedBy = operator
	inc.ResolvedAt = e.clock.Now()
	e.writeAudit(operator, inc.Trigger, inc.Scope, inc.PartnerID, inc.MetricValue, inc.Threshold, note)
	return nil
}

// AutoClearLiquidityIncidentsIfStable resolves every Open PoolLiquidityRatio
// incident whose age is at least stabilityWindowSeconds, but only if
// currentRatio has recovered to at least the catalogue threshold. Each
// incident is evaluated independently against the current age and ratio
// (SPEC_FULL §13 Open Question decision #3), rather than requiring every
// open incident across all triggers to clear at once.
func (e *Engine) AutoClearLiquidityIncidentsIfStable(currentRatio float64, stabilityWindowSeconds int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	threshold := catalogue[PoolLiquidityRatio].Threshold
	if currentRatio < threshold {
		return 0
	}
	now := e.clock.Now()
	cleared := 0
	for _, inc := range e.incidents {
		if inc.Trigger != PoolLiquidityRatio || inc.Status != StatusOpen {
			continue
		}
		if now-inc.OpenedAt < stabilityWindowSeconds {
			continue
		}
		_ = e.resolveLocked(inc.ID, "", "auto-resolved after stability window")
		cleared++
	}
	return cleared
}

// --- Overrides ---

// OverrideRequest carries applyOverride's parameters (spec §4.E).
type OverrideRequest struct {
	Trigger          Trigger
	Scope            Scope
	PartnerID        string
	Reason           string
	Operator         string
	ExpiresInMinutes int
}

// ApplyOverride validates expiresInMinutes ∈ (0, 10080] and records a
// time-bound enforcement mask.
func (e *Engine) ApplyOverride(req OverrideRequest) (*Override, error) {
	if req.ExpiresInMinutes <= 0 || req.ExpiresInMinutes > MaxOverrideMinutes {
		return nil, riskerr.ErrOverrideExpiryOutOfRange
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	ov := &Override{
		ID:        e.nextIDLocked(),
		Trigger:   req.Trigger,
		Scope:     req.Scope,
		PartnerID: req.PartnerID,
		Reason:    req.Reason,
		Operator:  req.Operator,
		CreatedAt: now,
		ExpiresAt: now + int64(req.ExpiresInMinutes)*60,
	}
	e.overrides[ov.ID] = ov
	e.writeAudit(req.Operator, req.Trigger, req.Scope, req.PartnerID, 0, 0, "override applied: "+req.Reason)
	return ov, nil
}

// LiftOverride idempotently rejects a second lift of the same override.
func (e *Engine) LiftOverride(id uint64, operator string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ov, ok := e.overrides[id]
	if !ok {
		return riskerr.ErrOverrideNotFound
	}
	if ov.Lifted {
		return riskerr.ErrOverrideAlreadyLifted
	}
	ov.Lifted = true
	ov.LiftedAt = e.clock.Now()
	ov.LiftedBy = operator
	e.writeAudit(operator, ov.Trigger, ov.Scope, ov.PartnerID, 0, 0, "override lifted")
	return nil
}

// --- Governance drill ---

// FireDrillTrigger opens a synthetic incident for trigger with a sentinel
// metric value and a GOVERNANCE_DRILL-prefixed note, letting operators
// rehearse the full incident workflow without a real breach (spec §4.E).
func (e *Engine) FireDrillTrigger(trigger Trigger, operator string) (*Incident, error) {
	if _, ok := catalogue[trigger]; !ok {
		return nil, riskerr.ErrTriggerUnknown
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	inc := e.openIncidentLocked(trigger, "", DrillSentinelMetricValue, "GOVERNANCE_DRILL: rehearsal, not a real breach", operator)
	e.writeAudit(operator, trigger, inc.Scope, "", DrillSentinelMetricValue, catalogue[trigger].Threshold, inc.DrillNote)
	return inc, nil
}

// --- Enforcement projection and origination gate ---

// Enforcement derives the current EnforcementState from the set of Open
// incidents minus active overrides (spec §3, testable property 10: a pure
// function of that set, re-derivable at any time to the same value).
func (e *Engine) Enforcement() EnforcementState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enforcementLocked()
}

func (e *Engine) enforcementLocked() EnforcementState {
	now := e.clock.Now()
	state := newEnforcementState(now)

	for _, inc := range e.incidents {
		if inc.Status != StatusOpen {
			continue
		}
		if e.maskedLocked(inc.Trigger, inc.PartnerID, now) {
			continue
		}
		for _, action := range inc.ActionsApplied {
			switch action {
			case ActionBlockAllOriginations:
				state.GlobalBlock = true
			case ActionFreezeOriginations:
				state.GlobalFreeze = true
			case ActionRequireManualApproval:
				state.RequireManualApproval = true
			case ActionBlockPartnerOriginations:
				if inc.PartnerID != "" {
					state.BlockedPartnerIDs[inc.PartnerID] = true
				}
			case ActionTightenTerms:
				if inc.PartnerID != "" {
					state.TightenedPartnerIDs[inc.PartnerID] = true
				}
			}
		}
	}
	return state
}

func (e *Engine) maskedLocked(trigger Trigger, partnerID string, now int64) bool {
	for _, ov := range e.overrides {
		if !ov.activeAt(now) {
			continue
		}
		if ov.matches(trigger, partnerID) {
			return true
		}
	}
	return false
}

// AssertOriginationAllowed fails Forbidden if global enforcement blocks all
// originations, is frozen, or specifically blocks partnerID (spec §4.E).
// It is the hot read path: one shared read-lock snapshot, no mutation.
func (e *Engine) AssertOriginationAllowed(partnerID string) error {
	state := e.Enforcement()
	if state.GlobalBlock || state.GlobalFreeze || state.BlockedPartnerIDs[partnerID] {
		return riskerr.ErrForbidden
	}
	return nil
}

// Incident returns a copy of an incident by ID, for observability.
func (e *Engine) Incident(id uint64) (Incident, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inc, ok := e.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return *inc, true
}

// Override returns a copy of an override by ID, for observability.
func (e *Engine) Override(id uint64) (Override, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ov, ok := e.overrides[id]
	if !ok {
		return Override{}, false
	}
	return *ov, true
}
