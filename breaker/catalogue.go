package breaker

// catalogue is the static trigger table (spec §3), replacing the spec's
// design-flag concern of a reflection-driven trigger registry with a plain
// Go map literal — the teacher's own config tables
// (services/lendingd/config) are likewise static structs, not
// reflection-populated ones.
var catalogue = map[Trigger]CatalogueEntry{
	ActiveWithoutDisbursementProof: {
		Trigger:       ActiveWithoutDisbursementProof,
		Severity:      SeverityHigh,
		Scope:         ScopeGlobal,
		Actions:       []Action{ActionBlockAllOriginations},
		Threshold:     0,
		HigherIsWorse: true,
	},
	FiatConfirmedNoChainRecord: {
		Trigger:       FiatConfirmedNoChainRecord,
		Severity:      SeverityHigh,
		Scope:         ScopeGlobal,
		Actions:       []Action{ActionBlockAllOriginations},
		Threshold:     0,
		HigherIsWorse: true,
	},
	PartnerDefaultRate30D: {
		Trigger:       PartnerDefaultRate30D,
		Severity:      SeverityMedium,
		Scope:         ScopePartner,
		Actions:       []Action{ActionBlockPartnerOriginations},
		Threshold:     0.08,
		HigherIsWorse: true,
	},
	PartnerDelinquency14D: {
		Trigger:       PartnerDelinquency14D,
		Severity:      SeverityMedium,
		Scope:         ScopePartner,
		Actions:       []Action{ActionTightenTerms},
		Threshold:     0.15,
		HigherIsWorse: true,
	},
	PoolLiquidityRatio: {
		Trigger:       PoolLiquidityRatio,
		Severity:      SeverityCritical,
		Scope:         ScopePool,
		Actions:       []Action{ActionBlockAllOriginations},
		Threshold:     0.25,
		HigherIsWorse: false,
	},
	PoolNavDrawdown7D: {
		Trigger:       PoolNavDrawdown7D,
		Severity:      SeverityCritical,
		Scope:         ScopePool,
		Actions:       []Action{ActionBlockAllOriginations, ActionRequireManualApproval},
		Threshold:     0.02,
		HigherIsWorse: true,
	},
	JuniorDepletion: {
		Trigger:       JuniorDepletion,
		Severity:      SeverityCritical,
		Scope:         ScopePool,
		Actions:       []Action{ActionBlockAllOriginations, ActionRequireManualApproval},
		Threshold:     0,
		HigherIsWorse: true,
	},
	SeniorDrawdown: {
		Trigger:       SeniorDrawdown,
		Severity:      SeverityHigh,
		Scope:         ScopePool,
		Actions:       []Action{ActionRequireManualApproval},
		Threshold:     0,
		HigherIsWorse: true,
	},
}

// CatalogueEntryFor returns the static catalogue row for a trigger.
func CatalogueEntryFor(trigger Trigger) (CatalogueEntry, bool) {
	entry, ok := catalogue[trigger]
	return entry, ok
}
