package trust

import (
	"time"
)

// RiskClass buckets action types by blast radius. The class picks which
// platform-default threshold template applies; org overrides can always
// tighten or loosen individual rows afterward.
type RiskClass string

const (
	// RiskLow covers internal, easily reversible annotations.
	RiskLow RiskClass = "low"
	// RiskMedium covers CRM field writes and drafted outreach.
	RiskMedium RiskClass = "medium"
	// RiskHigh covers pipeline changes, outbound email, calendar moves.
	RiskHigh RiskClass = "high"
	// RiskCritical covers irreversible, externally-visible actions that may
	// never run autonomously no matter how good the statistics look.
	RiskCritical RiskClass = "critical"
)

// Valid reports whether rc is a known risk class.
func (rc RiskClass) Valid() bool {
	switch rc {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ActionTypeSpec describes one catalogued action type: its risk class and the
// response-time floor below which an approval counts as a rubber stamp.
type ActionTypeSpec struct {
	Risk               RiskClass `json:"risk"`
	RubberStampFloorMS int64     `json:"rubber_stamp_floor_ms"`
}

// Catalog maps action types to their specs. Unknown action types still get
// signals recorded (the enum closes signal kinds, not action types); they
// simply have no platform-default policies, so their transitions stay blocked
// until an admin upserts rows for them.
type Catalog map[string]ActionTypeSpec

// RubberStampFloorMS returns the action type's floor, or fallback when the
// action type is not catalogued.
func (c Catalog) RubberStampFloorMS(actionType string, fallback int64) int64 {
	if spec, ok := c[actionType]; ok && spec.RubberStampFloorMS > 0 {
		return spec.RubberStampFloorMS
	}
	return fallback
}

// DefaultCatalog returns the shipped action-type catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		"crm.note_add":        {Risk: RiskLow, RubberStampFloorMS: 2000},
		"crm.tag_update":      {Risk: RiskLow, RubberStampFloorMS: 1500},
		"task.create":         {Risk: RiskLow, RubberStampFloorMS: 2000},
		"crm.field_update":    {Risk: RiskMedium, RubberStampFloorMS: 2500},
		"email.draft":         {Risk: RiskMedium, RubberStampFloorMS: 3000},
		"task.assign":         {Risk: RiskMedium, RubberStampFloorMS: 2000},
		"crm.pipeline_update": {Risk: RiskHigh, RubberStampFloorMS: 4000},
		"email.send":          {Risk: RiskHigh, RubberStampFloorMS: 5000},
		"calendar.reschedule": {Risk: RiskHigh, RubberStampFloorMS: 3000},
		"crm.record_delete":   {Risk: RiskCritical, RubberStampFloorMS: 5000},
		"payment.refund":      {Risk: RiskCritical, RubberStampFloorMS: 8000},
		"contract.send":       {Risk: RiskCritical, RubberStampFloorMS: 8000},
	}
}

// thresholdTemplate is one transition's worth of platform-default criteria.
type thresholdTemplate struct {
	from         Tier
	to           Tier
	minSignals   int
	minClean     float64
	maxRejection float64
	maxUndo      float64
	minDays      int
	minScore     float64
	lastNClean   int
	neverPromote bool
}

// defaultTemplates escalate per risk class: low-risk actions earn autonomy in
// about two weeks of consistent approvals, high-risk actions need a month or
// more, and critical actions keep the approve->auto transition permanently
// unreachable.
var defaultTemplates = map[RiskClass][]thresholdTemplate{
	RiskLow: {
		{TierDisabled, TierSuggest, 5, 0.60, 0.25, 0.10, 3, 0.30, 3, false},
		{TierSuggest, TierApprove, 10, 0.80, 0.10, 0.05, 5, 0.50, 5, false},
		{TierApprove, TierAuto, 15, 0.90, 0.05, 0.02, 7, 0.70, 10, false},
	},
	RiskMedium: {
		{TierDisabled, TierSuggest, 8, 0.65, 0.20, 0.08, 5, 0.35, 5, false},
		{TierSuggest, TierApprove, 15, 0.85, 0.08, 0.04, 10, 0.55, 8, false},
		{TierApprove, TierAuto, 25, 0.92, 0.04, 0.02, 14, 0.75, 12, false},
	},
	RiskHigh: {
		{TierDisabled, TierSuggest, 10, 0.70, 0.15, 0.05, 7, 0.40, 8, false},
		{TierSuggest, TierApprove, 20, 0.90, 0.05, 0.03, 14, 0.60, 10, false},
		{TierApprove, TierAuto, 40, 0.95, 0.03, 0.01, 30, 0.80, 15, false},
	},
	RiskCritical: {
		{TierDisabled, TierSuggest, 10, 0.70, 0.15, 0.05, 7, 0.40, 8, false},
		{TierSuggest, TierApprove, 20, 0.90, 0.05, 0.03, 14, 0.60, 10, false},
		{TierApprove, TierAuto, 40, 0.95, 0.03, 0.01, 30, 0.80, 15, true},
	},
}

// DefaultPolicies expands the catalog into platform-default threshold rows
// (OrgID empty), one per action type per transition. IDs are left empty; the
// store assigns them on insert. Seeding is insert-if-absent so admin edits to
// platform rows survive restarts.
func DefaultPolicies(catalog Catalog, now time.Time) []ThresholdPolicy {
	var out []ThresholdPolicy
	for actionType, spec := range catalog {
		templates, ok := defaultTemplates[spec.Risk]
		if !ok {
			continue
		}
		for _, t := range templates {
			out = append(out, ThresholdPolicy{
				ActionType:           actionType,
				FromTier:             t.from,
				ToTier:               t.to,
				MinSignals:           t.minSignals,
				MinCleanApprovalRate: t.minClean,
				MaxRejectionRate:     t.maxRejection,
				MaxUndoRate:          t.maxUndo,
				MinDaysActive:        t.minDays,
				MinConfidenceScore:   t.minScore,
				LastNClean:           t.lastNClean,
				Enabled:              true,
				NeverPromote:         t.neverPromote,
				CreatedAt:            now,
				UpdatedAt:            now,
			})
		}
	}
	return out
}

// Validate rejects threshold rows that could never be applied correctly.
func (p *ThresholdPolicy) Validate() error {
	if p.ActionType == "" {
		return NewValidationError("action_type", "must not be empty")
	}
	if !p.FromTier.Valid() {
		return NewValidationError("from_tier", "unknown tier %q", p.FromTier)
	}
	if !p.ToTier.Valid() {
		return NewValidationError("to_tier", "unknown tier %q", p.ToTier)
	}
	next, ok := p.FromTier.Next()
	if !ok || next != p.ToTier {
		return NewValidationError("to_tier", "transition %s->%s is not a single upward step", p.FromTier, p.ToTier)
	}
	if p.MinSignals < 0 {
		return NewValidationError("min_signals", "must not be negative")
	}
	if p.MinDaysActive < 0 {
		return NewValidationError("min_days_active", "must not be negative")
	}
	if p.LastNClean < 0 {
		return NewValidationError("last_n_clean", "must not be negative")
	}
	for field, v := range map[string]float64{
		"min_clean_approval_rate": p.MinCleanApprovalRate,
		"max_rejection_rate":      p.MaxRejectionRate,
		"max_undo_rate":           p.MaxUndoRate,
		"min_confidence_score":    p.MinConfidenceScore,
	} {
		if v < 0 || v > 1 {
			return NewValidationError(field, "%f outside [0,1]", v)
		}
	}
	return nil
}
