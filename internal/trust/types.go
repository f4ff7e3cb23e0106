package trust

// Package trust implements the trust-calibration core: an append-only signal
// log, a fully-recomputable confidence aggregate per (user, action type), a
// threshold policy layer with org overrides, and the promotion/demotion
// decision function that moves action types between autonomy tiers.
//
// Responsibilities:
// - Record human and automated feedback signals on agent-proposed actions
// - Recompute decayed confidence statistics synchronously with every signal
// - Resolve promotion thresholds (org override > platform default)
// - Advance or retract autonomy tiers under cooldowns and permanent holds

import (
	"time"
)

// ─── Autonomy tiers ───────────────────────────────────────────────────────────

// Tier is an autonomy level for one (user, action type) pairing.
// Tiers form a strict order: disabled < suggest < approve < auto.
type Tier string

const (
	// TierDisabled blocks the agent from proposing this action type at all.
	TierDisabled Tier = "disabled"
	// TierSuggest lets the agent suggest; a human performs the action.
	TierSuggest Tier = "suggest"
	// TierApprove lets the agent prepare the action; a human approves each one.
	TierApprove Tier = "approve"
	// TierAuto lets the agent execute without review.
	TierAuto Tier = "auto"
)

var tierRank = map[Tier]int{
	TierDisabled: 0,
	TierSuggest:  1,
	TierApprove:  2,
	TierAuto:     3,
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank returns the tier's position in the autonomy order, 0 for disabled.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Next returns the tier one step up, or false at the top of the ladder.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierDisabled:
		return TierSuggest, true
	case TierSuggest:
		return TierApprove, true
	case TierApprove:
		return TierAuto, true
	default:
		return "", false
	}
}

// Previous returns the tier one step down, or false at the bottom.
func (t Tier) Previous() (Tier, bool) {
	switch t {
	case TierAuto:
		return TierApprove, true
	case TierApprove:
		return TierSuggest, true
	case TierSuggest:
		return TierDisabled, true
	default:
		return "", false
	}
}

// ─── Signals ──────────────────────────────────────────────────────────────────

// Kind classifies a feedback signal. The set is closed: anything outside it
// is rejected at append time.
type Kind string

const (
	KindApproved       Kind = "approved"
	KindApprovedEdited Kind = "approved_edited"
	KindRejected       Kind = "rejected"
	KindExpired        Kind = "expired"
	KindUndone         Kind = "undone"
	KindAutoExecuted   Kind = "auto_executed"
	KindAutoUndone     Kind = "auto_undone"
)

// kindWeights drives the decayed confidence score. An autonomous action later
// undone is penalized three times harder than an outright rejection because
// the undo implies real-world damage already occurred.
var kindWeights = map[Kind]float64{
	KindApproved:       1.0,
	KindApprovedEdited: 0.3,
	KindRejected:       -1.0,
	KindExpired:        -0.2,
	KindUndone:         -2.0,
	KindAutoExecuted:   0.1,
	KindAutoUndone:     -3.0,
}

// Valid reports whether k is one of the seven enumerated kinds.
func (k Kind) Valid() bool {
	_, ok := kindWeights[k]
	return ok
}

// Weight returns the signed scoring weight for the kind, 0 for unknown kinds.
func (k Kind) Weight() float64 {
	return kindWeights[k]
}

// Key identifies one confidence aggregate: a (user, action type) pairing.
type Key struct {
	UserID     string `json:"user_id"`
	ActionType string `json:"action_type"`
}

// EntityRef optionally links a signal to the platform entity the proposed
// action touched (a CRM note, an email draft, a calendar event).
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Signal is one recorded human or automated response to a proposed action.
// Immutable once written; the signal log is the audit trail and the sole
// source of truth for every derived statistic.
type Signal struct {
	ID                   string      `json:"id"`
	OrgID                string      `json:"org_id"`
	UserID               string      `json:"user_id"`
	ActionType           string      `json:"action_type"`
	AgentName            string      `json:"agent_name"`
	Kind                 Kind        `json:"kind"`
	EditDistance         *float64    `json:"edit_distance,omitempty"`
	EditFields           []string    `json:"edit_fields,omitempty"`
	TimeToRespondMS      *int64      `json:"time_to_respond_ms,omitempty"`
	RubberStamp          bool        `json:"rubber_stamp"`
	ConfidenceAtProposal *float64    `json:"confidence_at_proposal,omitempty"`
	TierAtTime           Tier        `json:"tier_at_time,omitempty"`
	EntityRefs           []EntityRef `json:"entity_refs,omitempty"`
	IsBackfill           bool        `json:"is_backfill"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Key returns the aggregate key the signal belongs to.
func (s *Signal) Key() Key {
	return Key{UserID: s.UserID, ActionType: s.ActionType}
}

// ─── Confidence aggregates ────────────────────────────────────────────────────

// SignalCounts holds the raw per-kind counts over the lookback window.
type SignalCounts struct {
	Total          int `json:"total"`
	Approved       int `json:"approved"`
	ApprovedEdited int `json:"approved_edited"`
	Rejected       int `json:"rejected"`
	Expired        int `json:"expired"`
	Undone         int `json:"undone"`
	AutoExecuted   int `json:"auto_executed"`
	AutoUndone     int `json:"auto_undone"`
	RubberStamp    int `json:"rubber_stamp"`
	CleanApproved  int `json:"clean_approved"`
}

// Rates holds the derived rates over the lookback window. A nil rate means
// undefined (zero denominator), which is distinct from a rate of zero.
type Rates struct {
	Approval      *float64 `json:"approval_rate"`
	CleanApproval *float64 `json:"clean_approval_rate"`
	Edit          *float64 `json:"edit_rate"`
	Rejection     *float64 `json:"rejection_rate"`
	Undo          *float64 `json:"undo_rate"`
	RubberStamp   *float64 `json:"rubber_stamp_rate"`
}

// TierState is the slice of the aggregate owned exclusively by the promotion
// engine. Recompute carries it through untouched.
type TierState struct {
	CurrentTier          Tier       `json:"current_tier"`
	CooldownUntil        *time.Time `json:"cooldown_until,omitempty"`
	NeverPromote         bool       `json:"never_promote"`
	ExtraRequiredSignals int        `json:"extra_required_signals"`
}

// ConfidenceAggregate is the derived trust summary for one (user, action
// type) key. Every field except TierState is rebuilt from the signal window
// on each recompute, so the row is always reproducible purely from the log.
type ConfidenceAggregate struct {
	UserID     string `json:"user_id"`
	ActionType string `json:"action_type"`
	OrgID      string `json:"org_id"`

	Score             float64      `json:"score"`
	Last30Score       float64      `json:"last_30_score"`
	Counts            SignalCounts `json:"counts"`
	Rates             Rates        `json:"rates"`
	FirstSignalAt     *time.Time   `json:"first_signal_at,omitempty"`
	LastSignalAt      *time.Time   `json:"last_signal_at,omitempty"`
	DaysActive        int          `json:"days_active"`
	PromotionEligible bool         `json:"promotion_eligible"`

	TierState

	RecomputedAt    time.Time  `json:"recomputed_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
}

// AggKey returns the aggregate's key.
func (a *ConfidenceAggregate) AggKey() Key {
	return Key{UserID: a.UserID, ActionType: a.ActionType}
}

// ─── Threshold policies ───────────────────────────────────────────────────────

// ThresholdPolicy declares the promotion criteria for one tier transition of
// one action type, either platform-wide (OrgID empty) or as an org override.
// Admin-managed, rarely mutated, disabled rather than deleted.
type ThresholdPolicy struct {
	ID                   string    `json:"id"`
	OrgID                string    `json:"org_id"`
	ActionType           string    `json:"action_type"`
	FromTier             Tier      `json:"from_tier"`
	ToTier               Tier      `json:"to_tier"`
	MinSignals           int       `json:"min_signals"`
	MinCleanApprovalRate float64   `json:"min_clean_approval_rate"`
	MaxRejectionRate     float64   `json:"max_rejection_rate"`
	MaxUndoRate          float64   `json:"max_undo_rate"`
	MinDaysActive        int       `json:"min_days_active"`
	MinConfidenceScore   float64   `json:"min_confidence_score"`
	LastNClean           int       `json:"last_n_clean"`
	Enabled              bool      `json:"enabled"`
	NeverPromote         bool      `json:"never_promote"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsPlatformDefault reports whether the policy is a platform-wide default
// rather than an org override.
func (p *ThresholdPolicy) IsPlatformDefault() bool {
	return p.OrgID == ""
}

// ─── Decisions and transitions ────────────────────────────────────────────────

// TransitionDirection distinguishes promotions from demotions.
type TransitionDirection string

const (
	DirectionPromotion TransitionDirection = "promotion"
	DirectionDemotion  TransitionDirection = "demotion"
)

// TierTransition is the durable audit record of one tier change.
type TierTransition struct {
	ID         string              `json:"id"`
	OrgID      string              `json:"org_id"`
	UserID     string              `json:"user_id"`
	ActionType string              `json:"action_type"`
	FromTier   Tier                `json:"from_tier"`
	ToTier     Tier                `json:"to_tier"`
	Direction  TransitionDirection `json:"direction"`
	Reason     string              `json:"reason"`
	Score      float64             `json:"score"`
	CreatedAt  time.Time           `json:"created_at"`
}

// TierDecision is the outcome of one evaluation of the decision function.
type TierDecision struct {
	UserID      string    `json:"user_id"`
	ActionType  string    `json:"action_type"`
	Promoted    bool      `json:"promoted"`
	FromTier    Tier      `json:"from_tier"`
	ToTier      Tier      `json:"to_tier,omitempty"`
	Reasons     []string  `json:"reasons,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// OrgTierSummary is the coarse org-level tier view for dashboards: how the
// org's users are distributed across tiers for one action type.
type OrgTierSummary struct {
	OrgID       string       `json:"org_id"`
	ActionType  string       `json:"action_type"`
	Users       int          `json:"users"`
	TierCounts  map[Tier]int `json:"tier_counts"`
	HighestTier Tier         `json:"highest_tier"`
}

// SweepResult summarizes one periodic promotion sweep.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Examined   int           `json:"examined"`
	Promoted   int           `json:"promoted"`
	Demoted    int           `json:"demoted"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
}

// SignalReceipt is returned by RecordSignal: the stored signal's identity
// plus the aggregate as recomputed within the same transaction.
type SignalReceipt struct {
	SignalID  string               `json:"signal_id"`
	Aggregate *ConfidenceAggregate `json:"aggregate"`
	Demoted   bool                 `json:"demoted,omitempty"`
}
