package types

// Package types defines public API types shared between trustcore and its
// clients (the action pipeline, admin surfaces, dashboards).
//
// These types define the REST API contracts. The engine's own domain types
// (signals, aggregates, policies, transitions) marshal directly; this file
// holds the request/response envelopes around them.

// Request types

// RecordSignalRequest records one human or automated response to a proposed
// action. kind must be one of: approved, approved_edited, rejected, expired,
// undone, auto_executed, auto_undone.
type RecordSignalRequest struct {
	OrgID                string      `json:"org_id"`
	UserID               string      `json:"user_id"`
	ActionType           string      `json:"action_type"`
	AgentName            string      `json:"agent_name"`
	Kind                 string      `json:"kind"`
	EditDistance         *float64    `json:"edit_distance,omitempty"`
	EditFields           []string    `json:"edit_fields,omitempty"`
	TimeToRespondMS      *int64      `json:"time_to_respond_ms,omitempty"`
	ConfidenceAtProposal *float64    `json:"confidence_at_proposal,omitempty"`
	TierAtTime           string      `json:"tier_at_time,omitempty"`
	EntityRefs           []EntityRef `json:"entity_refs,omitempty"`
	IsBackfill           bool        `json:"is_backfill,omitempty"`
	OccurredAt           string      `json:"occurred_at,omitempty"` // RFC 3339, backfill only
}

// EntityRef links a signal to the platform entity the action touched.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// RubberStampRequest is the best-effort fast-path counter bump.
type RubberStampRequest struct {
	UserID     string `json:"user_id"`
	ActionType string `json:"action_type"`
}

// UpsertPolicyRequest creates or replaces one threshold policy row. Leave
// org_id empty for a platform default.
type UpsertPolicyRequest struct {
	OrgID                string  `json:"org_id,omitempty"`
	ActionType           string  `json:"action_type"`
	FromTier             string  `json:"from_tier"`
	ToTier               string  `json:"to_tier"`
	MinSignals           int     `json:"min_signals"`
	MinCleanApprovalRate float64 `json:"min_clean_approval_rate"`
	MaxRejectionRate     float64 `json:"max_rejection_rate"`
	MaxUndoRate          float64 `json:"max_undo_rate"`
	MinDaysActive        int     `json:"min_days_active"`
	MinConfidenceScore   float64 `json:"min_confidence_score"`
	LastNClean           int     `json:"last_n_clean"`
	Enabled              bool    `json:"enabled"`
	NeverPromote         bool    `json:"never_promote"`
	Actor                string  `json:"actor,omitempty"`
}

// KeyControlsRequest sets operator-managed per-key overrides. Omitted fields
// are left unchanged.
type KeyControlsRequest struct {
	NeverPromote         *bool `json:"never_promote,omitempty"`
	ExtraRequiredSignals *int  `json:"extra_required_signals,omitempty"`
}

// Response types

// RecordSignalResponse acknowledges a durably recorded signal with the
// aggregate recomputed in the same transaction.
type RecordSignalResponse struct {
	SignalID  string      `json:"signal_id"`
	Aggregate interface{} `json:"aggregate"`
	Demoted   bool        `json:"demoted,omitempty"`
}

// EvaluateResponse reports the outcome of one promotion evaluation.
type EvaluateResponse struct {
	Promoted bool     `json:"promoted"`
	FromTier string   `json:"from_tier"`
	ToTier   string   `json:"to_tier,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// SweepResponse summarizes one promotion sweep.
type SweepResponse struct {
	Examined   int    `json:"examined"`
	Promoted   int    `json:"promoted"`
	Demoted    int    `json:"demoted"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
}

// HealthResponse reports component health for /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	SweepRunning  bool   `json:"sweep_running"`
	EventClients  int    `json:"event_clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version"`
}

// ErrorResponse standard error response.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ListResponse generic list response.
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}
