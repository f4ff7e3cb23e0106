package trust

import (
	"context"
	"time"
)

// RecomputeFunc derives a fresh aggregate from one key's signal window
// (newest first, already including the signal being appended) and the prior
// tier state (nil for a brand-new key). The store calls it inside the append
// transaction; an error aborts the whole write.
type RecomputeFunc func(signals []Signal, prev *TierState) (*ConfidenceAggregate, error)

// SignalStore persists the append-only signal log.
type SignalStore interface {
	// AppendAndRecompute inserts the signal, re-reads its key's window (rows
	// at or after since, newest first), runs recompute, and upserts the
	// resulting aggregate, all in one transaction. Either everything is
	// durable or nothing is.
	AppendAndRecompute(ctx context.Context, sig *Signal, since time.Time, recompute RecomputeFunc) (*ConfidenceAggregate, error)

	// RecentSignals returns the key's n most recent signals, newest first.
	RecentSignals(ctx context.Context, key Key, n int) ([]Signal, error)
}

// AggregateStore persists confidence aggregates and their tier state.
type AggregateStore interface {
	// GetAggregate returns the key's aggregate or ErrAggregateNotFound.
	GetAggregate(ctx context.Context, key Key) (*ConfidenceAggregate, error)

	// BumpRubberStamp applies the best-effort fast-path counter increment.
	// Returns false when the key has no aggregate row yet; that is not an
	// error, the next full recompute owns the truth either way.
	BumpRubberStamp(ctx context.Context, key Key) (bool, error)

	// ListAggregatesByOrg returns all aggregates for one org and action type.
	ListAggregatesByOrg(ctx context.Context, orgID, actionType string) ([]ConfidenceAggregate, error)

	// SweepCandidates returns keys due for promotion evaluation: not in
	// cooldown, at least minSignals recorded, stalest evaluation first.
	SweepCandidates(ctx context.Context, now time.Time, minSignals, limit int) ([]Key, error)

	// UpdateTierState writes the promotion engine's slice of the aggregate
	// and, when transition is non-nil, the audit row, in one transaction.
	UpdateTierState(ctx context.Context, key Key, state TierState, transition *TierTransition) error

	// SetKeyControls updates the operator-managed hold and signal-bar fields.
	// Nil leaves a field unchanged.
	SetKeyControls(ctx context.Context, key Key, neverPromote *bool, extraRequiredSignals *int) error

	// MarkEvaluated checkpoints a sweep's progress through the key space.
	MarkEvaluated(ctx context.Context, key Key, at time.Time) error
}

// PolicyStore persists threshold policies.
type PolicyStore interface {
	// UpsertPolicy inserts or replaces one threshold row, assigning an ID
	// when the row has none.
	UpsertPolicy(ctx context.Context, p *ThresholdPolicy) error

	// GetPolicy returns the exact (org, action type, transition) row or
	// ErrPolicyNotFound. Resolution order across org and platform rows is
	// the engine's job, not the store's.
	GetPolicy(ctx context.Context, orgID, actionType string, from, to Tier) (*ThresholdPolicy, error)

	// ListPolicies returns rows matching the filters; empty strings match
	// everything.
	ListPolicies(ctx context.Context, orgID, actionType string) ([]ThresholdPolicy, error)

	// SeedPolicies inserts rows that do not exist yet and leaves existing
	// ones alone, returning how many were inserted.
	SeedPolicies(ctx context.Context, policies []ThresholdPolicy) (int, error)
}

// TransitionFilter narrows a tier-transition listing.
type TransitionFilter struct {
	OrgID      string
	UserID     string
	ActionType string
	Limit      int
}

// TransitionStore persists the tier-change audit trail.
type TransitionStore interface {
	// ListTransitions returns matching transitions, newest first.
	ListTransitions(ctx context.Context, f TransitionFilter) ([]TierTransition, error)
}

// Store aggregates every persistence concern the engine needs. The SQLite
// implementation lives in internal/db.
type Store interface {
	SignalStore
	AggregateStore
	PolicyStore
	TransitionStore

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
