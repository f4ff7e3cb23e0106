package trust

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewline/trustcore/internal/audit"
	"github.com/crewline/trustcore/internal/cache"
	"github.com/crewline/trustcore/internal/metrics"
)

// Options tunes the engine. Zero values fall back to the platform defaults,
// so callers only set what they mean to change.
type Options struct {
	// InitialTier is assigned to a key on its first signal.
	InitialTier Tier

	// Score tunes the confidence computation.
	Score ScoreParams

	// Catalog maps action types to risk classes and rubber-stamp floors.
	Catalog Catalog

	// RubberStampFloorMS applies to action types absent from the catalog.
	RubberStampFloorMS int64

	// DemoteOnBadSignal enables immediate demotion when a rejection or undo
	// arrives for a key running at tier auto.
	DemoteOnBadSignal bool

	// DemotionCooldown is installed as cooldown_until after any demotion.
	DemotionCooldown time.Duration

	// SustainedDemotion tunes the sweep-time regression check.
	SustainedDemotion SustainedDemotionParams

	// SweepParallelism bounds concurrent key evaluations within one sweep.
	SweepParallelism int

	// SweepBatchSize bounds how many candidate keys one sweep examines.
	SweepBatchSize int

	// SweepMinSignals filters sweep candidates to keys with at least this
	// many recorded signals.
	SweepMinSignals int

	// PolicyCacheSize and PolicyCacheTTL bound the policy resolution cache.
	PolicyCacheSize int
	PolicyCacheTTL  time.Duration

	// Logger receives service logs. Nil means no logging.
	Logger *zap.Logger

	// Audit receives the durable audit trail. Nil disables audit writes.
	Audit audit.Logger

	// Events receives engine events. Nil disables publishing.
	Events EventSink

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DefaultOptions returns the platform calibration defaults.
func DefaultOptions() Options {
	return Options{
		InitialTier:        TierSuggest,
		Score:              DefaultScoreParams(),
		Catalog:            DefaultCatalog(),
		RubberStampFloorMS: 2000,
		DemoteOnBadSignal:  true,
		DemotionCooldown:   72 * time.Hour,
		SustainedDemotion: SustainedDemotionParams{
			Enabled:          true,
			ScoreFloor:       0.30,
			MinRecentSignals: 10,
		},
		SweepParallelism: 4,
		SweepBatchSize:   200,
		SweepMinSignals:  5,
		PolicyCacheSize:  512,
		PolicyCacheTTL:   5 * time.Minute,
	}
}

// policyKey identifies one cached policy resolution.
type policyKey struct {
	OrgID      string
	ActionType string
	From       Tier
	To         Tier
}

// policyEntry caches either a resolved policy or the fact that none exists.
// Negative entries matter: unconfigured transitions are resolved on every
// sweep pass and would otherwise hit the store each time.
type policyEntry struct {
	policy *ThresholdPolicy
	miss   bool
}

// Engine composes the signal log, confidence aggregator, threshold policy
// store, and promotion decision function behind one API. All methods are safe
// for concurrent use; writes to one key are serialized by a per-key mutex.
type Engine struct {
	store    Store
	opts     Options
	locks    *keyMutex
	policies *cache.Cache[policyKey, policyEntry]

	logger *zap.Logger
	audit  audit.Logger
	sink   EventSink
	now    func() time.Time
}

// NewEngine builds an engine over the given store. Zero-value option fields
// are replaced with defaults.
func NewEngine(store Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("trust: store must not be nil")
	}

	def := DefaultOptions()
	if !opts.InitialTier.Valid() {
		opts.InitialTier = def.InitialTier
	}
	if opts.Score.LookbackDays <= 0 {
		opts.Score.LookbackDays = def.Score.LookbackDays
	}
	if opts.Score.HalfLifeDays <= 0 {
		opts.Score.HalfLifeDays = def.Score.HalfLifeDays
	}
	if opts.Score.DampeningFloor <= 0 {
		opts.Score.DampeningFloor = def.Score.DampeningFloor
	}
	if opts.Score.RecentWindow <= 0 {
		opts.Score.RecentWindow = def.Score.RecentWindow
	}
	if opts.Score.EligibilityScore <= 0 {
		opts.Score.EligibilityScore = def.Score.EligibilityScore
	}
	if opts.Score.EligibilityMinSignals <= 0 {
		opts.Score.EligibilityMinSignals = def.Score.EligibilityMinSignals
	}
	if opts.Catalog == nil {
		opts.Catalog = def.Catalog
	}
	if opts.RubberStampFloorMS <= 0 {
		opts.RubberStampFloorMS = def.RubberStampFloorMS
	}
	if opts.DemotionCooldown <= 0 {
		opts.DemotionCooldown = def.DemotionCooldown
	}
	if opts.SweepParallelism <= 0 {
		opts.SweepParallelism = def.SweepParallelism
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = def.SweepBatchSize
	}
	if opts.SweepMinSignals <= 0 {
		opts.SweepMinSignals = def.SweepMinSignals
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:    store,
		opts:     opts,
		locks:    newKeyMutex(),
		policies: cache.New[policyKey, policyEntry](opts.PolicyCacheSize, opts.PolicyCacheTTL),
		logger:   logger,
		audit:    opts.Audit,
		sink:     opts.Events,
		now:      clock,
	}, nil
}

// Ping verifies the underlying store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// RecordSignalInput carries one feedback signal into the log.
type RecordSignalInput struct {
	OrgID                string      `json:"org_id"`
	UserID               string      `json:"user_id"`
	ActionType           string      `json:"action_type"`
	AgentName            string      `json:"agent_name"`
	Kind                 Kind        `json:"kind"`
	EditDistance         *float64    `json:"edit_distance,omitempty"`
	EditFields           []string    `json:"edit_fields,omitempty"`
	TimeToRespondMS      *int64      `json:"time_to_respond_ms,omitempty"`
	ConfidenceAtProposal *float64    `json:"confidence_at_proposal,omitempty"`
	TierAtTime           Tier        `json:"tier_at_time,omitempty"`
	EntityRefs           []EntityRef `json:"entity_refs,omitempty"`
	IsBackfill           bool        `json:"is_backfill,omitempty"`

	// OccurredAt overrides the signal timestamp, for backfilled history.
	// Empty means now.
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (in *RecordSignalInput) validate() error {
	if in.OrgID == "" {
		return NewValidationError("org_id", "must not be empty")
	}
	if in.UserID == "" {
		return NewValidationError("user_id", "must not be empty")
	}
	if in.ActionType == "" {
		return NewValidationError("action_type", "must not be empty")
	}
	if in.AgentName == "" {
		return NewValidationError("agent_name", "must not be empty")
	}
	if !in.Kind.Valid() {
		return NewValidationError("kind", "unknown signal kind %q", in.Kind)
	}
	if in.TimeToRespondMS != nil && *in.TimeToRespondMS < 0 {
		return NewValidationError("time_to_respond_ms", "must not be negative")
	}
	if in.EditDistance != nil && (*in.EditDistance < 0 || *in.EditDistance > 1) {
		return NewValidationError("edit_distance", "%f outside [0,1]", *in.EditDistance)
	}
	if in.TierAtTime != "" && !in.TierAtTime.Valid() {
		return NewValidationError("tier_at_time", "unknown tier %q", in.TierAtTime)
	}
	return nil
}

// RecordSignal validates and appends one signal, recomputing the key's
// aggregate inside the same transaction. Hard success or hard failure: on any
// error nothing was written. When the signal is a rejection or undo against a
// key running at tier auto, the demotion is applied before returning and
// reported in the receipt.
func (e *Engine) RecordSignal(ctx context.Context, in RecordSignalInput) (*SignalReceipt, error) {
	if err := in.validate(); err != nil {
		kindLabel := "invalid"
		if in.Kind.Valid() {
			kindLabel = string(in.Kind)
		}
		metrics.SignalsRecorded.WithLabelValues(kindLabel, "validation_error").Inc()
		var ve *ValidationError
		if errors.As(err, &ve) {
			metrics.SignalValidationFailures.WithLabelValues(ve.Field).Inc()
		}
		if e.audit != nil {
			_ = e.audit.LogSignalRejected(ctx, in.OrgID, in.UserID, in.ActionType, err)
		}
		return nil, err
	}

	now := e.now()
	createdAt := now
	if in.OccurredAt != nil {
		createdAt = *in.OccurredAt
	}

	sig := &Signal{
		ID:                   uuid.NewString(),
		OrgID:                in.OrgID,
		UserID:               in.UserID,
		ActionType:           in.ActionType,
		AgentName:            in.AgentName,
		Kind:                 in.Kind,
		EditDistance:         in.EditDistance,
		EditFields:           in.EditFields,
		TimeToRespondMS:      in.TimeToRespondMS,
		ConfidenceAtProposal: in.ConfidenceAtProposal,
		TierAtTime:           in.TierAtTime,
		EntityRefs:           in.EntityRefs,
		IsBackfill:           in.IsBackfill,
		CreatedAt:            createdAt,
	}
	sig.RubberStamp = e.classifyRubberStamp(sig)

	key := sig.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	// Stamp the tier the key held when the signal arrived, unless the
	// pipeline already recorded the tier at proposal time.
	prior, err := e.store.GetAggregate(ctx, key)
	switch {
	case err == nil:
		if sig.TierAtTime == "" {
			sig.TierAtTime = prior.CurrentTier
		}
	case errors.Is(err, ErrAggregateNotFound):
		if sig.TierAtTime == "" {
			sig.TierAtTime = e.opts.InitialTier
		}
	default:
		metrics.SignalsRecorded.WithLabelValues(string(sig.Kind), "error").Inc()
		return nil, fmt.Errorf("read aggregate for %s/%s: %w", key.UserID, key.ActionType, err)
	}

	since := now.AddDate(0, 0, -e.opts.Score.LookbackDays)
	start := time.Now()
	agg, err := e.store.AppendAndRecompute(ctx, sig, since, func(signals []Signal, prev *TierState) (*ConfidenceAggregate, error) {
		return Recompute(sig.OrgID, key, signals, prev, e.opts.InitialTier, now, e.opts.Score)
	})
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecomputeFailures.Inc()
		if IsConsistency(err) {
			metrics.ConsistencyViolations.Inc()
		}
		metrics.SignalsRecorded.WithLabelValues(string(sig.Kind), "error").Inc()
		e.logger.Error("signal append failed",
			zap.String("user_id", key.UserID),
			zap.String("action_type", key.ActionType),
			zap.String("kind", string(sig.Kind)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("append signal for %s/%s: %w", key.UserID, key.ActionType, err)
	}

	metrics.SignalsRecorded.WithLabelValues(string(sig.Kind), "ok").Inc()
	e.logger.Debug("signal recorded",
		zap.String("signal_id", sig.ID),
		zap.String("user_id", key.UserID),
		zap.String("action_type", key.ActionType),
		zap.String("kind", string(sig.Kind)),
		zap.Bool("rubber_stamp", sig.RubberStamp),
		zap.Float64("score", agg.Score),
	)
	if e.audit != nil {
		_ = e.audit.LogSignalRecorded(ctx, sig.OrgID, sig.UserID, sig.ActionType, string(sig.Kind), sig.ID)
	}

	receipt := &SignalReceipt{SignalID: sig.ID, Aggregate: agg}

	// A rejection or undo while running autonomously demotes right here, on
	// the write path, before anyone reads the acknowledged signal.
	if e.opts.DemoteOnBadSignal && ShouldDemoteOnSignal(agg.CurrentTier, sig.Kind) {
		reason := fmt.Sprintf("%s signal while at tier auto", sig.Kind)
		if err := e.demoteLocked(ctx, agg, reason, now); err != nil {
			// The signal is already durable; the sweep's sustained check and
			// the next bad signal both retry this demotion.
			e.logger.Error("immediate demotion failed",
				zap.String("user_id", key.UserID),
				zap.String("action_type", key.ActionType),
				zap.Error(err),
			)
		} else {
			receipt.Demoted = true
		}
	}

	e.publish(Event{
		Type:       EventSignalRecorded,
		OrgID:      sig.OrgID,
		UserID:     sig.UserID,
		ActionType: sig.ActionType,
		Payload:    sig,
		At:         now,
	})
	e.publish(Event{
		Type:       EventAggregateRecomputed,
		OrgID:      agg.OrgID,
		UserID:     agg.UserID,
		ActionType: agg.ActionType,
		Payload:    agg,
		At:         now,
	})

	return receipt, nil
}

// classifyRubberStamp flags approvals answered faster than the action type's
// response-time floor. Only approvals can be rubber stamps: a fast rejection
// is decisiveness, not inattention.
func (e *Engine) classifyRubberStamp(sig *Signal) bool {
	if sig.Kind != KindApproved && sig.Kind != KindApprovedEdited {
		return false
	}
	if sig.TimeToRespondMS == nil {
		return false
	}
	floor := e.opts.Catalog.RubberStampFloorMS(sig.ActionType, e.opts.RubberStampFloorMS)
	return *sig.TimeToRespondMS < floor
}

// IncrementRubberStamp applies the best-effort fast-path counter bump. No
// ordering guarantee against concurrent recomputes; the next full recompute
// overwrites whatever this touched.
func (e *Engine) IncrementRubberStamp(ctx context.Context, userID, actionType string) error {
	if userID == "" {
		return NewValidationError("user_id", "must not be empty")
	}
	if actionType == "" {
		return NewValidationError("action_type", "must not be empty")
	}

	applied, err := e.store.BumpRubberStamp(ctx, Key{UserID: userID, ActionType: actionType})
	if err != nil {
		return fmt.Errorf("bump rubber stamp for %s/%s: %w", userID, actionType, err)
	}
	metrics.RubberStampBumps.WithLabelValues(strconv.FormatBool(applied)).Inc()
	return nil
}

// UpsertPolicyInput carries one threshold row plus the acting admin.
type UpsertPolicyInput struct {
	Policy ThresholdPolicy `json:"policy"`
	Actor  string          `json:"actor,omitempty"`
}

// UpsertPolicy validates and stores one threshold row (org override when
// OrgID is set, platform default otherwise) and invalidates the resolution
// cache.
func (e *Engine) UpsertPolicy(ctx context.Context, in UpsertPolicyInput) (*ThresholdPolicy, error) {
	p := in.Policy
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := e.store.UpsertPolicy(ctx, &p); err != nil {
		return nil, fmt.Errorf("upsert policy %s %s->%s: %w", p.ActionType, p.FromTier, p.ToTier, err)
	}

	// Purge rather than evict the one key: a platform-default edit changes
	// the resolution of every org that lacks an override.
	e.policies.Purge()

	e.logger.Info("threshold policy upserted",
		zap.String("policy_id", p.ID),
		zap.String("org_id", p.OrgID),
		zap.String("action_type", p.ActionType),
		zap.String("from_tier", string(p.FromTier)),
		zap.String("to_tier", string(p.ToTier)),
		zap.Bool("enabled", p.Enabled),
		zap.Bool("never_promote", p.NeverPromote),
	)
	if e.audit != nil {
		_ = e.audit.LogPolicyUpserted(ctx, p.OrgID, p.ActionType, string(p.FromTier), string(p.ToTier), in.Actor)
	}
	e.publish(Event{
		Type:       EventPolicyUpdated,
		OrgID:      p.OrgID,
		ActionType: p.ActionType,
		Payload:    &p,
		At:         now,
	})

	return &p, nil
}

// ListPolicies returns threshold rows matching the filters; empty strings
// match everything.
func (e *Engine) ListPolicies(ctx context.Context, orgID, actionType string) ([]ThresholdPolicy, error) {
	return e.store.ListPolicies(ctx, orgID, actionType)
}

// SeedDefaults inserts the platform-default policies that do not exist yet,
// leaving admin-edited rows alone. Returns how many rows were inserted.
func (e *Engine) SeedDefaults(ctx context.Context) (int, error) {
	defaults := DefaultPolicies(e.opts.Catalog, e.now())
	for i := range defaults {
		defaults[i].ID = uuid.NewString()
	}

	n, err := e.store.SeedPolicies(ctx, defaults)
	if err != nil {
		return 0, fmt.Errorf("seed default policies: %w", err)
	}
	if n > 0 {
		e.policies.Purge()
	}
	e.logger.Info("platform default policies seeded",
		zap.Int("inserted", n),
		zap.Int("total", len(defaults)),
	)
	return n, nil
}

// resolvePolicy applies the precedence order: enabled org override first,
// then platform default, then ErrPolicyNotFound. Results, including misses,
// are cached until the next policy mutation or TTL expiry.
func (e *Engine) resolvePolicy(ctx context.Context, orgID, actionType string, from, to Tier) (*ThresholdPolicy, error) {
	ck := policyKey{OrgID: orgID, ActionType: actionType, From: from, To: to}
	if ent, ok := e.policies.Get(ck); ok {
		metrics.PolicyCacheHits.Inc()
		if ent.miss {
			return nil, ErrPolicyNotFound
		}
		return ent.policy, nil
	}
	metrics.PolicyCacheMisses.Inc()

	if orgID != "" {
		p, err := e.store.GetPolicy(ctx, orgID, actionType, from, to)
		switch {
		case err == nil:
			if p.Enabled {
				e.policies.Add(ck, policyEntry{policy: p})
				return p, nil
			}
			// A disabled org row falls through to the platform default.
		case !errors.Is(err, ErrPolicyNotFound):
			return nil, fmt.Errorf("resolve org policy: %w", err)
		}
	}

	p, err := e.store.GetPolicy(ctx, "", actionType, from, to)
	switch {
	case err == nil:
		e.policies.Add(ck, policyEntry{policy: p})
		return p, nil
	case errors.Is(err, ErrPolicyNotFound):
		e.policies.Add(ck, policyEntry{miss: true})
		return nil, ErrPolicyNotFound
	default:
		return nil, fmt.Errorf("resolve platform policy: %w", err)
	}
}

// GetConfidence returns the key's current aggregate, or ErrAggregateNotFound
// when the key has never recorded a signal.
func (e *Engine) GetConfidence(ctx context.Context, userID, actionType string) (*ConfidenceAggregate, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "must not be empty")
	}
	if actionType == "" {
		return nil, NewValidationError("action_type", "must not be empty")
	}
	return e.store.GetAggregate(ctx, Key{UserID: userID, ActionType: actionType})
}

// GetOrgTier summarizes how the org's users are distributed across tiers for
// one action type. An org with no aggregates yet reports zero users and the
// disabled tier.
func (e *Engine) GetOrgTier(ctx context.Context, orgID, actionType string) (*OrgTierSummary, error) {
	if orgID == "" {
		return nil, NewValidationError("org_id", "must not be empty")
	}
	if actionType == "" {
		return nil, NewValidationError("action_type", "must not be empty")
	}

	aggs, err := e.store.ListAggregatesByOrg(ctx, orgID, actionType)
	if err != nil {
		return nil, fmt.Errorf("list aggregates for org %s: %w", orgID, err)
	}

	summary := &OrgTierSummary{
		OrgID:       orgID,
		ActionType:  actionType,
		Users:       len(aggs),
		TierCounts:  make(map[Tier]int),
		HighestTier: TierDisabled,
	}
	for i := range aggs {
		t := aggs[i].CurrentTier
		summary.TierCounts[t]++
		if t.Rank() > summary.HighestTier.Rank() {
			summary.HighestTier = t
		}
	}
	return summary, nil
}

// Evaluate runs the promotion decision function for one key, persisting the
// tier change when every condition holds. Blocked decisions carry every
// failing reason.
func (e *Engine) Evaluate(ctx context.Context, userID, actionType string) (*TierDecision, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "must not be empty")
	}
	if actionType == "" {
		return nil, NewValidationError("action_type", "must not be empty")
	}

	key := Key{UserID: userID, ActionType: actionType}
	unlock := e.locks.Lock(key)
	defer unlock()

	agg, err := e.store.GetAggregate(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read aggregate for %s/%s: %w", userID, actionType, err)
	}
	return e.evaluateLocked(ctx, agg)
}

// evaluateLocked runs the decision function for a loaded aggregate. The
// caller must hold the key's lock.
func (e *Engine) evaluateLocked(ctx context.Context, agg *ConfidenceAggregate) (*TierDecision, error) {
	key := agg.AggKey()
	now := e.now()

	from := agg.CurrentTier
	to, ok := from.Next()
	if !ok {
		metrics.PromotionEvaluations.WithLabelValues("blocked").Inc()
		e.markEvaluated(ctx, key, now)
		return &TierDecision{
			UserID:      key.UserID,
			ActionType:  key.ActionType,
			FromTier:    from,
			Reasons:     []string{"already at the highest tier"},
			EvaluatedAt: now,
		}, nil
	}

	pol, err := e.resolvePolicy(ctx, agg.OrgID, key.ActionType, from, to)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			metrics.PromotionEvaluations.WithLabelValues("no_policy").Inc()
			e.markEvaluated(ctx, key, now)
			return &TierDecision{
				UserID:      key.UserID,
				ActionType:  key.ActionType,
				FromTier:    from,
				Reasons:     []string{"no applicable policy"},
				EvaluatedAt: now,
			}, nil
		}
		metrics.PromotionEvaluations.WithLabelValues("error").Inc()
		return nil, err
	}

	var recent []Signal
	if pol.LastNClean > 0 {
		recent, err = e.store.RecentSignals(ctx, key, pol.LastNClean)
		if err != nil {
			metrics.PromotionEvaluations.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("read recent signals for %s/%s: %w", key.UserID, key.ActionType, err)
		}
	}

	d := EvaluatePromotion(agg, pol, recent, now)
	if !d.Promoted {
		outcome := "blocked"
		if agg.CooldownUntil != nil && now.Before(*agg.CooldownUntil) {
			outcome = "cooldown"
		}
		metrics.PromotionEvaluations.WithLabelValues(outcome).Inc()
		e.markEvaluated(ctx, key, now)
		return &d, nil
	}

	// Promotion clears any elapsed cooldown along with the tier write.
	state := TierState{
		CurrentTier:          d.ToTier,
		NeverPromote:         agg.NeverPromote,
		ExtraRequiredSignals: agg.ExtraRequiredSignals,
	}
	tr := &TierTransition{
		ID:         uuid.NewString(),
		OrgID:      agg.OrgID,
		UserID:     key.UserID,
		ActionType: key.ActionType,
		FromTier:   from,
		ToTier:     d.ToTier,
		Direction:  DirectionPromotion,
		Reason:     "all promotion thresholds met",
		Score:      agg.Score,
		CreatedAt:  now,
	}
	if err := e.store.UpdateTierState(ctx, key, state, tr); err != nil {
		metrics.PromotionEvaluations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("write promotion for %s/%s: %w", key.UserID, key.ActionType, err)
	}
	agg.TierState = state
	e.markEvaluated(ctx, key, now)

	metrics.PromotionEvaluations.WithLabelValues("promoted").Inc()
	metrics.TierTransitions.WithLabelValues(string(DirectionPromotion), key.ActionType).Inc()
	e.logger.Info("tier promoted",
		zap.String("user_id", key.UserID),
		zap.String("action_type", key.ActionType),
		zap.String("from_tier", string(from)),
		zap.String("to_tier", string(d.ToTier)),
		zap.Float64("score", agg.Score),
	)
	if e.audit != nil {
		_ = e.audit.LogTierPromoted(ctx, agg.OrgID, key.UserID, key.ActionType, string(from), string(d.ToTier), tr.Reason)
	}
	e.publish(Event{
		Type:       EventTierPromoted,
		OrgID:      agg.OrgID,
		UserID:     key.UserID,
		ActionType: key.ActionType,
		Payload:    tr,
		At:         now,
	})

	return &d, nil
}

// demoteLocked retreats the aggregate one tier and installs the cooldown. The
// caller must hold the key's lock. agg is updated in place on success.
func (e *Engine) demoteLocked(ctx context.Context, agg *ConfidenceAggregate, reason string, now time.Time) error {
	from := agg.CurrentTier
	to, ok := from.Previous()
	if !ok {
		return nil
	}

	until := now.Add(e.opts.DemotionCooldown)
	state := TierState{
		CurrentTier:          to,
		CooldownUntil:        &until,
		NeverPromote:         agg.NeverPromote,
		ExtraRequiredSignals: agg.ExtraRequiredSignals,
	}
	tr := &TierTransition{
		ID:         uuid.NewString(),
		OrgID:      agg.OrgID,
		UserID:     agg.UserID,
		ActionType: agg.ActionType,
		FromTier:   from,
		ToTier:     to,
		Direction:  DirectionDemotion,
		Reason:     reason,
		Score:      agg.Score,
		CreatedAt:  now,
	}
	if err := e.store.UpdateTierState(ctx, agg.AggKey(), state, tr); err != nil {
		return fmt.Errorf("write demotion for %s/%s: %w", agg.UserID, agg.ActionType, err)
	}
	agg.TierState = state

	metrics.TierTransitions.WithLabelValues(string(DirectionDemotion), agg.ActionType).Inc()
	e.logger.Warn("tier demoted",
		zap.String("user_id", agg.UserID),
		zap.String("action_type", agg.ActionType),
		zap.String("from_tier", string(from)),
		zap.String("to_tier", string(to)),
		zap.String("reason", reason),
		zap.Time("cooldown_until", until),
	)
	if e.audit != nil {
		_ = e.audit.LogTierDemoted(ctx, agg.OrgID, agg.UserID, agg.ActionType, string(from), string(to), reason)
	}
	e.publish(Event{
		Type:       EventTierDemoted,
		OrgID:      agg.OrgID,
		UserID:     agg.UserID,
		ActionType: agg.ActionType,
		Payload:    tr,
		At:         now,
	})
	return nil
}

// markEvaluated checkpoints evaluation progress. Best-effort: a lost
// checkpoint only re-orders the next sweep.
func (e *Engine) markEvaluated(ctx context.Context, key Key, at time.Time) {
	if err := e.store.MarkEvaluated(ctx, key, at); err != nil {
		e.logger.Warn("evaluation checkpoint failed",
			zap.String("user_id", key.UserID),
			zap.String("action_type", key.ActionType),
			zap.Error(err),
		)
	}
}

// SetKeyControls updates the operator-managed hold and signal-bar fields for
// one key. Nil leaves a field unchanged.
func (e *Engine) SetKeyControls(ctx context.Context, userID, actionType string, neverPromote *bool, extraRequiredSignals *int) error {
	if userID == "" {
		return NewValidationError("user_id", "must not be empty")
	}
	if actionType == "" {
		return NewValidationError("action_type", "must not be empty")
	}
	if neverPromote == nil && extraRequiredSignals == nil {
		return NewValidationError("controls", "nothing to change")
	}
	if extraRequiredSignals != nil && *extraRequiredSignals < 0 {
		return NewValidationError("extra_required_signals", "must not be negative")
	}

	key := Key{UserID: userID, ActionType: actionType}
	unlock := e.locks.Lock(key)
	defer unlock()

	agg, err := e.store.GetAggregate(ctx, key)
	if err != nil {
		return err
	}
	if err := e.store.SetKeyControls(ctx, key, neverPromote, extraRequiredSignals); err != nil {
		return fmt.Errorf("set key controls for %s/%s: %w", userID, actionType, err)
	}

	e.logger.Info("key controls changed",
		zap.String("user_id", userID),
		zap.String("action_type", actionType),
		zap.Boolp("never_promote", neverPromote),
		zap.Intp("extra_required_signals", extraRequiredSignals),
	)
	if e.audit != nil {
		_ = e.audit.LogKeyControlsChanged(ctx, agg.OrgID, userID, actionType, "")
	}
	e.publish(Event{
		Type:       EventControlsChanged,
		OrgID:      agg.OrgID,
		UserID:     userID,
		ActionType: actionType,
		Payload: struct {
			NeverPromote         *bool `json:"never_promote,omitempty"`
			ExtraRequiredSignals *int  `json:"extra_required_signals,omitempty"`
		}{neverPromote, extraRequiredSignals},
		At: e.now(),
	})
	return nil
}

// ListTransitions returns the tier-change audit trail, newest first. A
// non-positive limit defaults to 100.
func (e *Engine) ListTransitions(ctx context.Context, f TransitionFilter) ([]TierTransition, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return e.store.ListTransitions(ctx, f)
}

// publish forwards an event to the sink, if any. Never blocks: the sink
// contract pushes slow-consumer handling onto the implementation.
func (e *Engine) publish(ev Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ev)
}
