package trust

import (
	"math"
	"time"
)

// ScoreParams tunes the confidence computation. Defaults match the platform
// calibration: 90-day lookback, 30-day half-life, full weight at 10 signals.
type ScoreParams struct {
	LookbackDays          int
	HalfLifeDays          float64
	DampeningFloor        int
	RecentWindow          int
	EligibilityScore      float64
	EligibilityMinSignals int
}

// DefaultScoreParams returns the platform calibration defaults.
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		LookbackDays:          90,
		HalfLifeDays:          30,
		DampeningFloor:        10,
		RecentWindow:          30,
		EligibilityScore:      0.7,
		EligibilityMinSignals: 10,
	}
}

// Recompute rebuilds the confidence aggregate for one key from its signal
// window. It is a pure function of the inputs: replaying it with the same
// window yields an identical aggregate, which is what makes the aggregate
// self-healing. signals must be the key's rows inside the lookback window,
// newest first. prev carries the tier-management fields owned by the
// promotion engine; when nil (first signal for the key) the aggregate starts
// at initialTier.
func Recompute(orgID string, key Key, signals []Signal, prev *TierState, initialTier Tier, now time.Time, p ScoreParams) (*ConfidenceAggregate, error) {
	agg := &ConfidenceAggregate{
		UserID:       key.UserID,
		ActionType:   key.ActionType,
		OrgID:        orgID,
		RecomputedAt: now,
	}

	if prev != nil {
		agg.TierState = *prev
	} else {
		agg.TierState = TierState{CurrentTier: initialTier}
	}

	counts := SignalCounts{Total: len(signals)}
	activeDays := make(map[string]struct{})
	for i := range signals {
		s := &signals[i]
		switch s.Kind {
		case KindApproved:
			counts.Approved++
			if !s.RubberStamp {
				counts.CleanApproved++
			}
		case KindApprovedEdited:
			counts.ApprovedEdited++
		case KindRejected:
			counts.Rejected++
		case KindExpired:
			counts.Expired++
		case KindUndone:
			counts.Undone++
		case KindAutoExecuted:
			counts.AutoExecuted++
		case KindAutoUndone:
			counts.AutoUndone++
		}
		if s.RubberStamp {
			counts.RubberStamp++
		}
		activeDays[s.CreatedAt.UTC().Format("2006-01-02")] = struct{}{}

		if agg.FirstSignalAt == nil || s.CreatedAt.Before(*agg.FirstSignalAt) {
			t := s.CreatedAt
			agg.FirstSignalAt = &t
		}
		if agg.LastSignalAt == nil || s.CreatedAt.After(*agg.LastSignalAt) {
			t := s.CreatedAt
			agg.LastSignalAt = &t
		}
	}
	agg.Counts = counts
	agg.DaysActive = len(activeDays)

	agg.Score = weightedScore(signals, now, p.HalfLifeDays, p.DampeningFloor)

	recent := signals
	if len(recent) > p.RecentWindow {
		recent = recent[:p.RecentWindow]
	}
	agg.Last30Score = weightedScore(recent, now, p.HalfLifeDays, p.DampeningFloor)

	agg.Rates = Rates{
		Approval:      ratio(counts.Approved+counts.ApprovedEdited, counts.Total),
		CleanApproval: ratio(counts.CleanApproved, counts.Total),
		Edit:          ratio(counts.ApprovedEdited, counts.Approved+counts.ApprovedEdited),
		Rejection:     ratio(counts.Rejected, counts.Total),
		Undo:          ratio(counts.Undone+counts.AutoUndone, counts.Total),
		RubberStamp:   ratio(counts.RubberStamp, counts.Total),
	}

	agg.PromotionEligible = agg.Score > p.EligibilityScore && counts.Total >= p.EligibilityMinSignals

	if err := checkAggregate(agg, len(signals)); err != nil {
		return nil, err
	}
	return agg, nil
}

// weightedScore computes the decayed, rescaled, sample-dampened score for a
// set of signals. Each signal contributes weight x 0.5^(age_days/half_life);
// the signed sum over the absolute sum lands in [-1,1], is rescaled to [0,1],
// then dampened by min(n/floor, 1) so a handful of lucky approvals cannot
// look highly trustworthy.
func weightedScore(signals []Signal, now time.Time, halfLifeDays float64, dampFloor int) float64 {
	if len(signals) == 0 {
		return 0
	}

	var num, den float64
	for i := range signals {
		w := signals[i].Kind.Weight()
		if w == 0 {
			continue
		}
		ageDays := now.Sub(signals[i].CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Pow(0.5, ageDays/halfLifeDays)
		num += w * decay
		den += math.Abs(w) * decay
	}
	if den == 0 {
		return 0
	}

	rescaled := (num/den + 1) / 2

	dampening := float64(len(signals)) / float64(dampFloor)
	if dampening > 1 {
		dampening = 1
	}
	return rescaled * dampening
}

// ratio returns num/den, or nil when the denominator is zero. An undefined
// rate is not a zero rate: gating logic must treat the two differently.
func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

// checkAggregate enforces the recompute invariants before the aggregate may
// be persisted.
func checkAggregate(agg *ConfidenceAggregate, windowSize int) error {
	c := agg.Counts
	if c.Total != windowSize {
		return NewConsistencyError("total_matches_window", "total_signals=%d but window holds %d rows", c.Total, windowSize)
	}
	kindSum := c.Approved + c.ApprovedEdited + c.Rejected + c.Expired + c.Undone + c.AutoExecuted + c.AutoUndone
	if kindSum != c.Total {
		return NewConsistencyError("kind_counts_sum", "per-kind counts sum to %d, total is %d", kindSum, c.Total)
	}
	for name, n := range map[string]int{
		"total":           c.Total,
		"approved":        c.Approved,
		"approved_edited": c.ApprovedEdited,
		"rejected":        c.Rejected,
		"expired":         c.Expired,
		"undone":          c.Undone,
		"auto_executed":   c.AutoExecuted,
		"auto_undone":     c.AutoUndone,
		"rubber_stamp":    c.RubberStamp,
		"clean_approved":  c.CleanApproved,
	} {
		if n < 0 {
			return NewConsistencyError("non_negative_counts", "%s count is %d", name, n)
		}
	}
	if c.CleanApproved > c.Approved {
		return NewConsistencyError("clean_within_approved", "clean_approved=%d exceeds approved=%d", c.CleanApproved, c.Approved)
	}
	if c.RubberStamp > c.Total {
		return NewConsistencyError("rubber_stamp_within_total", "rubber_stamp=%d exceeds total=%d", c.RubberStamp, c.Total)
	}
	if agg.Score < 0 || agg.Score > 1 {
		return NewConsistencyError("score_range", "score=%f outside [0,1]", agg.Score)
	}
	if agg.Last30Score < 0 || agg.Last30Score > 1 {
		return NewConsistencyError("score_range", "last_30_score=%f outside [0,1]", agg.Last30Score)
	}
	for name, r := range map[string]*float64{
		"approval_rate":     agg.Rates.Approval,
		"clean_approval":    agg.Rates.CleanApproval,
		"edit_rate":         agg.Rates.Edit,
		"rejection_rate":    agg.Rates.Rejection,
		"undo_rate":         agg.Rates.Undo,
		"rubber_stamp_rate": agg.Rates.RubberStamp,
	} {
		if r != nil && (*r < 0 || *r > 1) {
			return NewConsistencyError("rate_range", "%s=%f outside [0,1]", name, *r)
		}
	}
	return nil
}
