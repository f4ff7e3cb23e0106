package trust

import (
	"fmt"
	"time"
)

// EvaluatePromotion applies the decision function for one tier transition.
// It is pure: the engine resolves the policy, loads the aggregate and the
// most recent signals, and persists whatever this returns. Every required
// condition is checked and every failing one is reported, so a no-promotion
// decision explains itself completely.
//
// recent must hold the key's most recent signals, newest first, at least
// pol.LastNClean of them when that many exist.
func EvaluatePromotion(agg *ConfidenceAggregate, pol *ThresholdPolicy, recent []Signal, now time.Time) TierDecision {
	d := TierDecision{
		UserID:      agg.UserID,
		ActionType:  agg.ActionType,
		FromTier:    agg.CurrentTier,
		EvaluatedAt: now,
	}

	// Cooldown suppresses evaluation entirely, regardless of statistics.
	if agg.CooldownUntil != nil && now.Before(*agg.CooldownUntil) {
		d.Reasons = []string{fmt.Sprintf("cooldown active until %s", agg.CooldownUntil.UTC().Format(time.RFC3339))}
		return d
	}

	// Permanent holds are absolute: no statistic can override them.
	if agg.NeverPromote {
		d.Reasons = []string{"key is permanently held (never_promote)"}
		return d
	}
	if pol.NeverPromote {
		d.Reasons = []string{"policy forbids this transition (never_promote)"}
		return d
	}

	var reasons []string
	if !pol.Enabled {
		reasons = append(reasons, "policy is disabled")
	}

	required := pol.MinSignals + agg.ExtraRequiredSignals
	if agg.Counts.Total < required {
		reasons = append(reasons, fmt.Sprintf("insufficient signals: %d < %d", agg.Counts.Total, required))
	}

	if r := agg.Rates.CleanApproval; r == nil {
		reasons = append(reasons, "clean approval rate undefined")
	} else if *r < pol.MinCleanApprovalRate {
		reasons = append(reasons, fmt.Sprintf("clean approval rate %.3f below minimum %.3f", *r, pol.MinCleanApprovalRate))
	}

	if r := agg.Rates.Rejection; r == nil {
		reasons = append(reasons, "rejection rate undefined")
	} else if *r > pol.MaxRejectionRate {
		reasons = append(reasons, fmt.Sprintf("rejection rate %.3f above maximum %.3f", *r, pol.MaxRejectionRate))
	}

	if r := agg.Rates.Undo; r == nil {
		reasons = append(reasons, "undo rate undefined")
	} else if *r > pol.MaxUndoRate {
		reasons = append(reasons, fmt.Sprintf("undo rate %.3f above maximum %.3f", *r, pol.MaxUndoRate))
	}

	if agg.DaysActive < pol.MinDaysActive {
		reasons = append(reasons, fmt.Sprintf("days active %d below minimum %d", agg.DaysActive, pol.MinDaysActive))
	}

	if agg.Score < pol.MinConfidenceScore {
		reasons = append(reasons, fmt.Sprintf("score %.3f below minimum %.3f", agg.Score, pol.MinConfidenceScore))
	}

	if !recentRunClean(recent, pol.LastNClean) {
		reasons = append(reasons, fmt.Sprintf("most recent %d signals are not all clean approvals", pol.LastNClean))
	}

	if len(reasons) > 0 {
		d.Reasons = reasons
		return d
	}

	d.Promoted = true
	d.ToTier = pol.ToTier
	return d
}

// recentRunClean reports whether the newest n signals are all plain approvals
// with no rubber stamp. This hard recent-run check layers on the rolling
// rates so a historically good but currently regressing key cannot promote.
func recentRunClean(recent []Signal, n int) bool {
	if n <= 0 {
		return true
	}
	if len(recent) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if recent[i].Kind != KindApproved || recent[i].RubberStamp {
			return false
		}
	}
	return true
}

// ShouldDemoteOnSignal reports whether an incoming signal demotes its key
// immediately: a rejection or any undo observed while the key runs
// autonomously means the trust that granted auto was misplaced.
func ShouldDemoteOnSignal(current Tier, kind Kind) bool {
	if current != TierAuto {
		return false
	}
	switch kind {
	case KindUndone, KindAutoUndone, KindRejected:
		return true
	default:
		return false
	}
}

// SustainedDemotionParams tunes the sweep-time regression check.
type SustainedDemotionParams struct {
	Enabled          bool
	ScoreFloor       float64
	MinRecentSignals int
}

// ShouldDemoteSustained reports whether a key's recent behavior has collapsed
// far enough to retreat one tier: the recent-window score sits below the
// floor with enough samples to mean it. Keys at or below the initial tier
// are left alone.
func ShouldDemoteSustained(agg *ConfidenceAggregate, initial Tier, p SustainedDemotionParams) (bool, string) {
	if !p.Enabled {
		return false, ""
	}
	if agg.CurrentTier.Rank() <= initial.Rank() {
		return false, ""
	}
	if agg.Counts.Total < p.MinRecentSignals {
		return false, ""
	}
	if agg.Last30Score >= p.ScoreFloor {
		return false, ""
	}
	return true, fmt.Sprintf("recent score %.3f below demotion floor %.3f over %d signals", agg.Last30Score, p.ScoreFloor, agg.Counts.Total)
}
