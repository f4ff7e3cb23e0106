package trust

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// makeSignal builds one signal n days before testNow.
func makeSignal(kind Kind, daysAgo float64, rubberStamp bool) Signal {
	return Signal{
		ID:          fmt.Sprintf("sig-%s-%f", kind, daysAgo),
		OrgID:       "org-test",
		UserID:      "user-1",
		ActionType:  "crm.note_add",
		AgentName:   "pipeline",
		Kind:        kind,
		RubberStamp: rubberStamp,
		CreatedAt:   testNow.Add(-time.Duration(daysAgo * 24 * float64(time.Hour))),
	}
}

// newestFirst sorts a hand-built window the way the store delivers it.
func newestFirst(signals []Signal) []Signal {
	out := make([]Signal, len(signals))
	copy(out, signals)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func TestRecomputeCounts(t *testing.T) {
	signals := newestFirst([]Signal{
		makeSignal(KindApproved, 1, false),
		makeSignal(KindApproved, 2, true),
		makeSignal(KindApprovedEdited, 3, false),
		makeSignal(KindRejected, 4, false),
		makeSignal(KindExpired, 5, false),
		makeSignal(KindUndone, 6, false),
		makeSignal(KindAutoExecuted, 7, false),
		makeSignal(KindAutoUndone, 8, false),
	})

	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, signals, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	c := agg.Counts
	if c.Total != 8 {
		t.Errorf("expected total 8, got %d", c.Total)
	}
	if c.Approved != 2 || c.ApprovedEdited != 1 || c.Rejected != 1 || c.Expired != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.Undone != 1 || c.AutoExecuted != 1 || c.AutoUndone != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
	if c.RubberStamp != 1 {
		t.Errorf("expected 1 rubber stamp, got %d", c.RubberStamp)
	}
	if c.CleanApproved != 1 {
		t.Errorf("expected 1 clean approval, got %d", c.CleanApproved)
	}
	if agg.DaysActive != 8 {
		t.Errorf("expected 8 active days, got %d", agg.DaysActive)
	}
	if agg.FirstSignalAt == nil || agg.LastSignalAt == nil {
		t.Fatal("expected temporal bounds to be set")
	}
	if !agg.FirstSignalAt.Before(*agg.LastSignalAt) {
		t.Error("first signal should precede last signal")
	}
}

func TestRecomputeRates(t *testing.T) {
	signals := newestFirst([]Signal{
		makeSignal(KindApproved, 1, false),
		makeSignal(KindApproved, 2, true),
		makeSignal(KindApprovedEdited, 3, false),
		makeSignal(KindRejected, 4, false),
	})

	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, signals, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	wantRate := func(name string, got *float64, want float64) {
		t.Helper()
		if got == nil {
			t.Errorf("%s: expected %f, got nil", name, want)
			return
		}
		if math.Abs(*got-want) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", name, want, *got)
		}
	}

	wantRate("approval", agg.Rates.Approval, 3.0/4.0)
	wantRate("clean_approval", agg.Rates.CleanApproval, 1.0/4.0)
	wantRate("edit", agg.Rates.Edit, 1.0/3.0)
	wantRate("rejection", agg.Rates.Rejection, 1.0/4.0)
	wantRate("undo", agg.Rates.Undo, 0)
	wantRate("rubber_stamp", agg.Rates.RubberStamp, 1.0/4.0)
}

func TestRecomputeEmptyWindow(t *testing.T) {
	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, nil, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	if agg.Score != 0 {
		t.Errorf("expected score 0 for empty window, got %f", agg.Score)
	}
	if agg.Counts.Total != 0 {
		t.Errorf("expected total 0, got %d", agg.Counts.Total)
	}
	if agg.Rates.Approval != nil {
		t.Error("expected approval rate to be undefined for empty window")
	}
	if agg.Rates.Undo != nil {
		t.Error("expected undo rate to be undefined for empty window")
	}
	if agg.PromotionEligible {
		t.Error("empty window must not be promotion eligible")
	}
	if agg.FirstSignalAt != nil || agg.LastSignalAt != nil {
		t.Error("expected no temporal bounds for empty window")
	}
	if agg.CurrentTier != TierSuggest {
		t.Errorf("expected initial tier suggest, got %s", agg.CurrentTier)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	signals := newestFirst([]Signal{
		makeSignal(KindApproved, 1, false),
		makeSignal(KindApprovedEdited, 5, false),
		makeSignal(KindRejected, 20, false),
		makeSignal(KindUndone, 45, false),
	})
	key := Key{"user-1", "crm.note_add"}

	first, err := Recompute("org-test", key, signals, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("first Recompute failed: %v", err)
	}
	second, err := Recompute("org-test", key, signals, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("second Recompute failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("recompute is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestRecomputeCarriesTierState(t *testing.T) {
	signals := newestFirst([]Signal{makeSignal(KindApproved, 1, false)})
	until := testNow.Add(24 * time.Hour)
	prev := &TierState{
		CurrentTier:          TierAuto,
		CooldownUntil:        &until,
		NeverPromote:         true,
		ExtraRequiredSignals: 5,
	}

	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, signals, prev, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	if agg.CurrentTier != TierAuto {
		t.Errorf("expected carried tier auto, got %s", agg.CurrentTier)
	}
	if agg.CooldownUntil == nil || !agg.CooldownUntil.Equal(until) {
		t.Errorf("expected carried cooldown %v, got %v", until, agg.CooldownUntil)
	}
	if !agg.NeverPromote {
		t.Error("expected carried never_promote")
	}
	if agg.ExtraRequiredSignals != 5 {
		t.Errorf("expected carried extra_required_signals 5, got %d", agg.ExtraRequiredSignals)
	}
}

func TestWeightedScoreDecay(t *testing.T) {
	p := DefaultScoreParams()

	// The same rejection hurts less the older it gets.
	fresh := []Signal{makeSignal(KindApproved, 1, false), makeSignal(KindRejected, 1, false)}
	aged := []Signal{makeSignal(KindApproved, 1, false), makeSignal(KindRejected, 60, false)}

	freshScore := weightedScore(fresh, testNow, p.HalfLifeDays, p.DampeningFloor)
	agedScore := weightedScore(aged, testNow, p.HalfLifeDays, p.DampeningFloor)

	if agedScore <= freshScore {
		t.Errorf("aged rejection should hurt less: fresh=%f aged=%f", freshScore, agedScore)
	}
}

func TestWeightedScoreHalfLife(t *testing.T) {
	// A single signal's decayed contribution cancels in the ratio, so verify
	// the half-life through the decay math directly: at exactly one
	// half-life, 0.5^(30/30) = 0.5.
	decay := math.Pow(0.5, 30.0/30.0)
	if math.Abs(decay-0.5) > 1e-9 {
		t.Errorf("expected decay 0.5 at one half-life, got %f", decay)
	}
}

func TestWeightedScoreDampening(t *testing.T) {
	p := DefaultScoreParams()

	// One perfect approval is dampened to 1/10 of the rescaled score.
	one := []Signal{makeSignal(KindApproved, 0, false)}
	got := weightedScore(one, testNow, p.HalfLifeDays, p.DampeningFloor)
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("expected dampened score 0.1 for a single approval, got %f", got)
	}

	// Ten perfect approvals reach the full rescaled score.
	var ten []Signal
	for i := 0; i < 10; i++ {
		ten = append(ten, makeSignal(KindApproved, 0, false))
	}
	got = weightedScore(ten, testNow, p.HalfLifeDays, p.DampeningFloor)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected full score 1.0 for ten approvals, got %f", got)
	}

	// Dampening is monotone in sample size.
	var prev float64
	for n := 1; n <= 10; n++ {
		var window []Signal
		for i := 0; i < n; i++ {
			window = append(window, makeSignal(KindApproved, 0, false))
		}
		score := weightedScore(window, testNow, p.HalfLifeDays, p.DampeningFloor)
		if score < prev {
			t.Errorf("score decreased from %f to %f at n=%d", prev, score, n)
		}
		prev = score
	}
}

func TestWeightedScoreEmpty(t *testing.T) {
	p := DefaultScoreParams()
	if got := weightedScore(nil, testNow, p.HalfLifeDays, p.DampeningFloor); got != 0 {
		t.Errorf("expected 0 for empty window, got %f", got)
	}
}

func TestRecomputeLast30RestrictsWindow(t *testing.T) {
	// 30 recent approvals, 5 older undos. The full score sees the undos, the
	// recent-window score does not.
	var signals []Signal
	for i := 0; i < 30; i++ {
		signals = append(signals, makeSignal(KindApproved, float64(i)/10, false))
	}
	for i := 0; i < 5; i++ {
		signals = append(signals, makeSignal(KindUndone, 40+float64(i), false))
	}
	signals = newestFirst(signals)

	p := DefaultScoreParams()
	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, signals, nil, TierSuggest, testNow, p)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	if agg.Last30Score <= agg.Score {
		t.Errorf("recent-window score should beat the full score here: last30=%f full=%f", agg.Last30Score, agg.Score)
	}
	want := weightedScore(signals[:30], testNow, p.HalfLifeDays, p.DampeningFloor)
	if math.Abs(agg.Last30Score-want) > 1e-9 {
		t.Errorf("expected last30 %f, got %f", want, agg.Last30Score)
	}
}

func TestRecomputePromotionEligible(t *testing.T) {
	p := DefaultScoreParams()

	var signals []Signal
	for i := 0; i < 10; i++ {
		signals = append(signals, makeSignal(KindApproved, float64(i)/10, false))
	}
	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, newestFirst(signals), nil, TierSuggest, testNow, p)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if !agg.PromotionEligible {
		t.Errorf("10 fresh approvals should be eligible (score %f)", agg.Score)
	}

	// Nine signals stay below the signal floor no matter the score.
	agg, err = Recompute("org-test", Key{"user-1", "crm.note_add"}, newestFirst(signals[:9]), nil, TierSuggest, testNow, p)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if agg.PromotionEligible {
		t.Error("9 signals must not be eligible")
	}
}

func TestRubberStampExclusion(t *testing.T) {
	// Clean approval rate equals approval-only rate when nothing is rubber
	// stamped, and strictly drops when stamps appear.
	clean := newestFirst([]Signal{
		makeSignal(KindApproved, 1, false),
		makeSignal(KindApproved, 2, false),
	})
	agg, err := Recompute("org-test", Key{"user-1", "crm.note_add"}, clean, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if *agg.Rates.CleanApproval != 1.0 {
		t.Errorf("expected clean approval 1.0, got %f", *agg.Rates.CleanApproval)
	}

	stamped := newestFirst([]Signal{
		makeSignal(KindApproved, 1, false),
		makeSignal(KindApproved, 2, true),
	})
	agg, err = Recompute("org-test", Key{"user-1", "crm.note_add"}, stamped, nil, TierSuggest, testNow, DefaultScoreParams())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if *agg.Rates.CleanApproval != 0.5 {
		t.Errorf("expected clean approval 0.5, got %f", *agg.Rates.CleanApproval)
	}
	if *agg.Rates.Approval != 1.0 {
		t.Errorf("rubber stamps must not dent the plain approval rate, got %f", *agg.Rates.Approval)
	}
}

func TestRatio(t *testing.T) {
	if got := ratio(1, 0); got != nil {
		t.Errorf("expected nil for zero denominator, got %f", *got)
	}
	if got := ratio(0, 4); got == nil || *got != 0 {
		t.Error("expected defined zero rate for 0/4")
	}
	if got := ratio(3, 4); got == nil || *got != 0.75 {
		t.Error("expected 0.75 for 3/4")
	}
}

func TestCheckAggregateViolations(t *testing.T) {
	base := func() *ConfidenceAggregate {
		return &ConfidenceAggregate{
			UserID:     "user-1",
			ActionType: "crm.note_add",
			Counts:     SignalCounts{Total: 2, Approved: 2, CleanApproved: 2},
			Score:      0.5,
		}
	}

	tests := []struct {
		name      string
		mutate    func(*ConfidenceAggregate)
		window    int
		invariant string
	}{
		{
			name:      "total mismatch",
			mutate:    func(a *ConfidenceAggregate) {},
			window:    3,
			invariant: "total_matches_window",
		},
		{
			name:      "kind sum mismatch",
			mutate:    func(a *ConfidenceAggregate) { a.Counts.Approved = 1 },
			window:    2,
			invariant: "kind_counts_sum",
		},
		{
			name: "negative count",
			mutate: func(a *ConfidenceAggregate) {
				a.Counts.Approved = 3
				a.Counts.Rejected = -1
			},
			window:    2,
			invariant: "non_negative_counts",
		},
		{
			name:      "clean exceeds approved",
			mutate:    func(a *ConfidenceAggregate) { a.Counts.CleanApproved = 3 },
			window:    2,
			invariant: "clean_within_approved",
		},
		{
			name:      "score out of range",
			mutate:    func(a *ConfidenceAggregate) { a.Score = 1.5 },
			window:    2,
			invariant: "score_range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := base()
			tt.mutate(agg)
			err := checkAggregate(agg, tt.window)
			if err == nil {
				t.Fatal("expected a consistency error")
			}
			var ce *ConsistencyError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConsistencyError, got %T", err)
			}
			if ce.Invariant != tt.invariant {
				t.Errorf("expected invariant %q, got %q", tt.invariant, ce.Invariant)
			}
		})
	}

	if err := checkAggregate(base(), 2); err != nil {
		t.Errorf("valid aggregate rejected: %v", err)
	}
}
