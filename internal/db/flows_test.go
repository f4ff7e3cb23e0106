package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crewline/trustcore/internal/trust"
)

// End-to-end flows: the promotion engine over the real SQLite store, driven
// the way the HTTP layer drives it.

func newFlowEngine(t *testing.T) (*trust.Engine, trust.Store) {
	t.Helper()

	s := newTestStore(t)
	opts := trust.DefaultOptions()
	opts.Clock = func() time.Time { return testNow }

	eng, err := trust.NewEngine(s, opts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, err := eng.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}
	return eng, s
}

// drive records n signals of one kind spread over the preceding `days`
// distinct dates. A respond time of 5000ms stays above every catalog floor.
func drive(t *testing.T, eng *trust.Engine, userID, actionType string, kind trust.Kind, n, days int, respondMS int64) {
	t.Helper()

	for i := 0; i < n; i++ {
		day := i * days / n
		occurred := testNow.AddDate(0, 0, -(days - 1 - day)).Add(-6*time.Hour + time.Duration(i)*time.Minute)
		ms := respondMS
		in := trust.RecordSignalInput{
			OrgID:           "org-flow",
			UserID:          userID,
			ActionType:      actionType,
			AgentName:       "pipeline",
			Kind:            kind,
			TimeToRespondMS: &ms,
			OccurredAt:      &occurred,
		}
		if _, err := eng.RecordSignal(context.Background(), in); err != nil {
			t.Fatalf("RecordSignal %d failed: %v", i, err)
		}
	}
}

func TestTrustLifecyclePromotion(t *testing.T) {
	eng, _ := newFlowEngine(t)
	ctx := context.Background()

	// Ten days of consistent, unhurried approvals on a low-risk action.
	drive(t, eng, "rep-1", "crm.note_add", trust.KindApproved, 20, 10, 5000)

	agg, err := eng.GetConfidence(ctx, "rep-1", "crm.note_add")
	if err != nil {
		t.Fatalf("GetConfidence failed: %v", err)
	}
	if agg.CurrentTier != trust.TierSuggest {
		t.Fatalf("keys start at suggest, got %s", agg.CurrentTier)
	}
	if agg.Counts.Total != 20 || agg.Counts.CleanApproved != 20 {
		t.Fatalf("unexpected counts: %+v", agg.Counts)
	}
	if agg.DaysActive != 10 {
		t.Fatalf("expected 10 active days, got %d", agg.DaysActive)
	}
	if !agg.PromotionEligible {
		t.Fatal("expected the eligibility hint set")
	}

	// First rung: suggest -> approve against the platform defaults.
	d, err := eng.Evaluate(ctx, "rep-1", "crm.note_add")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Promoted || d.ToTier != trust.TierApprove {
		t.Fatalf("expected promotion to approve, got %+v", d)
	}

	// Second rung: approve -> auto.
	d, err = eng.Evaluate(ctx, "rep-1", "crm.note_add")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Promoted || d.ToTier != trust.TierAuto {
		t.Fatalf("expected promotion to auto, got %+v", d)
	}

	agg, err = eng.GetConfidence(ctx, "rep-1", "crm.note_add")
	if err != nil {
		t.Fatalf("GetConfidence failed: %v", err)
	}
	if agg.CurrentTier != trust.TierAuto {
		t.Errorf("expected tier auto persisted, got %s", agg.CurrentTier)
	}

	trs, err := eng.ListTransitions(ctx, trust.TransitionFilter{UserID: "rep-1"})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	// Newest first: the auto promotion leads.
	if trs[0].ToTier != trust.TierAuto || trs[1].ToTier != trust.TierApprove {
		t.Errorf("unexpected transition history: %+v", trs)
	}
}

func TestUndoRateBlocksPromotion(t *testing.T) {
	eng, s := newFlowEngine(t)
	ctx := context.Background()
	key := trust.Key{UserID: "rep-2", ActionType: "crm.note_add"}

	// One undone action inside twenty signals: a 5% undo rate, which the
	// approve->auto rung caps at 2%.
	drive(t, eng, "rep-2", "crm.note_add", trust.KindApproved, 17, 9, 5000)
	drive(t, eng, "rep-2", "crm.note_add", trust.KindUndone, 1, 1, 5000)
	drive(t, eng, "rep-2", "crm.note_add", trust.KindApproved, 2, 1, 5000)

	if err := s.UpdateTierState(ctx, key, trust.TierState{CurrentTier: trust.TierApprove}, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}

	d, err := eng.Evaluate(ctx, "rep-2", "crm.note_add")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Promoted {
		t.Fatal("a 5% undo rate must not reach auto")
	}
	undoBlocked := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "undo rate") {
			undoBlocked = true
		}
	}
	if !undoBlocked {
		t.Errorf("expected the undo rate among the reasons, got %v", d.Reasons)
	}

	agg, _ := eng.GetConfidence(ctx, "rep-2", "crm.note_add")
	if agg.Rates.Undo == nil || *agg.Rates.Undo != 0.05 {
		t.Errorf("expected undo rate 0.05, got %v", agg.Rates.Undo)
	}
	if agg.CurrentTier != trust.TierApprove {
		t.Errorf("a blocked evaluation must not move the tier, got %s", agg.CurrentTier)
	}
}

func TestRubberStampsBlockPromotion(t *testing.T) {
	eng, s := newFlowEngine(t)
	ctx := context.Background()
	key := trust.Key{UserID: "rep-3", ActionType: "crm.note_add"}

	// Twenty approvals, every one faster than the 2000ms floor. Volume looks
	// great; none of it is evidence of review.
	drive(t, eng, "rep-3", "crm.note_add", trust.KindApproved, 20, 10, 500)

	agg, err := eng.GetConfidence(ctx, "rep-3", "crm.note_add")
	if err != nil {
		t.Fatalf("GetConfidence failed: %v", err)
	}
	if agg.Counts.RubberStamp != 20 {
		t.Fatalf("expected all 20 stamped, got %d", agg.Counts.RubberStamp)
	}
	if agg.Counts.CleanApproved != 0 {
		t.Fatalf("stamped approvals are not clean, got %d", agg.Counts.CleanApproved)
	}
	if agg.Rates.CleanApproval == nil || *agg.Rates.CleanApproval != 0 {
		t.Fatalf("expected clean approval rate 0, got %v", agg.Rates.CleanApproval)
	}

	if err := s.UpdateTierState(ctx, key, trust.TierState{CurrentTier: trust.TierApprove}, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}

	d, err := eng.Evaluate(ctx, "rep-3", "crm.note_add")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Promoted {
		t.Fatal("stamped approvals must never earn auto")
	}
	cleanBlocked := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "clean approval rate") {
			cleanBlocked = true
		}
	}
	if !cleanBlocked {
		t.Errorf("expected the clean approval rate among the reasons, got %v", d.Reasons)
	}
}

func TestAutoTierUndoDemotesAndCoolsDown(t *testing.T) {
	eng, s := newFlowEngine(t)
	ctx := context.Background()
	key := trust.Key{UserID: "rep-4", ActionType: "email.send"}

	drive(t, eng, "rep-4", "email.send", trust.KindApproved, 10, 5, 6000)
	if err := s.UpdateTierState(ctx, key, trust.TierState{CurrentTier: trust.TierAuto}, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}

	receipt, err := eng.RecordSignal(ctx, trust.RecordSignalInput{
		OrgID:      "org-flow",
		UserID:     "rep-4",
		ActionType: "email.send",
		AgentName:  "pipeline",
		Kind:       trust.KindUndone,
	})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	if !receipt.Demoted {
		t.Fatal("an undo at tier auto must demote on the write path")
	}

	agg, err := eng.GetConfidence(ctx, "rep-4", "email.send")
	if err != nil {
		t.Fatalf("GetConfidence failed: %v", err)
	}
	if agg.CurrentTier != trust.TierApprove {
		t.Errorf("expected tier approve after demotion, got %s", agg.CurrentTier)
	}
	if agg.CooldownUntil == nil || !agg.CooldownUntil.After(testNow) {
		t.Errorf("expected an active cooldown, got %v", agg.CooldownUntil)
	}

	// The cooldown blocks re-promotion until it elapses.
	d, err := eng.Evaluate(ctx, "rep-4", "email.send")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Promoted {
		t.Fatal("cooldown must block")
	}
	if len(d.Reasons) != 1 || !strings.Contains(d.Reasons[0], "cooldown") {
		t.Errorf("expected the cooldown reason, got %v", d.Reasons)
	}
}
