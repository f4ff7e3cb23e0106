package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/trustcore/internal/trust"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) trust.Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trust.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSignal(userID, actionType string, kind trust.Kind, createdAt time.Time) *trust.Signal {
	ms := int64(4200)
	return &trust.Signal{
		ID:              uuid.New().String(),
		OrgID:           "org-1",
		UserID:          userID,
		ActionType:      actionType,
		AgentName:       "pipeline",
		Kind:            kind,
		TimeToRespondMS: &ms,
		TierAtTime:      trust.TierSuggest,
		CreatedAt:       createdAt,
	}
}

// appendSignal drives the same recompute closure the engine uses.
func appendSignal(t *testing.T, s trust.Store, sig *trust.Signal) *trust.ConfidenceAggregate {
	t.Helper()
	since := testNow.AddDate(0, 0, -90)
	agg, err := s.AppendAndRecompute(context.Background(), sig, since, func(window []trust.Signal, prev *trust.TierState) (*trust.ConfidenceAggregate, error) {
		return trust.Recompute(sig.OrgID, sig.Key(), window, prev, trust.TierSuggest, testNow, trust.DefaultScoreParams())
	})
	if err != nil {
		t.Fatalf("AppendAndRecompute failed: %v", err)
	}
	return agg
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.db")

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if err := s2.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// ─── Signal log ──────────────────────────────────────────────────────────────

func TestSignalRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "email.draft"}

	dist := 0.4
	conf := 0.55
	sig := sampleSignal("user-1", "email.draft", trust.KindApprovedEdited, testNow.Add(-time.Hour))
	sig.EditDistance = &dist
	sig.EditFields = []string{"subject", "body"}
	sig.ConfidenceAtProposal = &conf
	sig.TierAtTime = trust.TierApprove
	sig.EntityRefs = []trust.EntityRef{{Kind: "contact", ID: "c-9"}}
	sig.IsBackfill = true
	appendSignal(t, s, sig)

	bare := sampleSignal("user-1", "email.draft", trust.KindApproved, testNow.Add(-30*time.Minute))
	bare.TimeToRespondMS = nil
	appendSignal(t, s, bare)

	got, err := s.RecentSignals(ctx, key, 10)
	if err != nil {
		t.Fatalf("RecentSignals failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(got))
	}

	// Newest first: the bare signal leads.
	if got[0].ID != bare.ID {
		t.Errorf("expected newest signal first, got %s", got[0].ID)
	}
	if got[0].EditDistance != nil || got[0].TimeToRespondMS != nil || got[0].ConfidenceAtProposal != nil {
		t.Error("nullable fields must come back nil")
	}

	full := got[1]
	if full.ID != sig.ID || full.OrgID != "org-1" || full.AgentName != "pipeline" {
		t.Errorf("identity fields mangled: %+v", full)
	}
	if full.Kind != trust.KindApprovedEdited || full.TierAtTime != trust.TierApprove {
		t.Errorf("enum fields mangled: kind=%s tier=%s", full.Kind, full.TierAtTime)
	}
	if full.EditDistance == nil || *full.EditDistance != 0.4 {
		t.Errorf("expected edit distance 0.4, got %v", full.EditDistance)
	}
	if len(full.EditFields) != 2 || full.EditFields[0] != "subject" {
		t.Errorf("expected edit fields round trip, got %v", full.EditFields)
	}
	if full.TimeToRespondMS == nil || *full.TimeToRespondMS != 4200 {
		t.Errorf("expected respond time 4200, got %v", full.TimeToRespondMS)
	}
	if full.ConfidenceAtProposal == nil || *full.ConfidenceAtProposal != 0.55 {
		t.Errorf("expected confidence 0.55, got %v", full.ConfidenceAtProposal)
	}
	if len(full.EntityRefs) != 1 || full.EntityRefs[0].ID != "c-9" {
		t.Errorf("expected entity refs round trip, got %v", full.EntityRefs)
	}
	if !full.IsBackfill {
		t.Error("expected backfill flag preserved")
	}
	if !full.CreatedAt.Equal(sig.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", sig.CreatedAt, full.CreatedAt)
	}
}

func TestAppendWindowFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	key := trust.Key{UserID: "user-1", ActionType: "crm.note_add"}
	since := testNow.AddDate(0, 0, -90)

	var captured []trust.Signal
	capture := func(window []trust.Signal, prev *trust.TierState) (*trust.ConfidenceAggregate, error) {
		captured = window
		return trust.Recompute("org-1", key, window, prev, trust.TierSuggest, testNow, trust.DefaultScoreParams())
	}

	record := func(daysAgo int) {
		t.Helper()
		sig := sampleSignal("user-1", "crm.note_add", trust.KindApproved, testNow.AddDate(0, 0, -daysAgo))
		if _, err := s.AppendAndRecompute(context.Background(), sig, since, capture); err != nil {
			t.Fatalf("AppendAndRecompute failed: %v", err)
		}
	}

	// Older than the lookback: stored, never in the window.
	record(100)
	if len(captured) != 0 {
		t.Fatalf("a signal older than the lookback must not enter the window, got %d", len(captured))
	}

	record(5)
	if len(captured) != 1 {
		t.Fatalf("expected a single-entry window, got %d", len(captured))
	}

	record(1)
	if len(captured) != 2 {
		t.Fatalf("expected a two-entry window, got %d", len(captured))
	}
	if !captured[0].CreatedAt.After(captured[1].CreatedAt) {
		t.Error("the window must be ordered newest first")
	}
}

func TestAppendRollsBackOnRecomputeError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "crm.note_add"}

	sig := sampleSignal("user-1", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour))
	boom := errors.New("boom")
	_, err := s.AppendAndRecompute(ctx, sig, testNow.AddDate(0, 0, -90), func([]trust.Signal, *trust.TierState) (*trust.ConfidenceAggregate, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the recompute error surfaced, got %v", err)
	}

	got, err := s.RecentSignals(ctx, key, 10)
	if err != nil {
		t.Fatalf("RecentSignals failed: %v", err)
	}
	if len(got) != 0 {
		t.Error("a failed recompute must roll back the signal insert")
	}
	if _, err := s.GetAggregate(ctx, key); !errors.Is(err, trust.ErrAggregateNotFound) {
		t.Errorf("expected no aggregate written, got %v", err)
	}
}

// ─── Aggregates and tier state ───────────────────────────────────────────────

func TestTierStateSurvivesRecompute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "email.send"}

	appendSignal(t, s, sampleSignal("user-1", "email.send", trust.KindApproved, testNow.Add(-2*time.Hour)))

	until := testNow.Add(72 * time.Hour)
	state := trust.TierState{
		CurrentTier:          trust.TierApprove,
		CooldownUntil:        &until,
		NeverPromote:         true,
		ExtraRequiredSignals: 3,
	}
	if err := s.UpdateTierState(ctx, key, state, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}

	agg := appendSignal(t, s, sampleSignal("user-1", "email.send", trust.KindApproved, testNow.Add(-time.Hour)))

	if agg.CurrentTier != trust.TierApprove {
		t.Errorf("recompute must not move the tier, got %s", agg.CurrentTier)
	}
	if agg.CooldownUntil == nil || !agg.CooldownUntil.Equal(until) {
		t.Errorf("recompute must not clear the cooldown, got %v", agg.CooldownUntil)
	}
	if !agg.NeverPromote || agg.ExtraRequiredSignals != 3 {
		t.Errorf("recompute must not touch key controls: %+v", agg.TierState)
	}
	if agg.Counts.Total != 2 {
		t.Errorf("expected both signals counted, got %d", agg.Counts.Total)
	}

	stored, err := s.GetAggregate(ctx, key)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if stored.CurrentTier != trust.TierApprove || !stored.NeverPromote {
		t.Errorf("stored tier state mangled: %+v", stored.TierState)
	}
}

func TestGetAggregateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAggregate(context.Background(), trust.Key{UserID: "ghost", ActionType: "email.send"})
	if !errors.Is(err, trust.ErrAggregateNotFound) {
		t.Errorf("expected ErrAggregateNotFound, got %v", err)
	}
}

func TestBumpRubberStamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "crm.note_add"}

	applied, err := s.BumpRubberStamp(ctx, key)
	if err != nil {
		t.Fatalf("BumpRubberStamp failed: %v", err)
	}
	if applied {
		t.Error("no aggregate row yet, nothing to bump")
	}

	appendSignal(t, s, sampleSignal("user-1", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour)))

	applied, err = s.BumpRubberStamp(ctx, key)
	if err != nil {
		t.Fatalf("BumpRubberStamp failed: %v", err)
	}
	if !applied {
		t.Error("expected the bump applied")
	}

	agg, err := s.GetAggregate(ctx, key)
	if err != nil {
		t.Fatalf("GetAggregate failed: %v", err)
	}
	if agg.Counts.RubberStamp != 1 {
		t.Errorf("expected rubber stamp count 1, got %d", agg.Counts.RubberStamp)
	}
}

func TestUpdateTierStateMissingKey(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTierState(context.Background(), trust.Key{UserID: "ghost", ActionType: "email.send"}, trust.TierState{CurrentTier: trust.TierApprove}, nil)
	if !errors.Is(err, trust.ErrAggregateNotFound) {
		t.Errorf("expected ErrAggregateNotFound, got %v", err)
	}
}

func TestSetKeyControlsPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "email.send"}

	appendSignal(t, s, sampleSignal("user-1", "email.send", trust.KindApproved, testNow.Add(-time.Hour)))

	hold := true
	if err := s.SetKeyControls(ctx, key, &hold, nil); err != nil {
		t.Fatalf("SetKeyControls failed: %v", err)
	}
	agg, _ := s.GetAggregate(ctx, key)
	if !agg.NeverPromote || agg.ExtraRequiredSignals != 0 {
		t.Errorf("expected only never_promote set: %+v", agg.TierState)
	}

	extra := 7
	if err := s.SetKeyControls(ctx, key, nil, &extra); err != nil {
		t.Fatalf("SetKeyControls failed: %v", err)
	}
	agg, _ = s.GetAggregate(ctx, key)
	if !agg.NeverPromote || agg.ExtraRequiredSignals != 7 {
		t.Errorf("expected extra_required_signals added: %+v", agg.TierState)
	}

	if err := s.SetKeyControls(ctx, trust.Key{UserID: "ghost", ActionType: "email.send"}, &hold, nil); !errors.Is(err, trust.ErrAggregateNotFound) {
		t.Errorf("expected ErrAggregateNotFound, got %v", err)
	}
}

// ─── Sweep candidates ────────────────────────────────────────────────────────

func TestSweepCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed := func(userID string, n int) {
		for i := 0; i < n; i++ {
			appendSignal(t, s, sampleSignal(userID, "crm.note_add", trust.KindApproved, testNow.Add(-time.Duration(i+1)*time.Hour)))
		}
	}
	feed("user-fresh", 5)
	feed("user-cooling", 5)
	feed("user-thin", 2)
	feed("user-seen", 5)

	future := testNow.Add(time.Hour)
	if err := s.UpdateTierState(ctx, trust.Key{UserID: "user-cooling", ActionType: "crm.note_add"}, trust.TierState{CurrentTier: trust.TierApprove, CooldownUntil: &future}, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}
	if err := s.MarkEvaluated(ctx, trust.Key{UserID: "user-seen", ActionType: "crm.note_add"}, testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("MarkEvaluated failed: %v", err)
	}

	keys, err := s.SweepCandidates(ctx, testNow, 5, 10)
	if err != nil {
		t.Fatalf("SweepCandidates failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %v", len(keys), keys)
	}
	// Never-evaluated keys come first, then stalest checkpoint.
	if keys[0].UserID != "user-fresh" || keys[1].UserID != "user-seen" {
		t.Errorf("unexpected candidate order: %v", keys)
	}

	// An elapsed cooldown stops excluding the key.
	past := testNow.Add(-time.Minute)
	if err := s.UpdateTierState(ctx, trust.Key{UserID: "user-cooling", ActionType: "crm.note_add"}, trust.TierState{CurrentTier: trust.TierApprove, CooldownUntil: &past}, nil); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}
	keys, err = s.SweepCandidates(ctx, testNow, 5, 10)
	if err != nil {
		t.Fatalf("SweepCandidates failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 candidates after the cooldown elapsed, got %d", len(keys))
	}

	keys, err = s.SweepCandidates(ctx, testNow, 5, 1)
	if err != nil {
		t.Fatalf("SweepCandidates failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("expected the limit applied, got %d keys", len(keys))
	}
}

// ─── Transitions ─────────────────────────────────────────────────────────────

func TestTransitionsRecordedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendSignal(t, s, sampleSignal("user-1", "crm.note_add", trust.KindApproved, testNow.Add(-3*time.Hour)))
	appendSignal(t, s, sampleSignal("user-2", "email.send", trust.KindApproved, testNow.Add(-3*time.Hour)))

	promote := &trust.TierTransition{
		OrgID:      "org-1",
		UserID:     "user-1",
		ActionType: "crm.note_add",
		FromTier:   trust.TierSuggest,
		ToTier:     trust.TierApprove,
		Direction:  trust.DirectionPromotion,
		Reason:     "all promotion thresholds met",
		Score:      0.91,
		CreatedAt:  testNow.Add(-2 * time.Hour),
	}
	if err := s.UpdateTierState(ctx, trust.Key{UserID: "user-1", ActionType: "crm.note_add"}, trust.TierState{CurrentTier: trust.TierApprove}, promote); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}
	if promote.ID == "" {
		t.Error("expected a transition id assigned")
	}

	demote := &trust.TierTransition{
		OrgID:      "org-1",
		UserID:     "user-2",
		ActionType: "email.send",
		FromTier:   trust.TierAuto,
		ToTier:     trust.TierApprove,
		Direction:  trust.DirectionDemotion,
		Reason:     "signal undone at tier auto",
		Score:      0.42,
		CreatedAt:  testNow.Add(-time.Hour),
	}
	if err := s.UpdateTierState(ctx, trust.Key{UserID: "user-2", ActionType: "email.send"}, trust.TierState{CurrentTier: trust.TierApprove}, demote); err != nil {
		t.Fatalf("UpdateTierState failed: %v", err)
	}

	all, err := s.ListTransitions(ctx, trust.TransitionFilter{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(all))
	}
	if all[0].Direction != trust.DirectionDemotion {
		t.Error("expected newest transition first")
	}

	mine, err := s.ListTransitions(ctx, trust.TransitionFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(mine) != 1 || mine[0].ToTier != trust.TierApprove || mine[0].Direction != trust.DirectionPromotion {
		t.Errorf("unexpected filtered result: %+v", mine)
	}
	if mine[0].Reason != "all promotion thresholds met" || mine[0].Score != 0.91 {
		t.Errorf("transition fields mangled: %+v", mine[0])
	}

	limited, err := s.ListTransitions(ctx, trust.TransitionFilter{OrgID: "org-1", Limit: 1})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected the limit applied, got %d", len(limited))
	}
}

func TestTransitionsSameInstantStayNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := trust.Key{UserID: "user-1", ActionType: "crm.note_add"}

	appendSignal(t, s, sampleSignal("user-1", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour)))

	// Two transitions in one clock tick, e.g. a sweep promoting through
	// consecutive evaluations under an injected clock.
	steps := []struct {
		from, to trust.Tier
	}{
		{trust.TierSuggest, trust.TierApprove},
		{trust.TierApprove, trust.TierAuto},
	}
	for _, st := range steps {
		tr := &trust.TierTransition{
			OrgID:      "org-1",
			UserID:     key.UserID,
			ActionType: key.ActionType,
			FromTier:   st.from,
			ToTier:     st.to,
			Direction:  trust.DirectionPromotion,
			Reason:     "all promotion thresholds met",
			Score:      0.95,
			CreatedAt:  testNow,
		}
		if err := s.UpdateTierState(ctx, key, trust.TierState{CurrentTier: st.to}, tr); err != nil {
			t.Fatalf("UpdateTierState failed: %v", err)
		}
	}

	trs, err := s.ListTransitions(ctx, trust.TransitionFilter{UserID: key.UserID})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if trs[0].ToTier != trust.TierAuto || trs[1].ToTier != trust.TierApprove {
		t.Errorf("same-timestamp transitions out of order: %+v", trs)
	}
}

// ─── Policies ────────────────────────────────────────────────────────────────

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &trust.ThresholdPolicy{
		OrgID:                "org-1",
		ActionType:           "email.send",
		FromTier:             trust.TierApprove,
		ToTier:               trust.TierAuto,
		MinSignals:           25,
		MinCleanApprovalRate: 0.95,
		MaxRejectionRate:     0.03,
		MaxUndoRate:          0.01,
		MinDaysActive:        14,
		MinConfidenceScore:   0.80,
		LastNClean:           15,
		Enabled:              true,
		CreatedAt:            testNow,
		UpdatedAt:            testNow,
	}
	if err := s.UpsertPolicy(ctx, p); err != nil {
		t.Fatalf("UpsertPolicy failed: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected an id assigned on insert")
	}

	got, err := s.GetPolicy(ctx, "org-1", "email.send", trust.TierApprove, trust.TierAuto)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if got.ID != p.ID || got.MinSignals != 25 || got.MinCleanApprovalRate != 0.95 || got.LastNClean != 15 {
		t.Errorf("policy fields mangled: %+v", got)
	}
	if !got.Enabled || got.NeverPromote {
		t.Errorf("flag fields mangled: %+v", got)
	}

	// Upserting the same transition updates in place and keeps the row id.
	update := *p
	update.ID = ""
	update.MinSignals = 40
	update.Enabled = false
	if err := s.UpsertPolicy(ctx, &update); err != nil {
		t.Fatalf("second UpsertPolicy failed: %v", err)
	}
	got, err = s.GetPolicy(ctx, "org-1", "email.send", trust.TierApprove, trust.TierAuto)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if got.MinSignals != 40 || got.Enabled {
		t.Errorf("expected the update applied: %+v", got)
	}
	if got.ID != p.ID {
		t.Errorf("conflict update must keep the original id, got %s", got.ID)
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPolicy(context.Background(), "", "email.send", trust.TierApprove, trust.TierAuto)
	if !errors.Is(err, trust.ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestSeedPoliciesPreservesEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	defaults := trust.DefaultPolicies(trust.DefaultCatalog(), testNow)
	n, err := s.SeedPolicies(ctx, defaults)
	if err != nil {
		t.Fatalf("SeedPolicies failed: %v", err)
	}
	if n != len(defaults) {
		t.Errorf("expected %d rows seeded, got %d", len(defaults), n)
	}

	// Operator tightens one platform row.
	row, err := s.GetPolicy(ctx, "", "crm.note_add", trust.TierApprove, trust.TierAuto)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	row.MinSignals = 99
	if err := s.UpsertPolicy(ctx, row); err != nil {
		t.Fatalf("UpsertPolicy failed: %v", err)
	}

	// Reseeding inserts nothing and leaves the edit alone.
	n, err = s.SeedPolicies(ctx, trust.DefaultPolicies(trust.DefaultCatalog(), testNow))
	if err != nil {
		t.Fatalf("reseed failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing inserted on reseed, got %d", n)
	}
	row, err = s.GetPolicy(ctx, "", "crm.note_add", trust.TierApprove, trust.TierAuto)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if row.MinSignals != 99 {
		t.Errorf("reseed must not clobber operator edits, got min_signals=%d", row.MinSignals)
	}

	list, err := s.ListPolicies(ctx, "", "crm.note_add")
	if err != nil {
		t.Fatalf("ListPolicies failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected the three crm.note_add transitions, got %d", len(list))
	}
}

// ─── Org views ───────────────────────────────────────────────────────────────

func TestListAggregatesByOrg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendSignal(t, s, sampleSignal("user-b", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour)))
	appendSignal(t, s, sampleSignal("user-a", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour)))

	other := sampleSignal("user-z", "crm.note_add", trust.KindApproved, testNow.Add(-time.Hour))
	other.OrgID = "org-2"
	_, err := s.AppendAndRecompute(ctx, other, testNow.AddDate(0, 0, -90), func(window []trust.Signal, prev *trust.TierState) (*trust.ConfidenceAggregate, error) {
		return trust.Recompute("org-2", other.Key(), window, prev, trust.TierSuggest, testNow, trust.DefaultScoreParams())
	})
	if err != nil {
		t.Fatalf("AppendAndRecompute failed: %v", err)
	}

	aggs, err := s.ListAggregatesByOrg(ctx, "org-1", "crm.note_add")
	if err != nil {
		t.Fatalf("ListAggregatesByOrg failed: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
	if aggs[0].UserID != "user-a" || aggs[1].UserID != "user-b" {
		t.Errorf("expected user ordering, got %s then %s", aggs[0].UserID, aggs[1].UserID)
	}
}
