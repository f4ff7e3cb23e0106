package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/crewline/trustcore/internal/trust"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS signals (
    id                     TEXT PRIMARY KEY,
    org_id                 TEXT NOT NULL,
    user_id                TEXT NOT NULL,
    action_type            TEXT NOT NULL,
    agent_name             TEXT NOT NULL DEFAULT '',
    kind                   TEXT NOT NULL,
    edit_distance          REAL,
    edit_fields            TEXT NOT NULL DEFAULT '[]',
    time_to_respond_ms     INTEGER,
    rubber_stamp           INTEGER NOT NULL DEFAULT 0,
    confidence_at_proposal REAL,
    tier_at_time           TEXT NOT NULL DEFAULT '',
    entity_refs            TEXT NOT NULL DEFAULT '[]',
    is_backfill            INTEGER NOT NULL DEFAULT 0,
    created_at             DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_key_created ON signals(user_id, action_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_org_created ON signals(org_id, created_at DESC);

CREATE TABLE IF NOT EXISTS confidence_aggregates (
    user_id                TEXT NOT NULL,
    action_type            TEXT NOT NULL,
    org_id                 TEXT NOT NULL DEFAULT '',
    score                  REAL NOT NULL DEFAULT 0.0,
    last_30_score          REAL NOT NULL DEFAULT 0.0,
    total_signals          INTEGER NOT NULL DEFAULT 0,
    approved_count         INTEGER NOT NULL DEFAULT 0,
    approved_edited_count  INTEGER NOT NULL DEFAULT 0,
    rejected_count         INTEGER NOT NULL DEFAULT 0,
    expired_count          INTEGER NOT NULL DEFAULT 0,
    undone_count           INTEGER NOT NULL DEFAULT 0,
    auto_executed_count    INTEGER NOT NULL DEFAULT 0,
    auto_undone_count      INTEGER NOT NULL DEFAULT 0,
    rubber_stamp_count     INTEGER NOT NULL DEFAULT 0,
    clean_approved_count   INTEGER NOT NULL DEFAULT 0,
    approval_rate          REAL,
    clean_approval_rate    REAL,
    edit_rate              REAL,
    rejection_rate         REAL,
    undo_rate              REAL,
    rubber_stamp_rate      REAL,
    first_signal_at        DATETIME,
    last_signal_at         DATETIME,
    days_active            INTEGER NOT NULL DEFAULT 0,
    promotion_eligible     INTEGER NOT NULL DEFAULT 0,
    current_tier           TEXT NOT NULL DEFAULT 'suggest',
    cooldown_until         DATETIME,
    never_promote          INTEGER NOT NULL DEFAULT 0,
    extra_required_signals INTEGER NOT NULL DEFAULT 0,
    recomputed_at          DATETIME NOT NULL,
    last_evaluated_at      DATETIME,
    PRIMARY KEY (user_id, action_type)
);
CREATE INDEX IF NOT EXISTS idx_aggregates_org_action ON confidence_aggregates(org_id, action_type);
CREATE INDEX IF NOT EXISTS idx_aggregates_sweep ON confidence_aggregates(last_evaluated_at);

CREATE TABLE IF NOT EXISTS threshold_policies (
    id                      TEXT PRIMARY KEY,
    org_id                  TEXT NOT NULL DEFAULT '',
    action_type             TEXT NOT NULL,
    from_tier               TEXT NOT NULL,
    to_tier                 TEXT NOT NULL,
    min_signals             INTEGER NOT NULL DEFAULT 0,
    min_clean_approval_rate REAL NOT NULL DEFAULT 0.0,
    max_rejection_rate      REAL NOT NULL DEFAULT 1.0,
    max_undo_rate           REAL NOT NULL DEFAULT 1.0,
    min_days_active         INTEGER NOT NULL DEFAULT 0,
    min_confidence_score    REAL NOT NULL DEFAULT 0.0,
    last_n_clean            INTEGER NOT NULL DEFAULT 0,
    enabled                 INTEGER NOT NULL DEFAULT 1,
    never_promote           INTEGER NOT NULL DEFAULT 0,
    created_at              DATETIME NOT NULL,
    updated_at              DATETIME NOT NULL,
    UNIQUE (org_id, action_type, from_tier, to_tier)
);
CREATE INDEX IF NOT EXISTS idx_policies_action ON threshold_policies(action_type, from_tier, to_tier);

CREATE TABLE IF NOT EXISTS tier_transitions (
    id          TEXT PRIMARY KEY,
    org_id      TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL,
    action_type TEXT NOT NULL,
    from_tier   TEXT NOT NULL,
    to_tier     TEXT NOT NULL,
    direction   TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    score       REAL NOT NULL DEFAULT 0.0,
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_key ON tier_transitions(user_id, action_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transitions_org ON tier_transitions(org_id, created_at DESC);
`,
	},
}

// Busy retry budget for write contention on hot keys. WAL allows one writer;
// bursty arrival on the same key is expected and absorbed here instead of
// being surfaced to callers.
const (
	busyRetryAttempts = 5
	busyRetryBaseWait = 10 * time.Millisecond
)

// sqliteStore is the SQLite-backed implementation of trust.Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (trust.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withRetry runs op, retrying with exponential backoff while SQLite reports
// busy/locked. After the budget is spent the error surfaces wrapped in
// trust.ErrContention so callers can tell contention from real failures.
func (s *sqliteStore) withRetry(ctx context.Context, op func() error) error {
	wait := busyRetryBaseWait
	var err error
	for attempt := 0; attempt <= busyRetryAttempts; attempt++ {
		err = op()
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("%w: %v", trust.ErrContention, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// ─── Signal log ───────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAndRecompute(ctx context.Context, sig *trust.Signal, since time.Time, recompute trust.RecomputeFunc) (*trust.ConfidenceAggregate, error) {
	var agg *trust.ConfidenceAggregate
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		editFields, err := json.Marshal(sig.EditFields)
		if err != nil {
			return fmt.Errorf("marshal edit_fields: %w", err)
		}
		entityRefs, err := json.Marshal(sig.EntityRefs)
		if err != nil {
			return fmt.Errorf("marshal entity_refs: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
        INSERT INTO signals(id, org_id, user_id, action_type, agent_name, kind,
            edit_distance, edit_fields, time_to_respond_ms, rubber_stamp,
            confidence_at_proposal, tier_at_time, entity_refs, is_backfill, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
			sig.ID, sig.OrgID, sig.UserID, sig.ActionType, sig.AgentName, string(sig.Kind),
			nullFloat(sig.EditDistance), string(editFields), nullInt(sig.TimeToRespondMS), boolToInt(sig.RubberStamp),
			nullFloat(sig.ConfidenceAtProposal), string(sig.TierAtTime), string(entityRefs), boolToInt(sig.IsBackfill),
			sig.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}

		prev, err := scanTierState(tx.QueryRowContext(ctx, `
        SELECT current_tier, cooldown_until, never_promote, extra_required_signals
        FROM confidence_aggregates WHERE user_id=? AND action_type=?
    `, sig.UserID, sig.ActionType))
		if err != nil {
			return fmt.Errorf("read tier state: %w", err)
		}

		window, err := querySignalsTx(ctx, tx, sig.UserID, sig.ActionType, since)
		if err != nil {
			return fmt.Errorf("query signal window: %w", err)
		}

		fresh, err := recompute(window, prev)
		if err != nil {
			return err
		}

		if err := upsertAggregateTx(ctx, tx, fresh); err != nil {
			return fmt.Errorf("upsert aggregate: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		agg = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (s *sqliteStore) RecentSignals(ctx context.Context, key trust.Key, n int) ([]trust.Signal, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, signalColumns+`
        FROM signals WHERE user_id=? AND action_type=?
        ORDER BY created_at DESC, id DESC LIMIT ?
    `, key.UserID, key.ActionType, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignals(rows)
}

const signalColumns = `SELECT id, org_id, user_id, action_type, agent_name, kind,
        edit_distance, edit_fields, time_to_respond_ms, rubber_stamp,
        confidence_at_proposal, tier_at_time, entity_refs, is_backfill, created_at`

func querySignalsTx(ctx context.Context, tx *sql.Tx, userID, actionType string, since time.Time) ([]trust.Signal, error) {
	rows, err := tx.QueryContext(ctx, signalColumns+`
        FROM signals WHERE user_id=? AND action_type=? AND created_at >= ?
        ORDER BY created_at DESC, id DESC
    `, userID, actionType, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignals(rows)
}

func collectSignals(rows *sql.Rows) ([]trust.Signal, error) {
	var result []trust.Signal
	for rows.Next() {
		var (
			sig        trust.Signal
			kind       string
			tierAtTime string
			editDist   sql.NullFloat64
			editFields string
			ttr        sql.NullInt64
			rubber     int
			confAt     sql.NullFloat64
			entityRefs string
			backfill   int
			createdAt  string
		)
		if err := rows.Scan(&sig.ID, &sig.OrgID, &sig.UserID, &sig.ActionType, &sig.AgentName, &kind,
			&editDist, &editFields, &ttr, &rubber,
			&confAt, &tierAtTime, &entityRefs, &backfill, &createdAt); err != nil {
			return nil, err
		}
		sig.Kind = trust.Kind(kind)
		sig.TierAtTime = trust.Tier(tierAtTime)
		sig.EditDistance = floatPtr(editDist)
		sig.TimeToRespondMS = intPtr(ttr)
		sig.RubberStamp = rubber != 0
		sig.ConfidenceAtProposal = floatPtr(confAt)
		sig.IsBackfill = backfill != 0
		if editFields != "" {
			if err := json.Unmarshal([]byte(editFields), &sig.EditFields); err != nil {
				return nil, fmt.Errorf("unmarshal edit_fields: %w", err)
			}
		}
		if entityRefs != "" {
			if err := json.Unmarshal([]byte(entityRefs), &sig.EntityRefs); err != nil {
				return nil, fmt.Errorf("unmarshal entity_refs: %w", err)
			}
		}
		sig.CreatedAt, _ = parseTime(createdAt)
		result = append(result, sig)
	}
	return result, rows.Err()
}

// ─── Confidence aggregates ───────────────────────────────────────────────────

const aggregateColumns = `SELECT user_id, action_type, org_id, score, last_30_score,
        total_signals, approved_count, approved_edited_count, rejected_count, expired_count,
        undone_count, auto_executed_count, auto_undone_count, rubber_stamp_count, clean_approved_count,
        approval_rate, clean_approval_rate, edit_rate, rejection_rate, undo_rate, rubber_stamp_rate,
        first_signal_at, last_signal_at, days_active, promotion_eligible,
        current_tier, cooldown_until, never_promote, extra_required_signals,
        recomputed_at, last_evaluated_at`

func (s *sqliteStore) GetAggregate(ctx context.Context, key trust.Key) (*trust.ConfidenceAggregate, error) {
	row := s.db.QueryRowContext(ctx, aggregateColumns+`
        FROM confidence_aggregates WHERE user_id=? AND action_type=?
    `, key.UserID, key.ActionType)
	agg, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return nil, trust.ErrAggregateNotFound
	}
	return agg, err
}

func (s *sqliteStore) BumpRubberStamp(ctx context.Context, key trust.Key) (bool, error) {
	var applied bool
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
        UPDATE confidence_aggregates SET rubber_stamp_count = rubber_stamp_count + 1
        WHERE user_id=? AND action_type=?
    `, key.UserID, key.ActionType)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

func (s *sqliteStore) ListAggregatesByOrg(ctx context.Context, orgID, actionType string) ([]trust.ConfidenceAggregate, error) {
	rows, err := s.db.QueryContext(ctx, aggregateColumns+`
        FROM confidence_aggregates WHERE org_id=? AND action_type=?
        ORDER BY user_id ASC
    `, orgID, actionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []trust.ConfidenceAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *agg)
	}
	return result, rows.Err()
}

func (s *sqliteStore) SweepCandidates(ctx context.Context, now time.Time, minSignals, limit int) ([]trust.Key, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT user_id, action_type FROM confidence_aggregates
        WHERE (cooldown_until IS NULL OR cooldown_until <= ?) AND total_signals >= ?
        ORDER BY last_evaluated_at IS NOT NULL, last_evaluated_at ASC
        LIMIT ?
    `, now.UTC(), minSignals, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []trust.Key
	for rows.Next() {
		var k trust.Key
		if err := rows.Scan(&k.UserID, &k.ActionType); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) UpdateTierState(ctx context.Context, key trust.Key, state trust.TierState, transition *trust.TierTransition) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
        UPDATE confidence_aggregates
        SET current_tier=?, cooldown_until=?, never_promote=?, extra_required_signals=?
        WHERE user_id=? AND action_type=?
    `,
			string(state.CurrentTier), nullTime(state.CooldownUntil), boolToInt(state.NeverPromote), state.ExtraRequiredSignals,
			key.UserID, key.ActionType,
		)
		if err != nil {
			return fmt.Errorf("update tier state: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return trust.ErrAggregateNotFound
		}

		if transition != nil {
			if transition.ID == "" {
				transition.ID = uuid.New().String()
			}
			_, err = tx.ExecContext(ctx, `
            INSERT INTO tier_transitions(id, org_id, user_id, action_type, from_tier, to_tier, direction, reason, score, created_at)
            VALUES(?,?,?,?,?,?,?,?,?,?)
        `,
				transition.ID, transition.OrgID, transition.UserID, transition.ActionType,
				string(transition.FromTier), string(transition.ToTier), string(transition.Direction),
				transition.Reason, transition.Score, transition.CreatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert transition: %w", err)
			}
		}

		return tx.Commit()
	})
}

func (s *sqliteStore) SetKeyControls(ctx context.Context, key trust.Key, neverPromote *bool, extraRequiredSignals *int) error {
	sets := []string{}
	args := []any{}
	if neverPromote != nil {
		sets = append(sets, "never_promote=?")
		args = append(args, boolToInt(*neverPromote))
	}
	if extraRequiredSignals != nil {
		sets = append(sets, "extra_required_signals=?")
		args = append(args, *extraRequiredSignals)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, key.UserID, key.ActionType)

	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE confidence_aggregates SET `+strings.Join(sets, ", ")+` WHERE user_id=? AND action_type=?`,
			args...,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return trust.ErrAggregateNotFound
		}
		return nil
	})
}

func (s *sqliteStore) MarkEvaluated(ctx context.Context, key trust.Key, at time.Time) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
        UPDATE confidence_aggregates SET last_evaluated_at=? WHERE user_id=? AND action_type=?
    `, at.UTC(), key.UserID, key.ActionType)
		return err
	})
}

func upsertAggregateTx(ctx context.Context, tx *sql.Tx, agg *trust.ConfidenceAggregate) error {
	c := agg.Counts
	r := agg.Rates
	_, err := tx.ExecContext(ctx, `
        INSERT INTO confidence_aggregates(
            user_id, action_type, org_id, score, last_30_score,
            total_signals, approved_count, approved_edited_count, rejected_count, expired_count,
            undone_count, auto_executed_count, auto_undone_count, rubber_stamp_count, clean_approved_count,
            approval_rate, clean_approval_rate, edit_rate, rejection_rate, undo_rate, rubber_stamp_rate,
            first_signal_at, last_signal_at, days_active, promotion_eligible,
            current_tier, cooldown_until, never_promote, extra_required_signals,
            recomputed_at, last_evaluated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(user_id, action_type) DO UPDATE SET
            org_id                = excluded.org_id,
            score                 = excluded.score,
            last_30_score         = excluded.last_30_score,
            total_signals         = excluded.total_signals,
            approved_count        = excluded.approved_count,
            approved_edited_count = excluded.approved_edited_count,
            rejected_count        = excluded.rejected_count,
            expired_count         = excluded.expired_count,
            undone_count          = excluded.undone_count,
            auto_executed_count   = excluded.auto_executed_count,
            auto_undone_count     = excluded.auto_undone_count,
            rubber_stamp_count    = excluded.rubber_stamp_count,
            clean_approved_count  = excluded.clean_approved_count,
            approval_rate         = excluded.approval_rate,
            clean_approval_rate   = excluded.clean_approval_rate,
            edit_rate             = excluded.edit_rate,
            rejection_rate        = excluded.rejection_rate,
            undo_rate             = excluded.undo_rate,
            rubber_stamp_rate     = excluded.rubber_stamp_rate,
            first_signal_at       = excluded.first_signal_at,
            last_signal_at        = excluded.last_signal_at,
            days_active           = excluded.days_active,
            promotion_eligible    = excluded.promotion_eligible,
            recomputed_at         = excluded.recomputed_at
    `,
		agg.UserID, agg.ActionType, agg.OrgID, agg.Score, agg.Last30Score,
		c.Total, c.Approved, c.ApprovedEdited, c.Rejected, c.Expired,
		c.Undone, c.AutoExecuted, c.AutoUndone, c.RubberStamp, c.CleanApproved,
		nullFloat(r.Approval), nullFloat(r.CleanApproval), nullFloat(r.Edit), nullFloat(r.Rejection), nullFloat(r.Undo), nullFloat(r.RubberStamp),
		nullTime(agg.FirstSignalAt), nullTime(agg.LastSignalAt), agg.DaysActive, boolToInt(agg.PromotionEligible),
		string(agg.CurrentTier), nullTime(agg.CooldownUntil), boolToInt(agg.NeverPromote), agg.ExtraRequiredSignals,
		agg.RecomputedAt.UTC(), nullTime(agg.LastEvaluatedAt),
	)
	return err
}

// The tier columns are written on INSERT only: an existing row's tier state
// belongs to the promotion engine and a recompute upsert must not touch it.

func scanAggregate(row rowScanner) (*trust.ConfidenceAggregate, error) {
	agg := &trust.ConfidenceAggregate{}
	var (
		approval, clean, edit, rejection, undo, rubber sql.NullFloat64
		firstAt, lastAt, cooldown, evaluated           sql.NullString
		eligible, never                                int
		tier                                           string
		recomputedAt                                   string
	)
	err := row.Scan(&agg.UserID, &agg.ActionType, &agg.OrgID, &agg.Score, &agg.Last30Score,
		&agg.Counts.Total, &agg.Counts.Approved, &agg.Counts.ApprovedEdited, &agg.Counts.Rejected, &agg.Counts.Expired,
		&agg.Counts.Undone, &agg.Counts.AutoExecuted, &agg.Counts.AutoUndone, &agg.Counts.RubberStamp, &agg.Counts.CleanApproved,
		&approval, &clean, &edit, &rejection, &undo, &rubber,
		&firstAt, &lastAt, &agg.DaysActive, &eligible,
		&tier, &cooldown, &never, &agg.ExtraRequiredSignals,
		&recomputedAt, &evaluated)
	if err != nil {
		return nil, err
	}
	agg.Rates = trust.Rates{
		Approval:      floatPtr(approval),
		CleanApproval: floatPtr(clean),
		Edit:          floatPtr(edit),
		Rejection:     floatPtr(rejection),
		Undo:          floatPtr(undo),
		RubberStamp:   floatPtr(rubber),
	}
	agg.FirstSignalAt = timePtr(firstAt)
	agg.LastSignalAt = timePtr(lastAt)
	agg.PromotionEligible = eligible != 0
	agg.CurrentTier = trust.Tier(tier)
	agg.CooldownUntil = timePtr(cooldown)
	agg.NeverPromote = never != 0
	agg.RecomputedAt, _ = parseTime(recomputedAt)
	agg.LastEvaluatedAt = timePtr(evaluated)
	return agg, nil
}

func scanTierState(row *sql.Row) (*trust.TierState, error) {
	var (
		tier     string
		cooldown sql.NullString
		never    int
		extra    int
	)
	err := row.Scan(&tier, &cooldown, &never, &extra)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trust.TierState{
		CurrentTier:          trust.Tier(tier),
		CooldownUntil:        timePtr(cooldown),
		NeverPromote:         never != 0,
		ExtraRequiredSignals: extra,
	}, nil
}
