package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/crewline/trustcore/internal/trust"
)

const policyColumns = `SELECT id, org_id, action_type, from_tier, to_tier,
        min_signals, min_clean_approval_rate, max_rejection_rate, max_undo_rate,
        min_days_active, min_confidence_score, last_n_clean, enabled, never_promote,
        created_at, updated_at`

func (s *sqliteStore) UpsertPolicy(ctx context.Context, p *trust.ThresholdPolicy) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
        INSERT INTO threshold_policies(id, org_id, action_type, from_tier, to_tier,
            min_signals, min_clean_approval_rate, max_rejection_rate, max_undo_rate,
            min_days_active, min_confidence_score, last_n_clean, enabled, never_promote,
            created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(org_id, action_type, from_tier, to_tier) DO UPDATE SET
            min_signals             = excluded.min_signals,
            min_clean_approval_rate = excluded.min_clean_approval_rate,
            max_rejection_rate      = excluded.max_rejection_rate,
            max_undo_rate           = excluded.max_undo_rate,
            min_days_active         = excluded.min_days_active,
            min_confidence_score    = excluded.min_confidence_score,
            last_n_clean            = excluded.last_n_clean,
            enabled                 = excluded.enabled,
            never_promote           = excluded.never_promote,
            updated_at              = excluded.updated_at
    `,
			p.ID, p.OrgID, p.ActionType, string(p.FromTier), string(p.ToTier),
			p.MinSignals, p.MinCleanApprovalRate, p.MaxRejectionRate, p.MaxUndoRate,
			p.MinDaysActive, p.MinConfidenceScore, p.LastNClean, boolToInt(p.Enabled), boolToInt(p.NeverPromote),
			p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
		return err
	})
}

func (s *sqliteStore) GetPolicy(ctx context.Context, orgID, actionType string, from, to trust.Tier) (*trust.ThresholdPolicy, error) {
	row := s.db.QueryRowContext(ctx, policyColumns+`
        FROM threshold_policies
        WHERE org_id=? AND action_type=? AND from_tier=? AND to_tier=?
    `, orgID, actionType, string(from), string(to))
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, trust.ErrPolicyNotFound
	}
	return p, err
}

func (s *sqliteStore) ListPolicies(ctx context.Context, orgID, actionType string) ([]trust.ThresholdPolicy, error) {
	query := policyColumns + ` FROM threshold_policies WHERE 1=1`
	args := []any{}
	if orgID != "" {
		query += ` AND org_id = ?`
		args = append(args, orgID)
	}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	query += ` ORDER BY action_type ASC, org_id ASC, from_tier ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []trust.ThresholdPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// SeedPolicies inserts the rows that do not exist yet and leaves existing
// rows untouched, so operator edits survive process restarts.
func (s *sqliteStore) SeedPolicies(ctx context.Context, policies []trust.ThresholdPolicy) (int, error) {
	inserted := 0
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		inserted = 0
		for i := range policies {
			p := &policies[i]
			if p.ID == "" {
				p.ID = uuid.New().String()
			}
			res, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO threshold_policies(id, org_id, action_type, from_tier, to_tier,
                min_signals, min_clean_approval_rate, max_rejection_rate, max_undo_rate,
                min_days_active, min_confidence_score, last_n_clean, enabled, never_promote,
                created_at, updated_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        `,
				p.ID, p.OrgID, p.ActionType, string(p.FromTier), string(p.ToTier),
				p.MinSignals, p.MinCleanApprovalRate, p.MaxRejectionRate, p.MaxUndoRate,
				p.MinDaysActive, p.MinConfidenceScore, p.LastNClean, boolToInt(p.Enabled), boolToInt(p.NeverPromote),
				p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("seed policy %s %s->%s: %w", p.ActionType, p.FromTier, p.ToTier, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return tx.Commit()
	})
	return inserted, err
}

func scanPolicy(row rowScanner) (*trust.ThresholdPolicy, error) {
	p := &trust.ThresholdPolicy{}
	var (
		from, to             string
		enabled, never       int
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.ActionType, &from, &to,
		&p.MinSignals, &p.MinCleanApprovalRate, &p.MaxRejectionRate, &p.MaxUndoRate,
		&p.MinDaysActive, &p.MinConfidenceScore, &p.LastNClean, &enabled, &never,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.FromTier = trust.Tier(from)
	p.ToTier = trust.Tier(to)
	p.Enabled = enabled != 0
	p.NeverPromote = never != 0
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return p, nil
}
