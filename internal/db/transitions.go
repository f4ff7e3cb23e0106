package db

import (
	"context"
	"fmt"

	"github.com/crewline/trustcore/internal/trust"
)

func (s *sqliteStore) ListTransitions(ctx context.Context, f trust.TransitionFilter) ([]trust.TierTransition, error) {
	query := `SELECT id, org_id, user_id, action_type, from_tier, to_tier, direction, reason, score, created_at
        FROM tier_transitions WHERE 1=1`
	args := []any{}

	if f.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, f.OrgID)
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.ActionType != "" {
		query += ` AND action_type = ?`
		args = append(args, f.ActionType)
	}
	// rowid breaks created_at ties so same-instant transitions stay
	// newest-first.
	query += ` ORDER BY created_at DESC, rowid DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []trust.TierTransition
	for rows.Next() {
		var (
			t                   trust.TierTransition
			from, to, direction string
			createdAt           string
		)
		if err := rows.Scan(&t.ID, &t.OrgID, &t.UserID, &t.ActionType, &from, &to, &direction, &t.Reason, &t.Score, &createdAt); err != nil {
			return nil, err
		}
		t.FromTier = trust.Tier(from)
		t.ToTier = trust.Tier(to)
		t.Direction = trust.TransitionDirection(direction)
		t.CreatedAt, _ = parseTime(createdAt)
		result = append(result, t)
	}
	return result, rows.Err()
}
