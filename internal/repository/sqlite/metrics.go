package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

func (r *SQLiteRepo) IncrementRoleMetrics(ctx context.Context, userID int64, role, categoryID, date string, d repository.MetricsDelta, atMS int64) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO role_metrics (user_id, role, category_id, date, total_actions, approved_actions, rejected_actions, flagged_actions, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, role, category_id, date) DO UPDATE SET
	total_actions = total_actions + excluded.total_actions,
	approved_actions = approved_actions + excluded.approved_actions,
	rejected_actions = rejected_actions + excluded.rejected_actions,
	flagged_actions = flagged_actions + excluded.flagged_actions,
	updated = excluded.updated`,
		userID, role, categoryID, date, d.Total, d.Approved, d.Rejected, d.Flagged, atMS)
	if err != nil {
		return fmt.Errorf("increment role metrics: %w", err)
	}
	return nil
}

// ListRoleMetrics returns rows for the user between two inclusive dates;
// empty bounds are open.
func (r *SQLiteRepo) ListRoleMetrics(ctx context.Context, userID int64, fromDate, toDate string) ([]models.RoleMetrics, error) {
	if fromDate == "" {
		fromDate = "0000-01-01"
	}
	if toDate == "" {
		toDate = "9999-12-31"
	}
	rows, err := r.q.QueryContext(ctx, `SELECT id, user_id, role, category_id, date, total_actions, approved_actions, rejected_actions, flagged_actions, updated FROM role_metrics WHERE user_id = ? AND date >= ? AND date <= ? ORDER BY date, role, category_id`,
		userID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RoleMetrics
	for rows.Next() {
		var m models.RoleMetrics
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.CategoryID, &m.Date, &m.Total, &m.Approved, &m.Rejected, &m.Flagged, &m.Updated); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
