package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

// UpsertCategoryRule inserts or updates a rule by (category, action type, role).
func (r *SQLiteRepo) UpsertCategoryRule(ctx context.Context, cr *models.CategoryRule) (int64, error) {
	if cr == nil {
		return 0, fmt.Errorf("category rule is nil")
	}
	ts := cr.Updated
	if ts == 0 {
		ts = now()
	}
	if cr.Created == 0 {
		cr.Created = ts
	}

	row := r.q.QueryRowContext(ctx, `INSERT INTO category_rules (category_id, action_type, role, daily_limit_override, cooldown_days_override, required_actions, screenshot_required, strict_order, status, priority, created, updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(category_id, action_type, role) DO UPDATE SET
	daily_limit_override = excluded.daily_limit_override,
	cooldown_days_override = excluded.cooldown_days_override,
	required_actions = excluded.required_actions,
	screenshot_required = excluded.screenshot_required,
	strict_order = excluded.strict_order,
	status = excluded.status,
	priority = excluded.priority,
	updated = excluded.updated
RETURNING id, created`,
		cr.CategoryID, cr.ActionType, cr.Role, nullInt(cr.DailyLimitOverride), nullInt(cr.CooldownDaysOverride), cr.RequiredActions,
		boolInt(cr.ScreenshotRequired), boolInt(cr.StrictOrder), cr.Status, cr.Priority, cr.Created, ts)
	if err := row.Scan(&cr.ID, &cr.Created); err != nil {
		return 0, fmt.Errorf("upsert category rule: %w", err)
	}
	cr.Updated = ts
	return cr.ID, nil
}

func (r *SQLiteRepo) ListCategoryRules(ctx context.Context, categoryID string) ([]models.CategoryRule, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, category_id, action_type, role, daily_limit_override, cooldown_days_override, required_actions, screenshot_required, strict_order, status, priority, created, updated FROM category_rules WHERE category_id = ? ORDER BY action_type, role, id`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CategoryRule
	for rows.Next() {
		var (
			cr       models.CategoryRule
			limit    sql.NullInt64
			cooldown sql.NullInt64
		)
		if err := rows.Scan(&cr.ID, &cr.CategoryID, &cr.ActionType, &cr.Role, &limit, &cooldown, &cr.RequiredActions, &cr.ScreenshotRequired, &cr.StrictOrder, &cr.Status, &cr.Priority, &cr.Created, &cr.Updated); err != nil {
			return nil, err
		}
		cr.DailyLimitOverride = ptrInt(limit)
		cr.CooldownDaysOverride = ptrInt(cooldown)
		out = append(out, cr)
	}
	return out, rows.Err()
}
