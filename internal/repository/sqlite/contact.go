package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

func (r *SQLiteRepo) GetCooldownRecord(ctx context.Context, userID, targetID int64, actionType, categoryID string) (*models.CooldownRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, user_id, target_id, action_type, category_id, action_count, cooldown_started_at, updated FROM cooldown_records WHERE user_id = ? AND target_id = ? AND action_type = ? AND category_id = ?`,
		userID, targetID, actionType, categoryID)
	var c models.CooldownRecord
	if err := row.Scan(&c.ID, &c.UserID, &c.TargetID, &c.ActionType, &c.CategoryID, &c.ActionCount, &c.CooldownStartedAt, &c.Updated); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepo) TouchCooldownRecord(ctx context.Context, userID, targetID int64, actionType, categoryID string, atMS int64) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO cooldown_records (user_id, target_id, action_type, category_id, action_count, cooldown_started_at, updated) VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(user_id, target_id, action_type, category_id) DO UPDATE SET action_count = action_count + 1, cooldown_started_at = excluded.cooldown_started_at, updated = excluded.updated`,
		userID, targetID, actionType, categoryID, atMS, atMS)
	if err != nil {
		return fmt.Errorf("touch cooldown record: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetLastContact(ctx context.Context, targetID int64, categoryID string) (*models.LastContact, error) {
	row := r.q.QueryRowContext(ctx, `SELECT target_id, category_id, last_contacted_at, contacted_by_user_id, task_type FROM last_contacts WHERE target_id = ? AND category_id = ?`, targetID, categoryID)
	var lc models.LastContact
	if err := row.Scan(&lc.TargetID, &lc.CategoryID, &lc.LastContacted, &lc.ContactedBy, &lc.TaskType); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &lc, nil
}

func (r *SQLiteRepo) UpsertLastContact(ctx context.Context, lc *models.LastContact) error {
	if lc == nil {
		return fmt.Errorf("last contact is nil")
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO last_contacts (target_id, category_id, last_contacted_at, contacted_by_user_id, task_type) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(target_id, category_id) DO UPDATE SET last_contacted_at = excluded.last_contacted_at, contacted_by_user_id = excluded.contacted_by_user_id, task_type = excluded.task_type`,
		lc.TargetID, lc.CategoryID, lc.LastContacted, lc.ContactedBy, lc.TaskType)
	if err != nil {
		return fmt.Errorf("upsert last contact: %w", err)
	}
	return nil
}
