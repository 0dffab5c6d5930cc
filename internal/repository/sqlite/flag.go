package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

const flagColumns = `id, user_id, target_id, action_type, category_id, role, action_id, task_id, reason, resolved, resolution, resolved_by, created, resolved_at`

func scanFlag(s scanner) (*models.FlaggedAction, error) {
	var (
		f          models.FlaggedAction
		actionID   sql.NullInt64
		taskID     sql.NullInt64
		resolution sql.NullString
		resolvedBy sql.NullInt64
		resolvedAt sql.NullInt64
	)
	if err := s.Scan(&f.ID, &f.UserID, &f.TargetID, &f.ActionType, &f.CategoryID, &f.Role, &actionID, &taskID, &f.Reason, &f.Resolved, &resolution, &resolvedBy, &f.Created, &resolvedAt); err != nil {
		return nil, err
	}
	f.ActionID = ptrInt64(actionID)
	f.TaskID = ptrInt64(taskID)
	if resolution.Valid {
		v := resolution.String
		f.Resolution = &v
	}
	f.ResolvedBy = ptrInt64(resolvedBy)
	f.ResolvedAt = ptrInt64(resolvedAt)
	return &f, nil
}

func (r *SQLiteRepo) CreateFlag(ctx context.Context, f *models.FlaggedAction) (int64, error) {
	if f == nil {
		return 0, fmt.Errorf("flag is nil")
	}
	if f.Created == 0 {
		f.Created = now()
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO flagged_actions (user_id, target_id, action_type, category_id, role, action_id, task_id, reason, resolved, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		f.UserID, f.TargetID, f.ActionType, f.CategoryID, f.Role, nullInt64(f.ActionID), nullInt64(f.TaskID), f.Reason, f.Created)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

func (r *SQLiteRepo) GetFlag(ctx context.Context, id int64) (*models.FlaggedAction, error) {
	f, err := scanFlag(r.q.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM flagged_actions WHERE id = ?`, id))
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (r *SQLiteRepo) ResolveFlag(ctx context.Context, id int64, resolution string, resolvedBy int64, atMS int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE flagged_actions SET resolved = 1, resolution = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND resolved = 0`,
		resolution, resolvedBy, atMS, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepo) ListUnresolvedFlagsByTask(ctx context.Context, taskID int64) ([]models.FlaggedAction, error) {
	return r.listFlags(ctx, `SELECT `+flagColumns+` FROM flagged_actions WHERE task_id = ? AND resolved = 0 ORDER BY id`, taskID)
}

func (r *SQLiteRepo) ListFlags(ctx context.Context, resolved *bool, limit, offset int) ([]models.FlaggedAction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if resolved == nil {
		return r.listFlags(ctx, `SELECT `+flagColumns+` FROM flagged_actions ORDER BY created DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	return r.listFlags(ctx, `SELECT `+flagColumns+` FROM flagged_actions WHERE resolved = ? ORDER BY created DESC, id DESC LIMIT ? OFFSET ?`, boolInt(*resolved), limit, offset)
}

func (r *SQLiteRepo) listFlags(ctx context.Context, query string, args ...any) ([]models.FlaggedAction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FlaggedAction
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
