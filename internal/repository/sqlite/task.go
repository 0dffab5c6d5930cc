package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

const taskColumns = `id, kind, target_id, category_id, action_type, status, assigned_to_user_id, assigned_role, claimed_at, claim_expires_at, attempt, version, created, updated`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		t        models.Task
		status   string
		assigned sql.NullInt64
		claimed  sql.NullInt64
		expires  sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.Kind, &t.TargetID, &t.CategoryID, &t.ActionType, &status, &assigned, &t.AssignedRole, &claimed, &expires, &t.Attempt, &t.Version, &t.Created, &t.Updated); err != nil {
		return nil, err
	}
	st, err := models.ParseTaskStatus(status)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", t.ID, err)
	}
	t.Status = st
	t.AssignedTo = ptrInt64(assigned)
	t.ClaimedAt = ptrInt64(claimed)
	t.ClaimExpiresAt = ptrInt64(expires)
	return &t, nil
}

func (r *SQLiteRepo) CreateTask(ctx context.Context, t *models.Task) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("task is nil")
	}
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}
	if t.Created == 0 {
		t.Created = now()
	}
	t.Updated = t.Created
	t.Version = 1

	res, err := r.q.ExecContext(ctx, `INSERT INTO tasks (kind, target_id, category_id, action_type, status, attempt, version, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Kind, t.TargetID, t.CategoryID, t.ActionType, t.Status, t.Attempt, t.Version, t.Created, t.Updated)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *SQLiteRepo) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(r.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) CompareAndSwapTask(ctx context.Context, t *models.Task, expectVersion int64) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("task is nil")
	}
	if t.Updated == 0 {
		t.Updated = now()
	}
	res, err := r.q.ExecContext(ctx, `UPDATE tasks SET status = ?, assigned_to_user_id = ?, assigned_role = ?, claimed_at = ?, claim_expires_at = ?, attempt = ?, version = version + 1, updated = ? WHERE id = ? AND version = ?`,
		t.Status, nullInt64(t.AssignedTo), t.AssignedRole, nullInt64(t.ClaimedAt), nullInt64(t.ClaimExpiresAt), t.Attempt, t.Updated, t.ID, expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		t.Version = expectVersion + 1
	}
	return n == 1, nil
}

func (r *SQLiteRepo) ListExpiredClaims(ctx context.Context, nowMS int64, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at <= ? ORDER BY claim_expires_at LIMIT ?`,
		models.TaskInProgress, nowMS, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
