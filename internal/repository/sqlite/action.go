package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

const actionColumns = `id, task_id, user_id, step, action_type, category_id, target_id, outcome, day_bucket, previous_action_id, notes, decided_by, decided_at, created`

func scanAction(s scanner) (*models.Action, error) {
	var (
		a         models.Action
		prev      sql.NullInt64
		decidedBy sql.NullInt64
		decidedAt sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.TaskID, &a.UserID, &a.Step, &a.ActionType, &a.CategoryID, &a.TargetID, &a.Outcome, &a.DayBucket, &prev, &a.Notes, &decidedBy, &decidedAt, &a.Created); err != nil {
		return nil, err
	}
	a.PreviousActionID = ptrInt64(prev)
	a.DecidedBy = ptrInt64(decidedBy)
	a.DecidedAt = ptrInt64(decidedAt)
	return &a, nil
}

func (r *SQLiteRepo) CreateAction(ctx context.Context, a *models.Action) (int64, error) {
	if a == nil {
		return 0, fmt.Errorf("action is nil")
	}
	if a.Outcome == "" {
		a.Outcome = models.OutcomePending
	}
	if a.Created == 0 {
		a.Created = now()
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO actions (task_id, user_id, step, action_type, category_id, target_id, outcome, day_bucket, previous_action_id, notes, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TaskID, a.UserID, a.Step, a.ActionType, a.CategoryID, a.TargetID, a.Outcome, a.DayBucket, nullInt64(a.PreviousActionID), a.Notes, a.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("step %d of task %d already has a live action: %w", a.Step, a.TaskID, repository.ErrConflict)
		}
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

func (r *SQLiteRepo) GetAction(ctx context.Context, id int64) (*models.Action, error) {
	a, err := scanAction(r.q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *SQLiteRepo) ListActionsByTask(ctx context.Context, taskID int64) ([]models.Action, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE task_id = ? ORDER BY step, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) SetActionOutcome(ctx context.Context, id int64, from, to models.Outcome, decidedBy *int64, atMS int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE actions SET outcome = ?, decided_by = ?, decided_at = ? WHERE id = ? AND outcome = ?`,
		to, nullInt64(decidedBy), atMS, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepo) CountQuotaActions(ctx context.Context, userID int64, categoryID, actionType, dayBucket string) (int, error) {
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE user_id = ? AND category_id = ? AND action_type = ? AND day_bucket = ? AND step = 1 AND outcome IN (?, ?)`,
		userID, categoryID, actionType, dayBucket, models.OutcomePending, models.OutcomeApproved)
	var cnt int
	if err := row.Scan(&cnt); err != nil {
		return 0, err
	}
	return cnt, nil
}
