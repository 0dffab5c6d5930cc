package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

// MarkPaymentEligible flips the eligibility flag for a task; the first
// eligible_at is kept on repeated calls.
func (r *SQLiteRepo) MarkPaymentEligible(ctx context.Context, taskID, userID int64, atMS int64) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO payment_records (task_id, user_id, eligible, eligible_at, created) VALUES (?, ?, 1, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET eligible = 1, user_id = excluded.user_id, eligible_at = COALESCE(payment_records.eligible_at, excluded.eligible_at)`,
		taskID, userID, atMS, atMS)
	if err != nil {
		return fmt.Errorf("mark payment eligible: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetPaymentRecord(ctx context.Context, taskID int64) (*models.PaymentRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, task_id, user_id, eligible, eligible_at, created FROM payment_records WHERE task_id = ?`, taskID)
	var (
		p  models.PaymentRecord
		at sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.TaskID, &p.UserID, &p.Eligible, &at, &p.Created); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	p.EligibleAt = ptrInt64(at)
	return &p, nil
}
