package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

// Claim gives the actor exclusive ownership of a task until the claim
// expires. Re-claiming one's own live claim returns the task unchanged.
func (m *Machine) Claim(ctx context.Context, actor models.Actor, taskID int64) (*models.Task, error) {
	if err := actor.Require(actor.CanWork(), "claim tasks"); err != nil {
		return nil, err
	}

	var out *models.Task
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}
		now := m.now()
		nowMS := now.UnixMilli()

		switch t.Status {
		case models.TaskPending:
		case models.TaskInProgress:
			if t.ClaimLive(nowMS) {
				if t.ClaimedBy(actor.UserID) {
					out = t
					return nil
				}
				return apperr.Conflict(apperr.ReasonAlreadyClaimed, "task %d is claimed by another user", t.ID)
			}
			// the previous claim lapsed; its pending steps are abandoned
			if _, err := settlePending(ctx, tx, t.ID, models.OutcomeAbandoned, nil, now); err != nil {
				return err
			}
		default:
			return m.illegal(t, models.TaskInProgress)
		}

		uid := actor.UserID
		exp := now.Add(m.cfg.ClaimTTL).UnixMilli()
		t.AssignedTo = &uid
		t.AssignedRole = actor.Role
		t.ClaimedAt = &nowMS
		t.ClaimExpiresAt = &exp
		if err := m.transition(ctx, tx, t, models.TaskInProgress, now); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				return apperr.Conflict(apperr.ReasonAlreadyClaimed, "task %d was claimed concurrently", t.ID)
			}
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task claimed",
		slog.Int64("task_id", out.ID),
		slog.Int64("user_id", actor.UserID),
		slog.Int64("claim_expires_at", *out.ClaimExpiresAt))
	return out, nil
}

// Release hands a claimed task back to the pool. The claimant, an operator
// or an admin may release.
func (m *Machine) Release(ctx context.Context, actor models.Actor, taskID int64) (*models.Task, error) {
	var out *models.Task
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskInProgress {
			return m.illegal(t, models.TaskPending)
		}
		if !t.ClaimedBy(actor.UserID) && !actor.CanOperate() {
			return apperr.Conflict(apperr.ReasonAlreadyClaimed, "task %d is claimed by another user", t.ID)
		}
		now := m.now()
		if _, err := settlePending(ctx, tx, t.ID, models.OutcomeAbandoned, nil, now); err != nil {
			return err
		}
		clearClaim(t)
		if err := m.transition(ctx, tx, t, models.TaskPending, now); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task released", slog.Int64("task_id", out.ID), slog.Int64("user_id", actor.UserID))
	return out, nil
}

// ExpireClaims reverts every IN_PROGRESS task whose claim lapsed at or
// before now to PENDING and abandons its pending steps. It returns the
// number of tasks reverted.
func (m *Machine) ExpireClaims(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	nowMS := now.UnixMilli()
	total := 0
	for {
		batch, err := m.store.ListExpiredClaims(ctx, nowMS, expireBatch)
		if err != nil {
			return total, err
		}
		reverted := 0
		for _, cand := range batch {
			ok, err := m.expireOne(ctx, cand.ID, now)
			if err != nil {
				return total, err
			}
			if ok {
				reverted++
			}
		}
		total += reverted
		if len(batch) < expireBatch || reverted == 0 {
			break
		}
	}
	if total > 0 {
		m.logger.Info("expired claims reverted", slog.Int("count", total))
	}
	return total, nil
}

func (m *Machine) expireOne(ctx context.Context, taskID int64, now time.Time) (bool, error) {
	reverted := false
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil || t == nil {
			return err
		}
		// re-check under the transaction: the task may have been submitted
		// or re-claimed since it was listed
		if t.Status != models.TaskInProgress || t.ClaimLive(now.UnixMilli()) {
			return nil
		}
		if _, err := settlePending(ctx, tx, t.ID, models.OutcomeAbandoned, nil, now); err != nil {
			return err
		}
		prev := t.AssignedTo
		clearClaim(t)
		if err := m.transition(ctx, tx, t, models.TaskPending, now); err != nil {
			return err
		}
		reverted = true
		attrs := []any{slog.Int64("task_id", t.ID)}
		if prev != nil {
			attrs = append(attrs, slog.Int64("user_id", *prev))
		}
		m.logger.Debug("claim expired", attrs...)
		return nil
	})
	if apperr.Is(err, apperr.KindConflict) {
		return false, nil
	}
	return reverted, err
}
