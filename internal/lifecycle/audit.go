package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/metrics"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

// Decision carries an auditor's note. AcknowledgeFlags resolves the task's
// open flags as part of an approval instead of blocking it.
type Decision struct {
	Note             string `json:"note,omitempty"`
	AcknowledgeFlags bool   `json:"acknowledge_flags,omitempty"`
}

// Approve completes a SUBMITTED task. Approving a COMPLETED task is a no-op.
func (m *Machine) Approve(ctx context.Context, auditor models.Actor, taskID int64, d Decision) (*models.Task, error) {
	if err := auditor.Require(auditor.CanAudit(), "approve tasks"); err != nil {
		return nil, err
	}

	var (
		out     *models.Task
		changed bool
	)
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, auditor, taskID)
		if err != nil {
			return err
		}
		out = t
		switch t.Status {
		case models.TaskCompleted:
			return nil
		case models.TaskSubmitted:
		default:
			return m.illegal(t, models.TaskCompleted)
		}

		now := m.now()
		if err := m.clearFlags(ctx, tx, auditor, t, d, now); err != nil {
			return err
		}
		uid := auditor.UserID
		if _, err := settlePending(ctx, tx, t.ID, models.OutcomeApproved, &uid, now); err != nil {
			return err
		}
		changed = true
		return m.complete(ctx, tx, t, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.logger.Info("task approved", slog.Int64("task_id", taskID), slog.Int64("auditor_id", auditor.UserID))
	} else {
		m.logger.Debug("task already approved", slog.Int64("task_id", taskID))
	}
	return out, nil
}

// Reject fails a SUBMITTED task. Rejecting a REJECTED task is a no-op.
func (m *Machine) Reject(ctx context.Context, auditor models.Actor, taskID int64, d Decision) (*models.Task, error) {
	if err := auditor.Require(auditor.CanAudit(), "reject tasks"); err != nil {
		return nil, err
	}

	var (
		out     *models.Task
		changed bool
	)
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, auditor, taskID)
		if err != nil {
			return err
		}
		out = t
		switch t.Status {
		case models.TaskRejected:
			return nil
		case models.TaskSubmitted:
		default:
			return m.illegal(t, models.TaskRejected)
		}

		now := m.now()
		uid := auditor.UserID
		if _, err := settlePending(ctx, tx, t.ID, models.OutcomeRejected, &uid, now); err != nil {
			return err
		}
		changed = true
		return m.fail(ctx, tx, t, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.logger.Info("task rejected", slog.Int64("task_id", taskID), slog.Int64("auditor_id", auditor.UserID), slog.String("note", d.Note))
	}
	return out, nil
}

// DecideAction records an auditor's outcome for one step. A rejected step
// rejects the task; the last pending step approved completes it. Repeating
// the same decision is a no-op.
func (m *Machine) DecideAction(ctx context.Context, auditor models.Actor, actionID int64, approve bool, d Decision) (*models.Task, error) {
	if err := auditor.Require(auditor.CanAudit(), "decide actions"); err != nil {
		return nil, err
	}
	want := models.OutcomeRejected
	if approve {
		want = models.OutcomeApproved
	}

	var out *models.Task
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		a, err := tx.GetAction(ctx, actionID)
		if err != nil {
			return fmt.Errorf("get action %d: %w", actionID, err)
		}
		if a == nil {
			return apperr.NotFound("action %d", actionID)
		}
		t, err := loadTask(ctx, tx, auditor, a.TaskID)
		if err != nil {
			return err
		}
		out = t

		if a.Outcome == want {
			return nil
		}
		if a.Outcome != models.OutcomePending {
			return apperr.Integrity(apperr.ReasonIllegalTransit, "action %d is %s and cannot become %s", a.ID, a.Outcome, want)
		}
		if t.Status != models.TaskSubmitted {
			return m.illegal(t, models.TaskCompleted)
		}

		now := m.now()
		if approve {
			if err := m.clearFlags(ctx, tx, auditor, t, d, now); err != nil {
				return err
			}
		}
		uid := auditor.UserID
		ok, err := tx.SetActionOutcome(ctx, a.ID, models.OutcomePending, want, &uid, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("set action %d outcome: %w", a.ID, err)
		}
		if !ok {
			return apperr.Conflict(apperr.ReasonConcurrent, "action %d was decided concurrently", a.ID)
		}

		if !approve {
			if _, err := settlePending(ctx, tx, t.ID, models.OutcomeRejected, &uid, now); err != nil {
				return err
			}
			return m.fail(ctx, tx, t, now)
		}

		actions, err := tx.ListActionsByTask(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list actions: %w", err)
		}
		for _, other := range actions {
			if other.Outcome == models.OutcomePending {
				return nil
			}
		}
		return m.complete(ctx, tx, t, now)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("action decided",
		slog.Int64("action_id", actionID),
		slog.String("outcome", string(want)),
		slog.String("task_status", string(out.Status)),
		slog.Int64("auditor_id", auditor.UserID))
	return out, nil
}

// Flag records an auditor's flag against the task's latest step. The task
// stays SUBMITTED and cannot be approved until the flag is resolved or
// acknowledged.
func (m *Machine) Flag(ctx context.Context, auditor models.Actor, taskID int64, reason string) (*models.FlaggedAction, error) {
	if err := auditor.Require(auditor.CanAudit(), "flag tasks"); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.Validation("invalid_flag", "reason is required")
	}

	var out *models.FlaggedAction
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, auditor, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskSubmitted {
			return apperr.Integrity(apperr.ReasonIllegalTransit, "task %d is %s; only submitted tasks can be flagged", t.ID, t.Status)
		}
		actions, err := tx.ListActionsByTask(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list actions: %w", err)
		}
		var latest *models.Action
		for i := range actions {
			if actions[i].Outcome.Live() && (latest == nil || actions[i].ID > latest.ID) {
				latest = &actions[i]
			}
		}
		if latest == nil {
			return apperr.Integrity(apperr.ReasonIllegalTransit, "task %d has no live action to flag", t.ID)
		}

		out = &models.FlaggedAction{
			UserID:     latest.UserID,
			TargetID:   t.TargetID,
			ActionType: t.ActionType,
			CategoryID: t.CategoryID,
			Role:       t.AssignedRole,
			ActionID:   &latest.ID,
			TaskID:     &t.ID,
			Reason:     reason,
		}
		return m.metrics.RaiseFlag(ctx, tx, out, m.now())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reopen returns a REJECTED task to the pool for another attempt when
// resubmission is enabled.
func (m *Machine) Reopen(ctx context.Context, operator models.Actor, taskID int64) (*models.Task, error) {
	if err := operator.Require(operator.CanOperate(), "reopen tasks"); err != nil {
		return nil, err
	}
	if !m.cfg.AllowResubmission {
		return nil, apperr.Denied(apperr.ReasonResubmitOff, "resubmission is disabled", 0)
	}

	var out *models.Task
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, operator, taskID)
		if err != nil {
			return err
		}
		if t.Status != models.TaskRejected {
			return m.illegal(t, models.TaskPending)
		}
		clearClaim(t)
		t.Attempt++
		out = t
		return m.transition(ctx, tx, t, models.TaskPending, m.now())
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task reopened", slog.Int64("task_id", taskID), slog.Int("attempt", out.Attempt))
	return out, nil
}

// clearFlags blocks on unresolved flags unless the decision acknowledges
// them, in which case they are resolved by the auditor.
func (m *Machine) clearFlags(ctx context.Context, tx repository.Store, auditor models.Actor, t *models.Task, d Decision, now time.Time) error {
	flags, err := tx.ListUnresolvedFlagsByTask(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list flags: %w", err)
	}
	if len(flags) == 0 {
		return nil
	}
	if !d.AcknowledgeFlags {
		return apperr.Conflict(apperr.ReasonUnresolvedFlags, "task %d has %d unresolved flag(s)", t.ID, len(flags))
	}
	resolution := "acknowledged on approval"
	if d.Note != "" {
		resolution += ": " + d.Note
	}
	for _, f := range flags {
		if _, err := tx.ResolveFlag(ctx, f.ID, resolution, auditor.UserID, now.UnixMilli()); err != nil {
			return fmt.Errorf("resolve flag %d: %w", f.ID, err)
		}
	}
	return nil
}

// complete moves t to COMPLETED and applies the approval side effects:
// last contact, the worker's cooldown record, the approved metric and
// payment eligibility.
func (m *Machine) complete(ctx context.Context, tx repository.Store, t *models.Task, now time.Time) error {
	if t.AssignedTo == nil {
		return apperr.Integrity(apperr.ReasonIllegalTransit, "task %d has no assignee to credit", t.ID)
	}
	worker := *t.AssignedTo
	if err := m.transition(ctx, tx, t, models.TaskCompleted, now); err != nil {
		return err
	}
	nowMS := now.UnixMilli()
	if err := tx.UpsertLastContact(ctx, &models.LastContact{
		TargetID:      t.TargetID,
		CategoryID:    t.CategoryID,
		LastContacted: nowMS,
		ContactedBy:   worker,
		TaskType:      t.Kind,
	}); err != nil {
		return err
	}
	if err := tx.TouchCooldownRecord(ctx, worker, t.TargetID, t.ActionType, t.CategoryID, nowMS); err != nil {
		return err
	}
	if err := m.metrics.RecordOutcome(ctx, tx, worker, t.AssignedRole, t.CategoryID, metrics.Approved, now); err != nil {
		return err
	}
	return tx.MarkPaymentEligible(ctx, t.ID, worker, nowMS)
}

// fail moves t to REJECTED; only the rejected metric changes so a retry is
// not blocked by cooldowns.
func (m *Machine) fail(ctx context.Context, tx repository.Store, t *models.Task, now time.Time) error {
	if err := m.transition(ctx, tx, t, models.TaskRejected, now); err != nil {
		return err
	}
	if t.AssignedTo == nil {
		return nil
	}
	return m.metrics.RecordOutcome(ctx, tx, *t.AssignedTo, t.AssignedRole, t.CategoryID, metrics.Rejected, now)
}
