package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/garnizeh/taskgate/internal/admission"
	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/evidence"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

// Submission is one step of work on a claimed task.
type Submission struct {
	Step     int             `json:"step"`
	Notes    string          `json:"notes,omitempty"`
	Evidence *evidence.Input `json:"evidence,omitempty"`
}

type SubmitResult struct {
	Task       *models.Task          `json:"task"`
	Action     *models.Action        `json:"action"`
	Screenshot *models.Screenshot    `json:"screenshot,omitempty"`
	Flag       *models.FlaggedAction `json:"flag,omitempty"`
	Decision   admission.Decision    `json:"admission"`
}

// Submit records one step with its evidence. Input is validated before any
// read; admission, duplicate detection and every write then run in one
// transaction. The task moves to SUBMITTED once every required step is
// live; otherwise the claim is extended.
func (m *Machine) Submit(ctx context.Context, actor models.Actor, taskID int64, sub Submission) (*SubmitResult, error) {
	if err := actor.Require(actor.CanWork(), "submit tasks"); err != nil {
		return nil, err
	}
	if sub.Step < 1 {
		return nil, apperr.Validation("invalid_step", "step must be at least 1")
	}
	var checked *evidence.Checked
	if sub.Evidence != nil {
		c, err := m.verifier.Check(*sub.Evidence)
		if err != nil {
			return nil, err
		}
		checked = &c
	}

	res := &SubmitResult{}
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		t, err := loadTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}
		now := m.now()
		nowMS := now.UnixMilli()

		switch {
		case t.Status == models.TaskSubmitted:
			return apperr.Conflict(apperr.ReasonDoubleSubmit, "task %d is already submitted", t.ID)
		case t.Status != models.TaskInProgress:
			return m.illegal(t, models.TaskSubmitted)
		case !t.ClaimedBy(actor.UserID):
			return apperr.Conflict(apperr.ReasonAlreadyClaimed, "task %d is not claimed by user %d", t.ID, actor.UserID)
		case !t.ClaimLive(nowMS):
			return apperr.Conflict(apperr.ReasonClaimExpired, "claim on task %d has expired", t.ID)
		}

		actions, err := tx.ListActionsByTask(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list actions: %w", err)
		}
		var (
			live     int
			lastStep int
			previous *int64
		)
		for _, a := range actions {
			if a.Outcome.Live() {
				if a.Step == sub.Step {
					return apperr.Conflict(apperr.ReasonDoubleSubmit, "step %d of task %d is already submitted", sub.Step, t.ID)
				}
				live++
				lastStep = max(lastStep, a.Step)
			}
			if a.Step == sub.Step && a.Outcome == models.OutcomeRejected {
				id := a.ID
				previous = &id
			}
		}

		d, err := m.resolver.CanPerform(ctx, tx, admission.Request{
			UserID:     actor.UserID,
			TargetID:   t.TargetID,
			CategoryID: t.CategoryID,
			ActionType: t.ActionType,
			Role:       actor.Role,
			Step:       sub.Step,
			LastStep:   lastStep,
			Now:        now,
		})
		if err != nil {
			return err
		}
		res.Decision = d
		if !d.Allowed {
			return d.Err()
		}
		if d.Rule.ScreenshotRequired && checked == nil {
			return apperr.Validation("evidence_required", "a screenshot is required for %s", t.ActionType)
		}

		a := &models.Action{
			TaskID:           t.ID,
			UserID:           actor.UserID,
			Step:             sub.Step,
			ActionType:       t.ActionType,
			CategoryID:       t.CategoryID,
			TargetID:         t.TargetID,
			Outcome:          models.OutcomePending,
			DayBucket:        models.DayBucket(now),
			PreviousActionID: previous,
			Notes:            sub.Notes,
			Created:          nowMS,
		}
		if _, err := tx.CreateAction(ctx, a); err != nil {
			if isConflict(err) {
				return apperr.Conflict(apperr.ReasonDoubleSubmit, "step %d of task %d is already submitted", sub.Step, t.ID)
			}
			return fmt.Errorf("create action: %w", err)
		}
		res.Action = a

		if checked != nil {
			if err := m.recordEvidence(ctx, tx, actor, t, a, *checked, res); err != nil {
				return err
			}
		}

		if live+1 >= d.Rule.RequiredActions {
			t.ClaimExpiresAt = nil
			if err := m.transition(ctx, tx, t, models.TaskSubmitted, now); err != nil {
				return err
			}
		} else {
			exp := now.Add(m.cfg.ClaimTTL).UnixMilli()
			t.ClaimExpiresAt = &exp
			if err := m.transition(ctx, tx, t, models.TaskInProgress, now); err != nil {
				return err
			}
		}
		res.Task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("step submitted",
		slog.Int64("task_id", taskID),
		slog.Int64("action_id", res.Action.ID),
		slog.Int("step", sub.Step),
		slog.String("status", string(res.Task.Status)),
		slog.Bool("duplicate", res.Screenshot != nil && res.Screenshot.Duplicate))
	return res, nil
}

// recordEvidence stores the screenshot and, when its hash was seen before,
// raises a reused-screenshot flag in the same transaction.
func (m *Machine) recordEvidence(ctx context.Context, tx repository.Store, actor models.Actor, t *models.Task, a *models.Action, c evidence.Checked, res *SubmitResult) error {
	now := m.now()
	matches, err := m.verifier.Duplicates(ctx, tx, c.Hash, evidence.Scope{
		ActionType: t.ActionType,
		CategoryID: t.CategoryID,
		SystemWide: m.verifier.SystemWide(),
	})
	if err != nil {
		return err
	}

	s := &models.Screenshot{
		ActionID:   a.ID,
		FilePath:   c.FilePath,
		MimeType:   c.MimeType,
		FileSize:   c.Size,
		Hash:       c.Hash,
		Duplicate:  len(matches) > 0,
		UploadedBy: actor.UserID,
		Created:    now.UnixMilli(),
	}
	if _, err := tx.CreateScreenshot(ctx, s); err != nil {
		return fmt.Errorf("create screenshot: %w", err)
	}
	res.Screenshot = s
	if !s.Duplicate {
		return nil
	}

	f := &models.FlaggedAction{
		UserID:     actor.UserID,
		TargetID:   t.TargetID,
		ActionType: t.ActionType,
		CategoryID: t.CategoryID,
		Role:       actor.Role,
		ActionID:   &a.ID,
		TaskID:     &t.ID,
		Reason:     models.FlagReasonReusedScreenshot,
	}
	if err := m.metrics.RaiseFlag(ctx, tx, f, now); err != nil {
		return err
	}
	res.Flag = f
	return nil
}
