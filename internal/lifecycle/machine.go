// Package lifecycle drives tasks and their actions through claim, submit
// and audit, applying the side effects of each terminal decision.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/admission"
	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/evidence"
	"github.com/garnizeh/taskgate/internal/metrics"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

const expireBatch = 100

type Machine struct {
	store    repository.Store
	resolver *admission.Resolver
	verifier *evidence.Verifier
	metrics  *metrics.Aggregator
	cfg      config.EngineConfig
	logger   *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func New(store repository.Store, resolver *admission.Resolver, verifier *evidence.Verifier, agg *metrics.Aggregator, cfg config.EngineConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Hour
	}
	return &Machine{store: store, resolver: resolver, verifier: verifier, metrics: agg, cfg: cfg, logger: logger, Now: time.Now}
}

func (m *Machine) now() time.Time { return m.Now().UTC() }

// loadTask reads a task inside tx and checks the actor's category scope.
func loadTask(ctx context.Context, tx repository.Store, actor models.Actor, taskID int64) (*models.Task, error) {
	t, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	if t == nil {
		return nil, apperr.NotFound("task %d", taskID)
	}
	if err := actor.CheckScope(t.CategoryID); err != nil {
		return nil, err
	}
	return t, nil
}

// transition moves t to status and writes it conditionally on the version
// it was read at.
func (m *Machine) transition(ctx context.Context, tx repository.Store, t *models.Task, to models.TaskStatus, at time.Time) error {
	if t.Status != to && !models.CanTransition(t.Status, to) {
		return m.illegal(t, to)
	}
	t.Status = to
	t.Updated = at.UnixMilli()
	ok, err := tx.CompareAndSwapTask(ctx, t, t.Version)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if !ok {
		return apperr.Conflict(apperr.ReasonConcurrent, "task %d was modified concurrently", t.ID)
	}
	return nil
}

func (m *Machine) illegal(t *models.Task, to models.TaskStatus) error {
	err := apperr.Integrity(apperr.ReasonIllegalTransit, "task %d cannot move from %s to %s", t.ID, t.Status, to)
	m.logger.Error("illegal task transition",
		slog.Int64("task_id", t.ID),
		slog.String("from", string(t.Status)),
		slog.String("to", string(to)))
	return err
}

func clearClaim(t *models.Task) {
	t.AssignedTo = nil
	t.AssignedRole = ""
	t.ClaimedAt = nil
	t.ClaimExpiresAt = nil
}

// settlePending moves every pending action of the task to outcome.
func settlePending(ctx context.Context, tx repository.Store, taskID int64, outcome models.Outcome, decidedBy *int64, at time.Time) (int, error) {
	actions, err := tx.ListActionsByTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("list actions: %w", err)
	}
	n := 0
	for _, a := range actions {
		if a.Outcome != models.OutcomePending {
			continue
		}
		ok, err := tx.SetActionOutcome(ctx, a.ID, models.OutcomePending, outcome, decidedBy, at.UnixMilli())
		if err != nil {
			return n, fmt.Errorf("set action %d outcome: %w", a.ID, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Get returns the task with its actions.
func (m *Machine) Get(ctx context.Context, actor models.Actor, taskID int64) (*TaskView, error) {
	t, err := loadTask(ctx, m.store, actor, taskID)
	if err != nil {
		return nil, err
	}
	actions, err := m.store.ListActionsByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	if actions == nil {
		actions = []models.Action{}
	}
	return &TaskView{Task: t, Actions: actions}, nil
}

type TaskView struct {
	Task    *models.Task    `json:"task"`
	Actions []models.Action `json:"actions"`
}

// NewTask describes a unit of work to allocate.
type NewTask struct {
	Kind             models.TaskKind   `json:"kind"`
	TargetKind       models.TargetKind `json:"target_kind"`
	TargetIdentifier string            `json:"target_identifier"`
	CategoryID       string            `json:"category_id"`
	ActionType       string            `json:"action_type"`
}

// CreateTask allocates a PENDING task, creating the target on first use.
func (m *Machine) CreateTask(ctx context.Context, actor models.Actor, in NewTask) (*models.Task, error) {
	if err := actor.Require(actor.CanOperate(), "create tasks"); err != nil {
		return nil, err
	}
	if !in.Kind.Valid() {
		return nil, apperr.Validation("invalid_task", "unknown task kind %q", in.Kind)
	}
	if !in.TargetKind.Valid() {
		return nil, apperr.Validation("invalid_task", "unknown target kind %q", in.TargetKind)
	}
	ident := models.NormalizeIdentifier(in.TargetIdentifier)
	if ident == "" {
		return nil, apperr.Validation("invalid_task", "target_identifier is required")
	}
	if in.CategoryID == "" || in.ActionType == "" {
		return nil, apperr.Validation("invalid_task", "category_id and action_type are required")
	}
	if err := actor.CheckScope(in.CategoryID); err != nil {
		return nil, err
	}

	t := &models.Task{Kind: in.Kind, CategoryID: in.CategoryID, ActionType: in.ActionType}
	err := m.store.InTx(ctx, func(tx repository.Store) error {
		tg, err := tx.GetOrCreateTarget(ctx, in.TargetKind, ident)
		if err != nil {
			return err
		}
		if tg.Kind != in.TargetKind {
			return apperr.Validation("invalid_task", "target %s is a %s, not a %s", ident, tg.Kind, in.TargetKind)
		}
		t.TargetID = tg.ID
		t.Created = m.now().UnixMilli()
		_, err = tx.CreateTask(ctx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task created",
		slog.Int64("task_id", t.ID),
		slog.Int64("target_id", t.TargetID),
		slog.String("category_id", t.CategoryID),
		slog.String("action_type", t.ActionType))
	return t, nil
}

// AdmissionQuery previews an admission decision for the caller.
type AdmissionQuery struct {
	TargetID   int64
	CategoryID string
	ActionType string
	Step       int
}

// CheckAdmission runs the resolver read-only, assuming steps so far were
// performed in order.
func (m *Machine) CheckAdmission(ctx context.Context, actor models.Actor, q AdmissionQuery) (admission.Decision, error) {
	if err := actor.CheckScope(q.CategoryID); err != nil {
		return admission.Decision{}, err
	}
	if q.CategoryID == "" || q.ActionType == "" || q.TargetID <= 0 {
		return admission.Decision{}, apperr.Validation("invalid_query", "target_id, category_id and action_type are required")
	}
	step := q.Step
	if step <= 0 {
		step = 1
	}
	return m.resolver.CanPerform(ctx, m.store, admission.Request{
		UserID:     actor.UserID,
		TargetID:   q.TargetID,
		CategoryID: q.CategoryID,
		ActionType: q.ActionType,
		Role:       actor.Role,
		Step:       step,
		LastStep:   step - 1,
		Now:        m.now(),
	})
}

// isConflict reports whether err came from a uniqueness constraint.
func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}
