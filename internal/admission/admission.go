// Package admission decides whether a worker may act on a target now.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/internal/rules"
	"github.com/garnizeh/taskgate/pkg/repository"
)

// Repo is the read surface the resolver needs.
type Repo interface {
	repository.RuleRepo
	repository.ContactRepo
	repository.ActionRepo
}

type Request struct {
	UserID     int64
	TargetID   int64
	CategoryID string
	ActionType string
	Role       string
	// Step is the 1-based ordinal of the action within its task; zero means 1.
	Step int
	// LastStep is the highest step already live on the task.
	LastStep int
	Now      time.Time
}

type Decision struct {
	Allowed    bool                `json:"allowed"`
	RetryAfter time.Duration       `json:"-"`
	Reason     string              `json:"reason,omitempty"`
	Message    string              `json:"message,omitempty"`
	Rule       rules.EffectiveRule `json:"rule"`
}

// Err returns the denial as an apperr.Error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Denied(d.Reason, d.Message, d.RetryAfter)
}

type Resolver struct {
	rules  *rules.Store
	logger *slog.Logger
}

func NewResolver(rs *rules.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{rules: rs, logger: logger}
}

// CanPerform evaluates cooldowns, the daily quota and step order. It never
// writes; quota is consumed only when the action is actually recorded.
func (r *Resolver) CanPerform(ctx context.Context, repo Repo, req Request) (Decision, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if req.Step == 0 {
		req.Step = 1
	}

	rule, err := r.rules.With(repo).Effective(ctx, req.CategoryID, req.ActionType, req.Role)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Rule: rule}

	if req.Step < 1 || req.Step > rule.RequiredActions {
		return d, apperr.Validation("invalid_step", "step %d outside 1..%d", req.Step, rule.RequiredActions)
	}

	nowMS := req.Now.UTC().UnixMilli()
	if rule.Cooldown > 0 {
		end, who, err := r.cooldownEnd(ctx, repo, req, rule)
		if err != nil {
			return d, err
		}
		if nowMS < end {
			d.Reason = apperr.ReasonCooldownActive
			d.RetryAfter = time.Duration(end-nowMS) * time.Millisecond
			d.Message = fmt.Sprintf("%s cooldown active until %s", who, time.UnixMilli(end).UTC().Format(time.RFC3339))
			r.deny(req, d)
			return d, nil
		}
	}

	if req.Step == 1 {
		n, err := repo.CountQuotaActions(ctx, req.UserID, req.CategoryID, req.ActionType, models.DayBucket(req.Now))
		if err != nil {
			return d, fmt.Errorf("count quota actions: %w", err)
		}
		if n >= rule.DailyLimit {
			d.Reason = apperr.ReasonDailyLimit
			d.RetryAfter = models.NextDay(req.Now).Sub(req.Now)
			d.Message = fmt.Sprintf("daily limit reached (%d/%d)", n, rule.DailyLimit)
			r.deny(req, d)
			return d, nil
		}
	}

	if rule.RequiredActions > 1 && req.Step != req.LastStep+1 {
		if rule.StrictOrder {
			d.Reason = apperr.ReasonOutOfOrderStep
			d.Message = fmt.Sprintf("step %d submitted after step %d", req.Step, req.LastStep)
			r.deny(req, d)
			return d, nil
		}
		r.logger.Info("out of order step allowed",
			slog.Int64("user_id", req.UserID),
			slog.String("category_id", req.CategoryID),
			slog.String("action_type", req.ActionType),
			slog.Int("step", req.Step),
			slog.Int("last_step", req.LastStep))
	}

	d.Allowed = true
	return d, nil
}

// cooldownEnd returns the later of the worker's own window and the target's
// window in this category.
func (r *Resolver) cooldownEnd(ctx context.Context, repo Repo, req Request, rule rules.EffectiveRule) (int64, string, error) {
	cd := rule.Cooldown.Milliseconds()
	var (
		end int64
		who string
	)

	rec, err := repo.GetCooldownRecord(ctx, req.UserID, req.TargetID, req.ActionType, req.CategoryID)
	if err != nil {
		return 0, "", fmt.Errorf("get cooldown record: %w", err)
	}
	if rec != nil && rec.ActionCount > 0 {
		end, who = rec.CooldownStartedAt+cd, "worker"
	}

	lc, err := repo.GetLastContact(ctx, req.TargetID, req.CategoryID)
	if err != nil {
		return 0, "", fmt.Errorf("get last contact: %w", err)
	}
	if lc != nil && lc.LastContacted+cd > end {
		end, who = lc.LastContacted+cd, "target"
	}
	return end, who, nil
}

func (r *Resolver) deny(req Request, d Decision) {
	r.logger.Debug("admission denied",
		slog.Int64("user_id", req.UserID),
		slog.Int64("target_id", req.TargetID),
		slog.String("category_id", req.CategoryID),
		slog.String("action_type", req.ActionType),
		slog.String("reason", d.Reason),
		slog.Duration("retry_after", d.RetryAfter))
}
