// Package metrics rolls up per-day role counters and manages fraud flags.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

type Outcome string

const (
	Approved Outcome = "approved"
	Rejected Outcome = "rejected"
	Flagged  Outcome = "flagged"
)

func (o Outcome) delta() (repository.MetricsDelta, bool) {
	switch o {
	case Approved:
		return repository.MetricsDelta{Total: 1, Approved: 1}, true
	case Rejected:
		return repository.MetricsDelta{Total: 1, Rejected: 1}, true
	case Flagged:
		return repository.MetricsDelta{Flagged: 1}, true
	}
	return repository.MetricsDelta{}, false
}

// FlagWriter is what RaiseFlag writes through.
type FlagWriter interface {
	repository.FlagRepo
	repository.MetricsRepo
}

type Aggregator struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store repository.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// RecordOutcome adds one outcome to the (user, role, category) row of the
// UTC day of at, creating the row on first use.
func (a *Aggregator) RecordOutcome(ctx context.Context, repo repository.MetricsRepo, userID int64, role, categoryID string, o Outcome, at time.Time) error {
	d, ok := o.delta()
	if !ok {
		return apperr.Validation("invalid_outcome", "unknown outcome %q", o)
	}
	if err := repo.IncrementRoleMetrics(ctx, userID, role, categoryID, models.DayBucket(at), d, at.UTC().UnixMilli()); err != nil {
		return err
	}
	a.logger.Debug("outcome recorded",
		slog.Int64("user_id", userID),
		slog.String("role", role),
		slog.String("category_id", categoryID),
		slog.String("outcome", string(o)))
	return nil
}

// RaiseFlag stores f and bumps the flagged counter of the flagged user.
func (a *Aggregator) RaiseFlag(ctx context.Context, repo FlagWriter, f *models.FlaggedAction, at time.Time) error {
	if f.Reason == "" {
		return apperr.Validation("invalid_flag", "reason is required")
	}
	f.Created = at.UTC().UnixMilli()
	if _, err := repo.CreateFlag(ctx, f); err != nil {
		return fmt.Errorf("create flag: %w", err)
	}
	if err := a.RecordOutcome(ctx, repo, f.UserID, f.Role, f.CategoryID, Flagged, at); err != nil {
		return err
	}
	a.logger.Info("action flagged",
		slog.Int64("flag_id", f.ID),
		slog.Int64("user_id", f.UserID),
		slog.Int64("target_id", f.TargetID),
		slog.String("reason", f.Reason))
	return nil
}

// ResolveFlag marks the flag resolved exactly once. Resolving a resolved
// flag returns it unchanged.
func (a *Aggregator) ResolveFlag(ctx context.Context, actor models.Actor, flagID int64, resolution string) (*models.FlaggedAction, error) {
	if err := actor.Require(actor.CanAudit(), "resolve flags"); err != nil {
		return nil, err
	}
	if resolution == "" {
		return nil, apperr.Validation("invalid_resolution", "resolution is required")
	}

	var out *models.FlaggedAction
	err := a.store.InTx(ctx, func(tx repository.Store) error {
		f, err := tx.GetFlag(ctx, flagID)
		if err != nil {
			return err
		}
		if f == nil {
			return apperr.NotFound("flag %d", flagID)
		}
		if err := actor.CheckScope(f.CategoryID); err != nil {
			return err
		}
		if f.Resolved {
			a.logger.Debug("flag already resolved", slog.Int64("flag_id", flagID))
			out = f
			return nil
		}
		if _, err := tx.ResolveFlag(ctx, flagID, resolution, actor.UserID, a.now().UTC().UnixMilli()); err != nil {
			return err
		}
		out, err = tx.GetFlag(ctx, flagID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary is a user's metric rows with their sum.
type Summary struct {
	UserID   int64                `json:"user_id"`
	From     string               `json:"from,omitempty"`
	To       string               `json:"to,omitempty"`
	Total    int                  `json:"total_actions"`
	Approved int                  `json:"approved_actions"`
	Rejected int                  `json:"rejected_actions"`
	Flagged  int                  `json:"flagged_actions"`
	Rows     []models.RoleMetrics `json:"rows"`
}

// UserMetrics returns the user's rows between two inclusive YYYY-MM-DD dates;
// empty bounds are open.
func (a *Aggregator) UserMetrics(ctx context.Context, userID int64, from, to string) (*Summary, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, apperr.Validation("invalid_date", "date %q is not YYYY-MM-DD", d)
		}
	}
	rows, err := a.store.ListRoleMetrics(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	s := &Summary{UserID: userID, From: from, To: to, Rows: rows}
	if s.Rows == nil {
		s.Rows = []models.RoleMetrics{}
	}
	for _, r := range rows {
		s.Total += r.Total
		s.Approved += r.Approved
		s.Rejected += r.Rejected
		s.Flagged += r.Flagged
	}
	return s, nil
}

func (a *Aggregator) ListFlags(ctx context.Context, resolved *bool, limit, offset int) ([]models.FlaggedAction, error) {
	flags, err := a.store.ListFlags(ctx, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		flags = []models.FlaggedAction{}
	}
	return flags, nil
}
