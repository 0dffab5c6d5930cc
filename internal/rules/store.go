package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

// Store reads and writes category rules and resolves them against the
// static table.
type Store struct {
	table  *Table
	repo   repository.RuleRepo
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(table *Table, repo repository.RuleRepo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = NewTable(nil)
	}
	return &Store{table: table, repo: repo, logger: logger, now: time.Now}
}

// With returns a Store reading through repo, typically a transaction.
func (s *Store) With(repo repository.RuleRepo) *Store {
	cp := *s
	cp.repo = repo
	return &cp
}

func (s *Store) Table() *Table { return s.table }

// Effective returns the rule governing (categoryID, actionType, role).
func (s *Store) Effective(ctx context.Context, categoryID, actionType, role string) (EffectiveRule, error) {
	rows, err := s.repo.ListCategoryRules(ctx, categoryID)
	if err != nil {
		return EffectiveRule{}, fmt.Errorf("list category rules: %w", err)
	}
	return Resolve(s.table, rows, categoryID, actionType, role, s.logger), nil
}

// EffectiveSet resolves every action type known for the category: the
// static table's plus any named by a row.
func (s *Store) EffectiveSet(ctx context.Context, categoryID, role string) ([]EffectiveRule, error) {
	rows, err := s.repo.ListCategoryRules(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list category rules: %w", err)
	}

	seen := map[string]bool{}
	var types []string
	for _, at := range s.table.ActionTypes() {
		seen[at] = true
		types = append(types, at)
	}
	for _, r := range rows {
		if r.ActionType != models.Wildcard && !seen[r.ActionType] {
			seen[r.ActionType] = true
			types = append(types, r.ActionType)
		}
	}
	sort.Strings(types)

	out := make([]EffectiveRule, 0, len(types))
	for _, at := range types {
		out = append(out, Resolve(s.table, rows, categoryID, at, role, s.logger))
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, categoryID string) ([]models.CategoryRule, error) {
	return s.repo.ListCategoryRules(ctx, categoryID)
}

// Upsert validates r, fills defaults and writes it by its unique key.
func (s *Store) Upsert(ctx context.Context, r *models.CategoryRule) error {
	if err := Validate(r); err != nil {
		return err
	}
	r.Updated = s.now().UTC().UnixMilli()
	if _, err := s.repo.UpsertCategoryRule(ctx, r); err != nil {
		return err
	}
	s.logger.Info("category rule upserted",
		slog.Int64("id", r.ID),
		slog.String("category_id", r.CategoryID),
		slog.String("action_type", r.ActionType),
		slog.String("role", r.Role),
		slog.String("status", string(r.Status)))
	return nil
}

// Validate fills wildcard and status defaults and rejects bad rules.
func Validate(r *models.CategoryRule) error {
	if r == nil {
		return apperr.Validation("invalid_rule", "rule is required")
	}
	if r.CategoryID == "" {
		return apperr.Validation("invalid_rule", "category_id is required")
	}
	if r.ActionType == "" {
		r.ActionType = models.Wildcard
	}
	if r.Role == "" {
		r.Role = models.Wildcard
	}
	if r.Role != models.Wildcard && !models.ValidRole(r.Role) {
		return apperr.Validation("invalid_rule", "unknown role %q", r.Role)
	}
	if r.Status == "" {
		r.Status = models.RuleActive
	}
	if r.Status != models.RuleActive && r.Status != models.RuleInactive {
		return apperr.Validation("invalid_rule", "status must be active or inactive, got %q", r.Status)
	}
	if r.RequiredActions == 0 {
		r.RequiredActions = 1
	}
	if r.RequiredActions < 1 {
		return apperr.Validation("invalid_rule", "required_actions must be at least 1")
	}
	if r.DailyLimitOverride != nil && *r.DailyLimitOverride < 0 {
		return apperr.Validation("invalid_rule", "daily_limit_override must not be negative")
	}
	if r.CooldownDaysOverride != nil && *r.CooldownDaysOverride < 0 {
		return apperr.Validation("invalid_rule", "cooldown_days_override must not be negative")
	}
	return nil
}
