package rules

import (
	"log/slog"
	"sort"
	"time"

	"github.com/garnizeh/taskgate/internal/models"
)

type Source string

const (
	SourceCategoryAction  Source = "category_action"
	SourceCategoryDefault Source = "category_default"
	SourceStatic          Source = "static"
	SourceFallback        Source = "fallback"
)

const day = 24 * time.Hour

// EffectiveRule is the single rule governing an admission decision.
type EffectiveRule struct {
	CategoryID         string        `json:"category_id"`
	ActionType         string        `json:"action_type"`
	Role               string        `json:"role"`
	Cooldown           time.Duration `json:"-"`
	CooldownMS         int64         `json:"cooldown_ms"`
	DailyLimit         int           `json:"daily_limit"`
	RequiredActions    int           `json:"required_actions"`
	ScreenshotRequired bool          `json:"screenshot_required"`
	StrictOrder        bool          `json:"strict_order"`
	Source             Source        `json:"source"`
	RuleID             int64         `json:"rule_id,omitempty"`
}

// specificity scores a row: exact action 2, exact role 1.
func specificity(r models.CategoryRule) int {
	s := 0
	if r.ActionType != models.Wildcard {
		s += 2
	}
	if r.Role != models.Wildcard {
		s++
	}
	return s
}

func matches(r models.CategoryRule, categoryID, actionType, role string) bool {
	if r.Status != models.RuleActive || r.CategoryID != categoryID {
		return false
	}
	if r.ActionType != actionType && r.ActionType != models.Wildcard {
		return false
	}
	return r.Role == role || r.Role == models.Wildcard
}

// pick returns the winning row among matches, ordered by specificity,
// priority, created and id, all descending.
func pick(rows []models.CategoryRule, categoryID, actionType, role string) (models.CategoryRule, bool) {
	var cands []models.CategoryRule
	for _, r := range rows {
		if matches(r, categoryID, actionType, role) {
			cands = append(cands, r)
		}
	}
	if len(cands) == 0 {
		return models.CategoryRule{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if sa, sb := specificity(a), specificity(b); sa != sb {
			return sa > sb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Created != b.Created {
			return a.Created > b.Created
		}
		return a.ID > b.ID
	})
	return cands[0], true
}

// Resolve computes the effective rule. It is pure apart from logging: the
// same table and rows always give the same result.
func Resolve(t *Table, rows []models.CategoryRule, categoryID, actionType, role string, logger *slog.Logger) EffectiveRule {
	if logger == nil {
		logger = slog.Default()
	}

	base, static := t.lookup(categoryID, actionType)
	if !static {
		base = EffectiveRule{
			Cooldown:           t.minCooldown(),
			DailyLimit:         defaultDaily,
			RequiredActions:    1,
			ScreenshotRequired: true,
		}
	}

	row, ok := pick(rows, categoryID, actionType, role)
	switch {
	case ok:
		if row.CooldownDaysOverride != nil {
			base.Cooldown = time.Duration(*row.CooldownDaysOverride) * day
		}
		if row.DailyLimitOverride != nil {
			base.DailyLimit = *row.DailyLimitOverride
		}
		if row.RequiredActions > 0 {
			base.RequiredActions = row.RequiredActions
		}
		base.ScreenshotRequired = row.ScreenshotRequired
		base.StrictOrder = row.StrictOrder
		base.RuleID = row.ID
		base.Source = SourceCategoryDefault
		if row.ActionType != models.Wildcard {
			base.Source = SourceCategoryAction
		}
	case static:
		base.Source = SourceStatic
	default:
		base.Source = SourceFallback
		logger.Warn("no rule configured, using restrictive fallback",
			slog.String("category_id", categoryID),
			slog.String("action_type", actionType),
			slog.String("role", role),
			slog.Duration("cooldown", base.Cooldown))
	}

	base.CategoryID = categoryID
	base.ActionType = actionType
	base.Role = role
	base.CooldownMS = base.Cooldown.Milliseconds()
	return base
}
