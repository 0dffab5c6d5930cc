// Package rules resolves the effective admission rule for a
// (category, action type, role) from operator rows and the static table.
package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/garnizeh/taskgate/internal/config"
)

const (
	fallbackCooldown = 24 * time.Hour
	defaultDaily     = 1
)

// Table is an immutable snapshot of the static cooldown configuration.
type Table struct {
	actions map[string]config.ActionCooldown
}

// NewTable copies cfg so later changes to the config map are not observed.
func NewTable(cfg map[string]config.ActionCooldown) *Table {
	t := &Table{actions: make(map[string]config.ActionCooldown, len(cfg))}
	for k, v := range cfg {
		cp := v
		cp.Categories = make(map[string]config.CooldownOverride, len(v.Categories))
		for ck, cv := range v.Categories {
			cp.Categories[ck] = cv
		}
		cp.SubActions = make(map[string]config.SubActionCooldown, len(v.SubActions))
		for sk, sv := range v.SubActions {
			sc := sv
			sc.Categories = make(map[string]config.CooldownOverride, len(sv.Categories))
			for ck, cv := range sv.Categories {
				sc.Categories[ck] = cv
			}
			cp.SubActions[sk] = sc
		}
		t.actions[k] = cp
	}
	return t
}

// splitAction splits "linkedin.connect" into ("linkedin", "connect").
func splitAction(actionType string) (top, sub string) {
	top, sub, _ = strings.Cut(actionType, ".")
	return top, sub
}

// lookup walks top-level action, category override, sub-action and
// sub-action category override. ok is false when the top-level action, or a
// named sub-action, is not configured.
func (t *Table) lookup(categoryID, actionType string) (EffectiveRule, bool) {
	top, sub := splitAction(actionType)
	ac, ok := t.actions[top]
	if !ok {
		return EffectiveRule{}, false
	}

	r := EffectiveRule{
		Cooldown:           time.Duration(ac.CooldownMS) * time.Millisecond,
		DailyLimit:         ac.DailyLimit,
		RequiredActions:    ac.RequiredActions,
		ScreenshotRequired: ac.ScreenshotRequired == nil || *ac.ScreenshotRequired,
		StrictOrder:        ac.StrictOrder,
	}
	if o, ok := ac.Categories[categoryID]; ok {
		r.apply(o)
	}
	if sub != "" {
		sc, ok := ac.SubActions[sub]
		if !ok {
			return EffectiveRule{}, false
		}
		r.apply(sc.CooldownOverride)
		if o, ok := sc.Categories[categoryID]; ok {
			r.apply(o)
		}
	}

	if r.DailyLimit <= 0 {
		r.DailyLimit = defaultDaily
	}
	if r.RequiredActions <= 0 {
		r.RequiredActions = 1
	}
	return r, true
}

// minCooldown returns the smallest positive cooldown anywhere in the table.
func (t *Table) minCooldown() time.Duration {
	var least int64
	consider := func(ms int64) {
		if ms > 0 && (least == 0 || ms < least) {
			least = ms
		}
	}
	considerOverride := func(o config.CooldownOverride) {
		if o.CooldownMS != nil {
			consider(*o.CooldownMS)
		}
	}
	for _, ac := range t.actions {
		consider(ac.CooldownMS)
		for _, o := range ac.Categories {
			considerOverride(o)
		}
		for _, sc := range ac.SubActions {
			considerOverride(sc.CooldownOverride)
			for _, o := range sc.Categories {
				considerOverride(o)
			}
		}
	}
	if least == 0 {
		return fallbackCooldown
	}
	return time.Duration(least) * time.Millisecond
}

// ActionTypes lists every configured action type, sub-actions dotted.
func (t *Table) ActionTypes() []string {
	var out []string
	for top, ac := range t.actions {
		out = append(out, top)
		for sub := range ac.SubActions {
			out = append(out, top+"."+sub)
		}
	}
	sort.Strings(out)
	return out
}

func (r *EffectiveRule) apply(o config.CooldownOverride) {
	if o.CooldownMS != nil {
		r.Cooldown = time.Duration(*o.CooldownMS) * time.Millisecond
	}
	if o.DailyLimit != nil {
		r.DailyLimit = *o.DailyLimit
	}
	if o.RequiredActions != nil {
		r.RequiredActions = *o.RequiredActions
	}
	if o.ScreenshotRequired != nil {
		r.ScreenshotRequired = *o.ScreenshotRequired
	}
	if o.StrictOrder != nil {
		r.StrictOrder = *o.StrictOrder
	}
}
