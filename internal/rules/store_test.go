package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/dbtest"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/internal/rules"
)

func TestStoreUpsertValidation(t *testing.T) {
	store := rules.NewStore(rules.NewTable(nil), dbtest.Repo(t, false), nil)
	ctx := context.Background()
	neg := -1

	cases := []struct {
		name string
		rule *models.CategoryRule
	}{
		{"nil", nil},
		{"missing category", &models.CategoryRule{}},
		{"bad status", &models.CategoryRule{CategoryID: "c", Status: "paused"}},
		{"bad role", &models.CategoryRule{CategoryID: "c", Role: "guest"}},
		{"negative required", &models.CategoryRule{CategoryID: "c", RequiredActions: -2}},
		{"negative limit", &models.CategoryRule{CategoryID: "c", DailyLimitOverride: &neg}},
		{"negative cooldown", &models.CategoryRule{CategoryID: "c", CooldownDaysOverride: &neg}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Upsert(ctx, tc.rule)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestStoreEffectiveReadsRows(t *testing.T) {
	store := rules.NewStore(rules.NewTable(config.DefaultCooldowns()), dbtest.Repo(t, false), nil)
	ctx := context.Background()

	before, err := store.Effective(ctx, "product_a", "linkedin.connect", models.RoleWorker)
	if err != nil {
		t.Fatalf("Effective error: %v", err)
	}
	if before.Source != rules.SourceStatic {
		t.Fatalf("expected static rule before upsert, got %s", before.Source)
	}

	limit, days := 1, 7
	r := &models.CategoryRule{CategoryID: "product_a", ActionType: "linkedin.connect", DailyLimitOverride: &limit, CooldownDaysOverride: &days, ScreenshotRequired: true}
	if err := store.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if r.Role != models.Wildcard || r.Status != models.RuleActive || r.RequiredActions != 1 {
		t.Fatalf("expected defaults filled, got %#v", r)
	}

	after, err := store.Effective(ctx, "product_a", "linkedin.connect", models.RoleWorker)
	if err != nil {
		t.Fatalf("Effective error: %v", err)
	}
	if after.Source != rules.SourceCategoryAction || after.DailyLimit != 1 || after.Cooldown != 7*24*time.Hour || after.RuleID != r.ID {
		t.Fatalf("unexpected effective rule: %#v", after)
	}

	again, err := store.Effective(ctx, "product_a", "linkedin.connect", models.RoleWorker)
	if err != nil {
		t.Fatalf("Effective error: %v", err)
	}
	if again != after {
		t.Fatalf("expected identical results without writes: %#v vs %#v", again, after)
	}

	set, err := store.EffectiveSet(ctx, "product_a", models.RoleWorker)
	if err != nil {
		t.Fatalf("EffectiveSet error: %v", err)
	}
	found := false
	for _, e := range set {
		if e.ActionType == "linkedin.connect" {
			found = e.RuleID == r.ID
		}
	}
	if !found {
		t.Fatalf("expected linkedin.connect in effective set backed by rule %d: %#v", r.ID, set)
	}

	rows, err := store.List(ctx, "product_a")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", len(rows), err)
	}
}
