package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garnizeh/taskgate/internal/dbtest"
	"github.com/garnizeh/taskgate/internal/models"
	sqlite "github.com/garnizeh/taskgate/internal/repository/sqlite"
	"github.com/garnizeh/taskgate/pkg/repository"
)

func newTask(t *testing.T, repo *sqlite.SQLiteRepo, identifier string) *models.Task {
	t.Helper()
	ctx := context.Background()
	tg, err := repo.GetOrCreateTarget(ctx, models.TargetLinkedIn, identifier)
	if err != nil {
		t.Fatalf("GetOrCreateTarget error: %v", err)
	}
	task := &models.Task{Kind: models.TaskInquiry, TargetID: tg.ID, CategoryID: "product_a", ActionType: "linkedin"}
	if _, err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	return task
}

func TestTargetGetOrCreate(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()

	if _, err := repo.GetOrCreateTarget(ctx, models.TargetCompany, ""); err == nil {
		t.Fatalf("expected error for empty identifier")
	}

	a, err := repo.GetOrCreateTarget(ctx, models.TargetCompany, "acme.example")
	if err != nil {
		t.Fatalf("GetOrCreateTarget error: %v", err)
	}
	b, err := repo.GetOrCreateTarget(ctx, models.TargetCompany, "acme.example")
	if err != nil {
		t.Fatalf("GetOrCreateTarget second call error: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same target id, got %d and %d", a.ID, b.ID)
	}

	got, err := repo.GetTarget(ctx, 9999)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing target, got %#v, %v", got, err)
	}
}

func TestTaskCompareAndSwap(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/jane")

	if task.Status != models.TaskPending || task.Version != 1 || task.Attempt != 1 {
		t.Fatalf("unexpected defaults: %#v", task)
	}

	user := int64(7)
	exp := int64(5000)
	task.Status = models.TaskInProgress
	task.AssignedTo = &user
	task.ClaimExpiresAt = &exp
	ok, err := repo.CompareAndSwapTask(ctx, task, 1)
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}
	if task.Version != 2 {
		t.Fatalf("expected version 2, got %d", task.Version)
	}

	// stale version loses
	stale := *task
	stale.Status = models.TaskPending
	ok, err = repo.CompareAndSwapTask(ctx, &stale, 1)
	if err != nil {
		t.Fatalf("stale CAS error: %v", err)
	}
	if ok {
		t.Fatalf("expected stale CAS to fail")
	}

	got, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got.Status != models.TaskInProgress || !got.ClaimedBy(7) {
		t.Fatalf("unexpected task after CAS: %#v", got)
	}

	expired, err := repo.ListExpiredClaims(ctx, 4999, 10)
	if err != nil {
		t.Fatalf("ListExpiredClaims error: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired claims before expiry, got %d", len(expired))
	}
	expired, err = repo.ListExpiredClaims(ctx, 5000, 10)
	if err != nil {
		t.Fatalf("ListExpiredClaims error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != task.ID {
		t.Fatalf("expected task %d expired, got %#v", task.ID, expired)
	}
}

func TestActionLiveStepAndQuota(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/john")

	mk := func(step int) *models.Action {
		return &models.Action{TaskID: task.ID, UserID: 7, Step: step, ActionType: "linkedin", CategoryID: "product_a", TargetID: task.TargetID, DayBucket: "2026-03-01"}
	}

	first := mk(1)
	if _, err := repo.CreateAction(ctx, first); err != nil {
		t.Fatalf("CreateAction error: %v", err)
	}
	if _, err := repo.CreateAction(ctx, mk(1)); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict for second live action on step 1, got %v", err)
	}

	n, err := repo.CountQuotaActions(ctx, 7, "product_a", "linkedin", "2026-03-01")
	if err != nil {
		t.Fatalf("CountQuotaActions error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected quota count 1, got %d", n)
	}

	// step 2 does not count against quota
	if _, err := repo.CreateAction(ctx, mk(2)); err != nil {
		t.Fatalf("CreateAction step 2 error: %v", err)
	}
	if n, _ = repo.CountQuotaActions(ctx, 7, "product_a", "linkedin", "2026-03-01"); n != 1 {
		t.Fatalf("expected quota count 1 with step 2, got %d", n)
	}

	reviewer := int64(99)
	ok, err := repo.SetActionOutcome(ctx, first.ID, models.OutcomePending, models.OutcomeRejected, &reviewer, 1000)
	if err != nil || !ok {
		t.Fatalf("SetActionOutcome: ok=%v err=%v", ok, err)
	}
	ok, err = repo.SetActionOutcome(ctx, first.ID, models.OutcomePending, models.OutcomeApproved, &reviewer, 1001)
	if err != nil {
		t.Fatalf("SetActionOutcome error: %v", err)
	}
	if ok {
		t.Fatalf("expected outcome change from stale state to fail")
	}

	// rejected actions free both the quota and the step
	if n, _ = repo.CountQuotaActions(ctx, 7, "product_a", "linkedin", "2026-03-01"); n != 0 {
		t.Fatalf("expected quota count 0 after reject, got %d", n)
	}
	retry := mk(1)
	retry.PreviousActionID = &first.ID
	if _, err := repo.CreateAction(ctx, retry); err != nil {
		t.Fatalf("CreateAction after reject error: %v", err)
	}

	list, err := repo.ListActionsByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListActionsByTask error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(list))
	}
	got, err := repo.GetAction(ctx, retry.ID)
	if err != nil {
		t.Fatalf("GetAction error: %v", err)
	}
	if got.PreviousActionID == nil || *got.PreviousActionID != first.ID {
		t.Fatalf("expected previous action %d, got %#v", first.ID, got.PreviousActionID)
	}
}

func TestScreenshotHashScope(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/ann")

	a := &models.Action{TaskID: task.ID, UserID: 1, Step: 1, ActionType: "linkedin", CategoryID: "product_a", TargetID: task.TargetID, DayBucket: "2026-03-01"}
	if _, err := repo.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction error: %v", err)
	}
	s := &models.Screenshot{ActionID: a.ID, MimeType: "image/png", FileSize: 10, Hash: "abc", UploadedBy: 1}
	if _, err := repo.CreateScreenshot(ctx, s); err != nil {
		t.Fatalf("CreateScreenshot error: %v", err)
	}

	cases := []struct {
		name       string
		actionType string
		category   string
		want       int
	}{
		{"corpus", "", "", 1},
		{"same scope", "linkedin", "product_a", 1},
		{"other action", "email", "product_a", 0},
		{"other category", "linkedin", "product_b", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.FindScreenshotsByHash(ctx, "abc", tc.actionType, tc.category, 10)
			if err != nil {
				t.Fatalf("FindScreenshotsByHash error: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("expected %d matches, got %d", tc.want, len(got))
			}
		})
	}

	byAction, err := repo.GetScreenshotByAction(ctx, a.ID)
	if err != nil || byAction == nil || byAction.Hash != "abc" {
		t.Fatalf("GetScreenshotByAction: %#v, %v", byAction, err)
	}
}

func TestFlagResolveOnce(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/bob")

	f := &models.FlaggedAction{UserID: 1, TargetID: task.TargetID, ActionType: "linkedin", CategoryID: "product_a", Role: "worker", TaskID: &task.ID, Reason: models.FlagReasonReusedScreenshot}
	if _, err := repo.CreateFlag(ctx, f); err != nil {
		t.Fatalf("CreateFlag error: %v", err)
	}

	open, err := repo.ListUnresolvedFlagsByTask(ctx, task.ID)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 unresolved flag, got %d (%v)", len(open), err)
	}

	ok, err := repo.ResolveFlag(ctx, f.ID, "confirmed", 99, 2000)
	if err != nil || !ok {
		t.Fatalf("ResolveFlag: ok=%v err=%v", ok, err)
	}
	ok, err = repo.ResolveFlag(ctx, f.ID, "again", 99, 3000)
	if err != nil {
		t.Fatalf("ResolveFlag second call error: %v", err)
	}
	if ok {
		t.Fatalf("expected second resolve to report false")
	}

	got, err := repo.GetFlag(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFlag error: %v", err)
	}
	if !got.Resolved || got.Resolution == nil || *got.Resolution != "confirmed" || *got.ResolvedAt != 2000 {
		t.Fatalf("unexpected flag after resolve: %#v", got)
	}

	resolved := true
	list, err := repo.ListFlags(ctx, &resolved, 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 resolved flag, got %d (%v)", len(list), err)
	}
	resolved = false
	list, err = repo.ListFlags(ctx, &resolved, 10, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected 0 unresolved flags, got %d (%v)", len(list), err)
	}
}

func TestCategoryRuleUpsert(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()

	limit := 1
	r := &models.CategoryRule{CategoryID: "product_a", ActionType: "linkedin.connect", Role: models.Wildcard, DailyLimitOverride: &limit, RequiredActions: 1, ScreenshotRequired: true, Status: models.RuleActive, Priority: 10, Updated: 1000}
	id, err := repo.UpsertCategoryRule(ctx, r)
	if err != nil {
		t.Fatalf("UpsertCategoryRule error: %v", err)
	}

	days := 7
	again := &models.CategoryRule{CategoryID: "product_a", ActionType: "linkedin.connect", Role: models.Wildcard, CooldownDaysOverride: &days, RequiredActions: 1, Status: models.RuleInactive, Updated: 2000}
	id2, err := repo.UpsertCategoryRule(ctx, again)
	if err != nil {
		t.Fatalf("UpsertCategoryRule update error: %v", err)
	}
	if id != id2 {
		t.Fatalf("expected upsert to keep id %d, got %d", id, id2)
	}
	if again.Created != 1000 {
		t.Fatalf("expected created to be preserved, got %d", again.Created)
	}

	rules, err := repo.ListCategoryRules(ctx, "product_a")
	if err != nil {
		t.Fatalf("ListCategoryRules error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	got := rules[0]
	if got.DailyLimitOverride != nil || got.CooldownDaysOverride == nil || *got.CooldownDaysOverride != 7 || got.Status != models.RuleInactive {
		t.Fatalf("unexpected rule after upsert: %#v", got)
	}
}

func TestSeededCategoryRules(t *testing.T) {
	repo := dbtest.Repo(t, true)
	rules, err := repo.ListCategoryRules(context.Background(), "product_a")
	if err != nil {
		t.Fatalf("ListCategoryRules error: %v", err)
	}
	if len(rules) < 2 {
		t.Fatalf("expected seeded product_a rules, got %d", len(rules))
	}
}

func TestContactsAndCooldowns(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/eve")

	rec, err := repo.GetCooldownRecord(ctx, 1, task.TargetID, "linkedin", "product_a")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, nil for missing record: %#v, %v", rec, err)
	}
	if err := repo.TouchCooldownRecord(ctx, 1, task.TargetID, "linkedin", "product_a", 1000); err != nil {
		t.Fatalf("TouchCooldownRecord error: %v", err)
	}
	if err := repo.TouchCooldownRecord(ctx, 1, task.TargetID, "linkedin", "product_a", 5000); err != nil {
		t.Fatalf("TouchCooldownRecord second error: %v", err)
	}
	rec, err = repo.GetCooldownRecord(ctx, 1, task.TargetID, "linkedin", "product_a")
	if err != nil {
		t.Fatalf("GetCooldownRecord error: %v", err)
	}
	if rec.ActionCount != 2 || rec.CooldownStartedAt != 5000 {
		t.Fatalf("unexpected cooldown record: %#v", rec)
	}

	lc := &models.LastContact{TargetID: task.TargetID, CategoryID: "product_a", LastContacted: 1000, ContactedBy: 1, TaskType: models.TaskInquiry}
	if err := repo.UpsertLastContact(ctx, lc); err != nil {
		t.Fatalf("UpsertLastContact error: %v", err)
	}
	lc.LastContacted = 9000
	lc.ContactedBy = 2
	if err := repo.UpsertLastContact(ctx, lc); err != nil {
		t.Fatalf("UpsertLastContact update error: %v", err)
	}
	got, err := repo.GetLastContact(ctx, task.TargetID, "product_a")
	if err != nil {
		t.Fatalf("GetLastContact error: %v", err)
	}
	if got.LastContacted != 9000 || got.ContactedBy != 2 {
		t.Fatalf("unexpected last contact: %#v", got)
	}
}

func TestRoleMetricsAndPayments(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()

	if err := repo.IncrementRoleMetrics(ctx, 1, "worker", "product_a", "2026-03-01", repository.MetricsDelta{Total: 1, Approved: 1}, 1000); err != nil {
		t.Fatalf("IncrementRoleMetrics error: %v", err)
	}
	if err := repo.IncrementRoleMetrics(ctx, 1, "worker", "product_a", "2026-03-01", repository.MetricsDelta{Total: 1, Rejected: 1}, 2000); err != nil {
		t.Fatalf("IncrementRoleMetrics second error: %v", err)
	}
	if err := repo.IncrementRoleMetrics(ctx, 1, "worker", "product_a", "2026-03-02", repository.MetricsDelta{Flagged: 1}, 3000); err != nil {
		t.Fatalf("IncrementRoleMetrics next day error: %v", err)
	}

	rows, err := repo.ListRoleMetrics(ctx, 1, "2026-03-01", "2026-03-01")
	if err != nil {
		t.Fatalf("ListRoleMetrics error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if m := rows[0]; m.Total != 2 || m.Approved != 1 || m.Rejected != 1 || m.Flagged != 0 {
		t.Fatalf("unexpected metrics row: %#v", m)
	}
	all, err := repo.ListRoleMetrics(ctx, 1, "", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 rows unbounded, got %d (%v)", len(all), err)
	}

	task := newTask(t, repo, "https://linkedin.example/in/pay")
	if err := repo.MarkPaymentEligible(ctx, task.ID, 1, 1000); err != nil {
		t.Fatalf("MarkPaymentEligible error: %v", err)
	}
	if err := repo.MarkPaymentEligible(ctx, task.ID, 1, 2000); err != nil {
		t.Fatalf("MarkPaymentEligible repeat error: %v", err)
	}
	p, err := repo.GetPaymentRecord(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetPaymentRecord error: %v", err)
	}
	if !p.Eligible || p.EligibleAt == nil || *p.EligibleAt != 1000 {
		t.Fatalf("unexpected payment record: %#v", p)
	}
}

func TestInTxRollback(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()
	task := newTask(t, repo, "https://linkedin.example/in/tx")

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx repository.Store) error {
		if err := tx.MarkPaymentEligible(ctx, task.ID, 1, 1000); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	p, err := repo.GetPaymentRecord(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetPaymentRecord error: %v", err)
	}
	if p != nil {
		t.Fatalf("expected rollback to discard payment record, got %#v", p)
	}
}

func TestJobQueueClaimsOnce(t *testing.T) {
	repo := dbtest.Repo(t, false)
	ctx := context.Background()

	j := &models.BackgroundJob{Type: models.JobExpireClaims, Payload: []byte(`{}`), Priority: 10, ScheduledAt: time.Now().Add(-time.Second)}
	if _, err := repo.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	got, err := repo.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext error: %v", err)
	}
	if got == nil || got.ID != j.ID || got.Status != models.JobRunning {
		t.Fatalf("unexpected fetched job: %#v", got)
	}
	again, err := repo.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext second error: %v", err)
	}
	if again != nil {
		t.Fatalf("expected running job to be skipped, got %#v", again)
	}

	got.Attempts = 5
	got.LastError = "failed"
	if err := repo.MoveToDeadLetter(ctx, got); err != nil {
		t.Fatalf("MoveToDeadLetter error: %v", err)
	}
	n, err := repo.CountDeadLetters(ctx, models.JobExpireClaims)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 dead letter, got %d (%v)", n, err)
	}
}
