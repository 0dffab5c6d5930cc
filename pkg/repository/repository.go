package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/taskgate/internal/models"
)

// ErrConflict is wrapped by writes rejected by a uniqueness constraint.
var ErrConflict = errors.New("conflicting write")

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
//
// Lookups of a single row return (nil, nil) when the row does not exist.

type TargetRepo interface {
	GetOrCreateTarget(ctx context.Context, kind models.TargetKind, identifier string) (*models.Target, error)
	GetTarget(ctx context.Context, id int64) (*models.Target, error)
}

type TaskRepo interface {
	CreateTask(ctx context.Context, t *models.Task) (int64, error)
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	// CompareAndSwapTask writes the mutable fields of t only when the stored
	// version equals expectVersion, bumping the version. It reports whether
	// the row was written.
	CompareAndSwapTask(ctx context.Context, t *models.Task, expectVersion int64) (bool, error)
	ListExpiredClaims(ctx context.Context, nowMS int64, limit int) ([]models.Task, error)
}

type ActionRepo interface {
	CreateAction(ctx context.Context, a *models.Action) (int64, error)
	GetAction(ctx context.Context, id int64) (*models.Action, error)
	ListActionsByTask(ctx context.Context, taskID int64) ([]models.Action, error)
	// SetActionOutcome moves an action from one outcome to another; it reports
	// false when the action was not in the expected outcome.
	SetActionOutcome(ctx context.Context, id int64, from, to models.Outcome, decidedBy *int64, atMS int64) (bool, error)
	// CountQuotaActions counts the user's live step-1 actions in a day bucket.
	CountQuotaActions(ctx context.Context, userID int64, categoryID, actionType, dayBucket string) (int, error)
}

type EvidenceRepo interface {
	CreateScreenshot(ctx context.Context, s *models.Screenshot) (int64, error)
	GetScreenshotByAction(ctx context.Context, actionID int64) (*models.Screenshot, error)
	// FindScreenshotsByHash searches prior evidence with the same hash. Empty
	// actionType and categoryID search the whole corpus.
	FindScreenshotsByHash(ctx context.Context, hash, actionType, categoryID string, limit int) ([]models.Screenshot, error)
}

type FlagRepo interface {
	CreateFlag(ctx context.Context, f *models.FlaggedAction) (int64, error)
	GetFlag(ctx context.Context, id int64) (*models.FlaggedAction, error)
	// ResolveFlag sets resolved on an unresolved flag; false when the flag
	// was already resolved or does not exist.
	ResolveFlag(ctx context.Context, id int64, resolution string, resolvedBy int64, atMS int64) (bool, error)
	ListUnresolvedFlagsByTask(ctx context.Context, taskID int64) ([]models.FlaggedAction, error)
	ListFlags(ctx context.Context, resolved *bool, limit, offset int) ([]models.FlaggedAction, error)
}

type RuleRepo interface {
	UpsertCategoryRule(ctx context.Context, r *models.CategoryRule) (int64, error)
	ListCategoryRules(ctx context.Context, categoryID string) ([]models.CategoryRule, error)
}

type ContactRepo interface {
	GetCooldownRecord(ctx context.Context, userID, targetID int64, actionType, categoryID string) (*models.CooldownRecord, error)
	// TouchCooldownRecord creates the record with count 1 or increments the
	// count, restarting the window at atMS.
	TouchCooldownRecord(ctx context.Context, userID, targetID int64, actionType, categoryID string, atMS int64) error
	GetLastContact(ctx context.Context, targetID int64, categoryID string) (*models.LastContact, error)
	UpsertLastContact(ctx context.Context, lc *models.LastContact) error
}

// MetricsDelta is added to a RoleMetrics row.
type MetricsDelta struct {
	Total    int
	Approved int
	Rejected int
	Flagged  int
}

type MetricsRepo interface {
	IncrementRoleMetrics(ctx context.Context, userID int64, role, categoryID, date string, d MetricsDelta, atMS int64) error
	ListRoleMetrics(ctx context.Context, userID int64, fromDate, toDate string) ([]models.RoleMetrics, error)
}

type PaymentRepo interface {
	MarkPaymentEligible(ctx context.Context, taskID, userID int64, atMS int64) error
	GetPaymentRecord(ctx context.Context, taskID int64) (*models.PaymentRecord, error)
}

type JobRepo interface {
	Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error)
	FetchNext(ctx context.Context) (*models.BackgroundJob, error)
	UpdateJob(ctx context.Context, j *models.BackgroundJob) error
	MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error
}

// Store groups the domain repositories and runs them inside transactions.
type Store interface {
	TargetRepo
	TaskRepo
	ActionRepo
	EvidenceRepo
	FlagRepo
	RuleRepo
	ContactRepo
	MetricsRepo
	PaymentRepo

	// InTx runs fn with a Store bound to a single transaction. Nested calls
	// reuse the outer transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
