package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/garnizeh/taskgate/internal/models"
)

// Handler processes one job. A returned error schedules a retry until the
// job runs out of attempts.
type Handler func(ctx context.Context, j *models.BackgroundJob) error

// ErrMaxAttempts indicates the job reached max attempts
var ErrMaxAttempts = errors.New("max attempts reached")

// ErrNoHandler is recorded on jobs whose type has no registered handler.
var ErrNoHandler = errors.New("no handler")

// BackoffDuration returns exponential backoff duration for attempt n
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	// 2^attempt seconds, capped
	const ceiling = 5 * time.Minute
	if attempt >= 9 {
		return ceiling
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > ceiling {
		return ceiling
	}
	return d
}

// ClaimExpirer reverts lapsed claims; lifecycle.Machine implements it.
type ClaimExpirer interface {
	ExpireClaims(ctx context.Context, now time.Time) (int, error)
}

// ExpireClaimsHandler runs one claim sweep at the handler's clock.
func ExpireClaimsHandler(e ClaimExpirer, now func() time.Time, logger *slog.Logger) Handler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *models.BackgroundJob) error {
		n, err := e.ExpireClaims(ctx, now())
		if err != nil {
			return err
		}
		logger.Debug("claim sweep finished", slog.Int64("job_id", j.ID), slog.Int("reverted", n))
		return nil
	}
}
