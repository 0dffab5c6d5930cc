// Package jobs runs queued background work on a small worker pool.
//
// inputs: job table rows, handlers map
// outputs: job status updates, dead-letter moves on permanent failure
// error modes: db errors, handler errors
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/pkg/repository"
)

type WorkerPool struct {
	repo        repository.JobRepo
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	poll        time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewWorkerPool(repo repository.JobRepo, handlers map[string]Handler, logger *slog.Logger, cfg config.JobsConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: cfg.Workers,
		poll:        cfg.PollInterval,
		stop:        make(chan struct{}),
	}
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. It is safe to call more
// than once.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// wait sleeps for d unless the pool is stopping; it reports whether the
// worker should keep going.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Debug("worker stopping", slog.Int("id", id))
			return
		case <-ctx.Done():
			p.logger.Debug("context canceled, worker exiting", slog.Int("id", id))
			return
		default:
		}

		job, err := p.repo.FetchNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("fetch job", slog.Any("err", err))
			}
			if !p.wait(ctx, 2*p.poll) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(ctx, p.poll) {
				return
			}
			continue
		}
		p.run(ctx, job)
	}
}

func (p *WorkerPool) run(ctx context.Context, job *models.BackgroundJob) {
	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = models.JobFailed
		job.LastError = ErrNoHandler.Error()
		if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
			p.logger.Error("move to dead letter", slog.Int64("job_id", job.ID), slog.Any("err", err))
		}
		p.logger.Warn("job without handler", slog.Int64("job_id", job.ID), slog.String("type", job.Type))
		return
	}

	err := h(ctx, job)
	if err == nil {
		job.Status = models.JobDone
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			p.logger.Error("update finished job", slog.Int64("job_id", job.ID), slog.Any("err", upErr))
		}
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = models.JobFailed
		if mvErr := p.repo.MoveToDeadLetter(ctx, job); mvErr != nil {
			p.logger.Error("move to dead letter", slog.Int64("job_id", job.ID), slog.Any("err", mvErr))
		}
		p.logger.Error("job failed permanently",
			slog.Int64("job_id", job.ID),
			slog.String("type", job.Type),
			slog.Any("err", fmt.Errorf("%w: %v", ErrMaxAttempts, err)))
		return
	}

	next := time.Now().Add(BackoffDuration(job.Attempts))
	job.NextTryAt = &next
	job.Status = models.JobRetry
	if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
		p.logger.Error("update job for retry", slog.Int64("job_id", job.ID), slog.Any("err", upErr))
	}
	p.logger.Warn("job failed, retrying",
		slog.Int64("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Int("attempt", job.Attempts),
		slog.Any("err", err))
}

// Enqueue convenience helper that creates a job and persists it
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	j := &models.BackgroundJob{Type: typ, Payload: b, Priority: priority, MaxAttempts: maxAttempts, ScheduledAt: time.Now()}
	return p.repo.Enqueue(ctx, j)
}
