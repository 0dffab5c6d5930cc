package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler enqueues a job of one type on a fixed interval.
type Scheduler struct {
	pool     *WorkerPool
	typ      string
	interval time.Duration
	priority int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(pool *WorkerPool, typ string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{pool: pool, typ: typ, interval: interval, priority: 10, logger: logger, stop: make(chan struct{})}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				id, err := s.pool.Enqueue(ctx, s.typ, struct{}{}, s.priority, 3)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Error("schedule job", slog.String("type", s.typ), slog.Any("err", err))
					}
					continue
				}
				s.logger.Debug("job scheduled", slog.String("type", s.typ), slog.Int64("job_id", id))
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
