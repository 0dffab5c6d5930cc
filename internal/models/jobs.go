package models

import (
	"encoding/json"
	"time"
)

// Job statuses stored in the jobs table.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobRetry   = "retry"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job types handled by the worker pool.
const (
	JobExpireClaims = "tasks.expire_claims"
)

type BackgroundJob struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}
