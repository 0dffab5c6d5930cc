package models

import (
	"fmt"
	"time"
)

// TaskStatus is the closed set of task states. Persisted values are the
// string constants; anything else read from storage is rejected by
// ParseTaskStatus.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskSubmitted  TaskStatus = "SUBMITTED"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskRejected   TaskStatus = "REJECTED"
)

var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress},
	TaskInProgress: {TaskPending, TaskSubmitted},
	TaskSubmitted:  {TaskCompleted, TaskRejected},
	TaskRejected:   {TaskPending},
	TaskCompleted:  nil,
}

// CanTransition reports whether from -> to is an edge of the task graph.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an audit outcome.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskRejected
}

func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(v)
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("unknown task status %q", v)
	}
	return s, nil
}

// DayBucket returns the canonical UTC calendar day of t.
func DayBucket(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// NextDay returns the start of the UTC day after t.
func NextDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
