package domain

import (
	"time"
)

// JobStatus represents the lifecycle state of the single download job slot.
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the status occupies the job slot.
func (s JobStatus) Active() bool {
	return s == JobStatusRunning || s == JobStatusCancelling
}

// Terminal reports whether the status is a final outcome.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobState is the bookkeeping record for the single job slot. It is owned
// by the supervisor and only read or written under its lock.
type JobState struct {
	Status          JobStatus  `json:"status"`
	Token           string     `json:"token"`
	Target          string     `json:"target"`
	Title           string     `json:"title"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	Error           string     `json:"error,omitempty"`
}
