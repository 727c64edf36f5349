package domain

import "time"

// JobStatus is the lifecycle state of a submitted backtest job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobRecord tracks one job through the scheduler. COMPLETED and FAILED
// records persist for later polling; a cancelled PENDING job is evicted.
type JobRecord struct {
	JobID       string            `json:"job_id"`
	Status      JobStatus         `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      *BacktestResponse `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
}
