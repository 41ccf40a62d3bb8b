package domain

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job. Transitions only move along
// pending -> processing -> completed, processing -> pending (retry) and
// processing -> failed (terminal).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the unit of asynchronous work. Payload is opaque to the stores;
// its shape is fixed by Type (see payload.go).
type Job struct {
	ID             string
	Type           JobType
	Payload        json.RawMessage
	Priority       int // lower dispatched first
	Status         Status
	Attempts       int
	MaxAttempts    int
	ClaimedBy      string
	ClaimedAt      *time.Time
	NextEligibleAt time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Followup is a child job a handler emits on success. The queue service
// submits followups before completing the parent, so a failed parent never
// produces downstream work.
type Followup struct {
	Type        JobType
	Payload     any
	Priority    int
	MaxAttempts int
}

// Transition is the lifecycle event emitted on every claim, retry,
// completion and failure. It is a one-way notification, not a control path.
type Transition struct {
	JobID    string  `json:"job_id"`
	Type     JobType `json:"type"`
	Status   Status  `json:"status"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
}

// Schedule is a recurring job template driven by a cron expression. It is
// served as-is by the API, hence the json tags.
type Schedule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CronExpr    string          `json:"cron_expr"`
	JobType     JobType         `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	Enabled     bool            `json:"enabled"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
	NextRun     time.Time       `json:"next_run"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
