// Package queue holds the durable job store contract and its backends.
//
// Every mutation is a single atomic operation against the backend so that
// concurrent workers can never double-claim a job and a crash between read
// and write never hides a job from both workers and recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

var (
	// ErrEmpty means no pending job is eligible right now.
	ErrEmpty = errors.New("no jobs ready")

	// ErrNotFound means the job id does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrNotProcessing means a complete/fail was attempted on a job that is
	// not currently claimed.
	ErrNotProcessing = errors.New("job is not processing")
)

// Store is the persistence contract for job records. Implementations must
// make ClaimNext a single atomic read-modify-write.
type Store interface {
	// Add persists j as pending and returns its id (generated when empty).
	Add(ctx context.Context, j domain.Job) (string, error)

	// ClaimNext selects the eligible pending job with the lowest priority
	// value (ties broken oldest first), atomically marks it processing for
	// workerID and returns it. ErrEmpty when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (domain.Job, error)

	// Complete marks a processing job completed. ErrNotProcessing otherwise.
	Complete(ctx context.Context, id string) error

	// Fail records a handler failure. With attempts left and permanent
	// false the job returns to pending, eligible again after delay;
	// otherwise it becomes terminally failed. Returns the updated job.
	// Attempts counts recorded failures, not invocations: a job that
	// succeeds after retries completes with Attempts equal to the
	// failures that preceded the success.
	Fail(ctx context.Context, id, errMsg string, permanent bool, delay time.Duration, now time.Time) (domain.Job, error)

	// ResetStale returns every processing job whose claim is older than
	// olderThan to pending, bumping attempts so repeated crashes eventually
	// exhaust retries. Returns the affected ids.
	ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) ([]string, error)

	// Get fetches a single job. ErrNotFound when absent.
	Get(ctx context.Context, id string) (domain.Job, error)

	// ListRecent returns up to limit jobs, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.Job, error)

	// PruneFinished deletes completed and failed jobs whose last update is
	// older than olderThan. Returns the number removed.
	PruneFinished(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)
}

// ScheduleStore is the optional extension carried by SQL backends for
// cron-driven recurring jobs.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s domain.Schedule) (string, error)
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s domain.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

// Backoff is the re-eligibility delay after a failed attempt: 1s, 2s, 4s...
// capped at one minute.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts > 6 {
		return time.Minute
	}
	d := time.Duration(1<<(attempts-1)) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
