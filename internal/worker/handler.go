// Package worker runs the job orchestration core: the handler registry, the
// process-wide circuit breaker, the polling worker pool and the queue
// service facade that ties them to a queue.Store.
package worker

import (
	"context"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// Handler executes the domain logic for one job type.
//
// A nil error marks the job succeeded; the returned followups are then
// submitted as new jobs before the parent completes (phase chaining). A
// non-nil error triggers retry with backoff unless it is wrapped with
// domain.Permanent, which fails the job immediately.
type Handler interface {
	Type() domain.JobType
	Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error)
}

// HandlerFunc adapts a function to Handler for tests and small handlers.
type HandlerFunc struct {
	JobType domain.JobType
	Fn      func(ctx context.Context, job domain.Job) ([]domain.Followup, error)
}

func (h HandlerFunc) Type() domain.JobType { return h.JobType }

func (h HandlerFunc) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	return h.Fn(ctx, job)
}
