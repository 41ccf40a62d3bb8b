package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
)

// runWorker is one claim loop. It polls the store with an adaptive idle
// delay: the delay starts at PollMin, doubles toward PollMax while the
// queue stays empty and snaps back to PollMin the moment a job is found.
// Storage errors back off the same way without burning job attempts.
func (s *Service) runWorker(ctx context.Context, n int) {
	defer s.wg.Done()

	workerID := fmt.Sprintf("%s-%d", s.workerID, n)
	// Stopping only halts claiming; a job already claimed runs to completion
	// on a context that survives cancellation, bounded by the stop grace.
	jobCtx := context.WithoutCancel(ctx)
	idle := s.cfg.PollMin
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := s.runOne(jobCtx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("worker", workerID).Msg("store error in worker loop")
		} else if worked {
			idle = s.cfg.PollMin
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
		idle = nextIdleDelay(idle, s.cfg.PollMax)
	}
}

// nextIdleDelay doubles the idle poll delay up to max.
func nextIdleDelay(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// runOne claims and executes a single job. worked reports whether a job was
// claimed; a non-nil error is a store-level failure, never a handler one.
func (s *Service) runOne(ctx context.Context, workerID string) (worked bool, err error) {
	job, err := s.store.ClaimNext(ctx, workerID, time.Now())
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}

	s.emit(domain.Transition{JobID: job.ID, Type: job.Type, Status: domain.StatusProcessing, Attempts: job.Attempts})

	allowed, probe := s.breaker.Allow()
	if !allowed {
		// Dispatch is halted; the job goes back through the retry path
		// without counting against the breaker.
		s.finishFailure(ctx, job, domain.ErrBreakerOpen, false, false)
		return true, nil
	}

	h, err := s.registry.Get(job.Type)
	if err != nil {
		s.finishFailure(ctx, job, domain.Permanent(err), true, probe)
		return true, nil
	}

	log.Debug().Str("job_id", job.ID).Str("type", string(job.Type)).Str("worker", workerID).
		Int("attempts", job.Attempts).Msg("executing job")

	followups, herr := invoke(ctx, h, job)
	if herr != nil {
		s.finishFailure(ctx, job, herr, true, probe)
		return true, nil
	}

	// Children first, then the parent record. A crash in between re-runs
	// the parent and may duplicate children; handlers are idempotent.
	for _, f := range followups {
		if _, serr := s.Submit(ctx, f.Type, f.Payload, f.Priority, f.MaxAttempts); serr != nil {
			s.finishFailure(ctx, job, fmt.Errorf("submit %s followup: %w", f.Type, serr), true, probe)
			return true, nil
		}
	}

	if cerr := s.store.Complete(ctx, job.ID); cerr != nil {
		s.breaker.RecordSuccess(probe)
		return true, fmt.Errorf("complete job %s: %w", job.ID, cerr)
	}
	s.breaker.RecordSuccess(probe)
	s.emit(domain.Transition{JobID: job.ID, Type: job.Type, Status: domain.StatusCompleted, Attempts: job.Attempts})
	log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("job completed")
	return true, nil
}

// finishFailure converts a handler (or dispatch) failure into a store Fail
// call and a transition event. Handler errors never escape the worker loop.
func (s *Service) finishFailure(ctx context.Context, job domain.Job, cause error, record, probe bool) {
	permanent := domain.IsPermanent(cause)
	updated, err := s.store.Fail(ctx, job.ID, cause.Error(), permanent, queue.Backoff(job.Attempts), time.Now())
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("fail job store error")
		if record {
			s.breaker.RecordFailure(probe)
		}
		return
	}

	if record {
		s.breaker.RecordFailure(probe)
	}
	s.emit(domain.Transition{
		JobID:    updated.ID,
		Type:     updated.Type,
		Status:   updated.Status,
		Attempts: updated.Attempts,
		Error:    updated.LastError,
	})
	evt := log.Warn().Str("job_id", job.ID).Str("type", string(job.Type)).
		Int("attempts", updated.Attempts).Err(cause)
	if updated.Status == domain.StatusFailed {
		evt.Msg("job failed terminally")
	} else {
		evt.Msg("job failed, will retry")
	}
}

// invoke runs the handler with panic containment: a panicking handler is a
// failed attempt, not a crashed worker.
func invoke(ctx context.Context, h Handler, job domain.Job) (followups []domain.Followup, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}
