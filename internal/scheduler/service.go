// Package scheduler turns persisted cron schedules into queued jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
)

// Submitter is the slice of the queue service the scheduler needs; going
// through it keeps scheduled payloads under the same validation as any
// other submission.
type Submitter interface {
	Submit(ctx context.Context, t domain.JobType, payload any, priority, maxAttempts int) (string, error)
}

type Service struct {
	store    queue.ScheduleStore
	submit   Submitter
	stop     chan struct{}
	interval time.Duration
}

func NewService(store queue.ScheduleStore, submit Submitter, checkInterval time.Duration) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &Service{
		store:    store,
		submit:   submit,
		stop:     make(chan struct{}),
		interval: checkInterval,
	}
}

func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.processDueSchedules(ctx, now)
		}
	}
}

func (s *Service) Stop() {
	close(s.stop)
}

func (s *Service) processDueSchedules(ctx context.Context, now time.Time) {
	schedules, err := s.store.GetDueSchedules(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due schedules")
		return
	}

	for _, schedule := range schedules {
		if err := s.processSchedule(ctx, schedule, now); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("failed to process schedule")
		}
	}
}

func (s *Service) processSchedule(ctx context.Context, schedule domain.Schedule, now time.Time) error {
	cronSchedule, err := cron.ParseStandard(schedule.CronExpr)
	if err != nil {
		log.Error().Err(err).Str("cron_expr", schedule.CronExpr).Msg("invalid cron expression")
		return err
	}

	jobID, err := s.submit.Submit(ctx, schedule.JobType, schedule.Payload, schedule.Priority, schedule.MaxAttempts)
	if err != nil {
		return err
	}

	nextRun := cronSchedule.Next(now)
	if err := s.store.MarkScheduleRun(ctx, schedule.ID, now, nextRun); err != nil {
		return err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Str("job_id", jobID).
		Time("next_run", nextRun).
		Msg("scheduled job enqueued")

	return nil
}

// ValidateCronExpression validates a cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
