// Package maintenance runs housekeeping jobs, currently retention pruning
// of finished job records. Terminal failures stay inspectable until this
// policy removes them.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
)

const TaskPruneJobs = "prune-jobs"

type Handler struct {
	store     queue.Store
	retention time.Duration
}

// New builds a maintenance handler. retention is the default age past which
// completed and failed jobs are pruned; a payload may override it.
func New(store queue.Store, retention time.Duration) *Handler {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Handler{store: store, retention: retention}
}

func (h *Handler) Type() domain.JobType { return domain.TypeMaintenance }

func (h *Handler) Handle(ctx context.Context, job domain.Job) ([]domain.Followup, error) {
	decoded, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	p := decoded.(domain.MaintenancePayload)

	switch p.Task {
	case TaskPruneJobs:
		olderThan := h.retention
		if p.OlderThan != "" {
			d, err := time.ParseDuration(p.OlderThan)
			if err != nil {
				return nil, domain.Permanent(fmt.Errorf("bad older_than %q: %w", p.OlderThan, err))
			}
			olderThan = d
		}
		n, err := h.store.PruneFinished(ctx, olderThan, time.Now())
		if err != nil {
			return nil, fmt.Errorf("prune finished jobs: %w", err)
		}
		if n > 0 {
			log.Info().Int64("pruned", n).Dur("older_than", olderThan).Msg("pruned finished jobs")
		}
		return nil, nil
	default:
		return nil, domain.Permanent(fmt.Errorf("unknown maintenance task %q", p.Task))
	}
}
