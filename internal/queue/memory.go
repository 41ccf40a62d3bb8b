package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// throwaway deployments; it offers the same ordering and claim guarantees
// as the SQL backends but no durability.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memJob
	seq  int64
}

type memJob struct {
	job domain.Job
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memJob)}
}

func (m *MemoryStore) Add(_ context.Context, j domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID == "" {
		j.ID = "jb_" + uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	now := time.Now()
	j.Status = domain.StatusPending
	j.Attempts = 0
	if j.NextEligibleAt.IsZero() {
		j.NextEligibleAt = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now
	m.seq++
	m.jobs[j.ID] = &memJob{job: j, seq: m.seq}
	return j.ID, nil
}

func (m *MemoryStore) ClaimNext(_ context.Context, workerID string, now time.Time) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *memJob
	for _, r := range m.jobs {
		if r.job.Status != domain.StatusPending || r.job.NextEligibleAt.After(now) {
			continue
		}
		if best == nil || claimBefore(r, best) {
			best = r
		}
	}
	if best == nil {
		return domain.Job{}, ErrEmpty
	}

	claimed := now
	best.job.Status = domain.StatusProcessing
	best.job.ClaimedBy = workerID
	best.job.ClaimedAt = &claimed
	best.job.UpdatedAt = now
	return best.job, nil
}

// claimBefore orders candidates by ascending priority, then submission order.
func claimBefore(a, b *memJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	return a.seq < b.seq
}

func (m *MemoryStore) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if r.job.Status != domain.StatusProcessing {
		return ErrNotProcessing
	}
	r.job.Status = domain.StatusCompleted
	r.job.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, id, errMsg string, permanent bool, delay time.Duration, now time.Time) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	if r.job.Status != domain.StatusProcessing {
		return domain.Job{}, ErrNotProcessing
	}

	r.job.Attempts++
	r.job.LastError = errMsg
	r.job.UpdatedAt = now
	if permanent || r.job.Attempts >= r.job.MaxAttempts {
		r.job.Status = domain.StatusFailed
	} else {
		r.job.Status = domain.StatusPending
		r.job.NextEligibleAt = now.Add(delay)
		r.job.ClaimedBy = ""
		r.job.ClaimedAt = nil
	}
	return r.job, nil
}

func (m *MemoryStore) ResetStale(_ context.Context, olderThan time.Duration, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var ids []string
	for id, r := range m.jobs {
		if r.job.Status != domain.StatusProcessing || r.job.ClaimedAt == nil || !r.job.ClaimedAt.Before(cutoff) {
			continue
		}
		r.job.Status = domain.StatusPending
		r.job.Attempts++
		r.job.ClaimedBy = ""
		r.job.ClaimedAt = nil
		r.job.NextEligibleAt = now
		r.job.UpdatedAt = now
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return r.job, nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]*memJob, 0, len(m.jobs))
	for _, r := range m.jobs {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	jobs := make([]domain.Job, len(recs))
	for i, r := range recs {
		jobs[i] = r.job
	}
	return jobs, nil
}

func (m *MemoryStore) PruneFinished(_ context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var n int64
	for id, r := range m.jobs {
		if r.job.Status != domain.StatusCompleted && r.job.Status != domain.StatusFailed {
			continue
		}
		if r.job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}
