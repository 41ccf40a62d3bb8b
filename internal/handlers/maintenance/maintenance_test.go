package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
)

func maintenanceJob(t *testing.T, p domain.MaintenancePayload) domain.Job {
	t.Helper()
	raw, err := domain.EncodePayload(domain.TypeMaintenance, p)
	require.NoError(t, err)
	return domain.Job{ID: "jb_m", Type: domain.TypeMaintenance, Payload: raw}
}

func finishedJob(t *testing.T, store queue.Store) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.Add(ctx, domain.Job{Type: domain.TypeScan, Payload: []byte(`{"path":"/media"}`)})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, id))
	return id
}

func TestHandlePruneWithOverride(t *testing.T) {
	store := queue.NewMemoryStore()
	id := finishedJob(t, store)

	h := New(store, 7*24*time.Hour)
	followups, err := h.Handle(context.Background(), maintenanceJob(t, domain.MaintenancePayload{
		Task:      TaskPruneJobs,
		OlderThan: "0s",
	}))
	require.NoError(t, err)
	assert.Empty(t, followups)

	// With a zero window the completed job is gone immediately.
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestHandlePruneKeepsRecentJobs(t *testing.T) {
	store := queue.NewMemoryStore()
	id := finishedJob(t, store)

	h := New(store, 7*24*time.Hour)
	_, err := h.Handle(context.Background(), maintenanceJob(t, domain.MaintenancePayload{
		Task: TaskPruneJobs,
	}))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), id)
	assert.NoError(t, err, "jobs inside the retention window stay")
}

func TestHandleBadDurationIsPermanent(t *testing.T) {
	h := New(queue.NewMemoryStore(), 0)
	_, err := h.Handle(context.Background(), maintenanceJob(t, domain.MaintenancePayload{
		Task:      TaskPruneJobs,
		OlderThan: "tomorrow",
	}))
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestHandleUnknownTaskIsPermanent(t *testing.T) {
	h := New(queue.NewMemoryStore(), 0)
	_, err := h.Handle(context.Background(), maintenanceJob(t, domain.MaintenancePayload{
		Task: "vacuum-carpets",
	}))
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}
