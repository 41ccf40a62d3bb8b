package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

type fakeScheduleStore struct {
	due    []domain.Schedule
	dueErr error
	marked map[string]time.Time // id -> nextRun
}

func (f *fakeScheduleStore) CreateSchedule(context.Context, domain.Schedule) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeScheduleStore) GetSchedule(context.Context, string) (domain.Schedule, error) {
	return domain.Schedule{}, errors.New("not implemented")
}
func (f *fakeScheduleStore) ListSchedules(context.Context) ([]domain.Schedule, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeScheduleStore) UpdateSchedule(context.Context, domain.Schedule) error {
	return errors.New("not implemented")
}
func (f *fakeScheduleStore) DeleteSchedule(context.Context, string) error {
	return errors.New("not implemented")
}

func (f *fakeScheduleStore) GetDueSchedules(context.Context, time.Time) ([]domain.Schedule, error) {
	return f.due, f.dueErr
}

func (f *fakeScheduleStore) MarkScheduleRun(_ context.Context, id string, _, nextRun time.Time) error {
	if f.marked == nil {
		f.marked = make(map[string]time.Time)
	}
	f.marked[id] = nextRun
	return nil
}

type fakeSubmitter struct {
	submitted []domain.JobType
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, t domain.JobType, _ any, _, _ int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, t)
	return "jb_1", nil
}

func TestProcessDueSchedules(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	store := &fakeScheduleStore{due: []domain.Schedule{{
		ID:       "sch_1",
		Name:     "nightly-scan",
		CronExpr: "0 3 * * *",
		JobType:  domain.TypeScan,
		Payload:  json.RawMessage(`{"path":"/media"}`),
	}}}
	sub := &fakeSubmitter{}

	svc := NewService(store, sub, time.Minute)
	svc.processDueSchedules(context.Background(), now)

	require.Equal(t, []domain.JobType{domain.TypeScan}, sub.submitted)
	next, ok := store.marked["sch_1"]
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestProcessDueSchedulesSubmitFailureSkipsMark(t *testing.T) {
	store := &fakeScheduleStore{due: []domain.Schedule{{
		ID:       "sch_1",
		CronExpr: "* * * * *",
		JobType:  domain.TypeScan,
		Payload:  json.RawMessage(`{"path":"/media"}`),
	}}}
	sub := &fakeSubmitter{err: errors.New("store down")}

	svc := NewService(store, sub, time.Minute)
	svc.processDueSchedules(context.Background(), time.Now())

	// The schedule stays due and fires again on the next tick.
	assert.Empty(t, store.marked)
}

func TestProcessDueSchedulesInvalidCron(t *testing.T) {
	store := &fakeScheduleStore{due: []domain.Schedule{{
		ID:       "sch_1",
		CronExpr: "not a cron",
		JobType:  domain.TypeScan,
	}}}
	sub := &fakeSubmitter{}

	svc := NewService(store, sub, time.Minute)
	svc.processDueSchedules(context.Background(), time.Now())

	assert.Empty(t, sub.submitted, "nothing is enqueued for a broken expression")
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/5 * * * *"))
	assert.NoError(t, ValidateCronExpression("0 3 * * 1"))
	assert.Error(t, ValidateCronExpression("61 * * * *"))
	assert.Error(t, ValidateCronExpression(""))
}

func TestNextRunTime(t *testing.T) {
	from := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = NextRunTime("bogus", from)
	assert.Error(t, err)
}
