package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// PostgresConfig holds the connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects, verifies the connection and applies pool limits.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// EnsurePostgresSchema creates the job and schedule tables if they don't
// exist. seq breaks FIFO ties between jobs created in the same microsecond.
func EnsurePostgresSchema(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  seq BIGSERIAL,
  type TEXT NOT NULL,
  payload JSONB NOT NULL,
  priority INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL CHECK(status IN ('pending','processing','completed','failed')) DEFAULT 'pending',
  attempts INT NOT NULL DEFAULT 0,
  max_attempts INT NOT NULL DEFAULT 5,
  claimed_by TEXT NOT NULL DEFAULT '',
  claimed_at TIMESTAMPTZ,
  next_eligible_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_error TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, next_eligible_at, priority, seq);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  job_type TEXT NOT NULL,
  payload JSONB NOT NULL,
  priority INT NOT NULL DEFAULT 0,
  max_attempts INT NOT NULL DEFAULT 5,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  last_run TIMESTAMPTZ,
  next_run TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type postgresStore struct{ db *sqlx.DB }

// NewPostgresStore wraps db as a Store. The claim path relies on
// FOR UPDATE SKIP LOCKED, so the pool can run many workers safely.
func NewPostgresStore(db *sqlx.DB) Store { return &postgresStore{db: db} }

type pgJob struct {
	ID             string          `db:"id"`
	Seq            int64           `db:"seq"`
	Type           string          `db:"type"`
	Payload        []byte          `db:"payload"`
	Priority       int             `db:"priority"`
	Status         string          `db:"status"`
	Attempts       int             `db:"attempts"`
	MaxAttempts    int             `db:"max_attempts"`
	ClaimedBy      string          `db:"claimed_by"`
	ClaimedAt      sql.NullTime    `db:"claimed_at"`
	NextEligibleAt time.Time       `db:"next_eligible_at"`
	LastError      string          `db:"last_error"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r pgJob) toDomain() domain.Job {
	j := domain.Job{
		ID:             r.ID,
		Type:           domain.JobType(r.Type),
		Payload:        r.Payload,
		Priority:       r.Priority,
		Status:         domain.Status(r.Status),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		ClaimedBy:      r.ClaimedBy,
		NextEligibleAt: r.NextEligibleAt,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ClaimedAt.Valid {
		t := r.ClaimedAt.Time
		j.ClaimedAt = &t
	}
	return j
}

func (s *postgresStore) Add(ctx context.Context, j domain.Job) (string, error) {
	id := j.ID
	if id == "" {
		id = "jb_" + uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	eligible := j.NextEligibleAt
	if eligible.IsZero() {
		eligible = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (id, type, payload, priority, status, max_attempts, next_eligible_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $6)
`, id, string(j.Type), []byte(j.Payload), j.Priority, j.MaxAttempts, eligible)
	if err != nil {
		return "", fmt.Errorf("add job: %w", err)
	}
	return id, nil
}

func (s *postgresStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (domain.Job, error) {
	var r pgJob
	err := s.db.GetContext(ctx, &r, `
UPDATE jobs SET status='processing', claimed_by=$1, claimed_at=$2, updated_at=$2
WHERE id = (
  SELECT id FROM jobs
  WHERE status='pending' AND next_eligible_at <= $2
  ORDER BY priority ASC, seq ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING id, seq, type, payload, priority, status, attempts, max_attempts, claimed_by, claimed_at, next_eligible_at, last_error, created_at, updated_at
`, workerID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrEmpty
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim job: %w", err)
	}
	return r.toDomain(), nil
}

func (s *postgresStore) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='completed', updated_at=now() WHERE id=$1 AND status='processing'
`, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (s *postgresStore) Fail(ctx context.Context, id, errMsg string, permanent bool, delay time.Duration, now time.Time) (domain.Job, error) {
	var r pgJob
	err := s.db.GetContext(ctx, &r, `
UPDATE jobs SET
  attempts = attempts + 1,
  status = CASE WHEN $2 OR attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
  next_eligible_at = CASE WHEN $2 OR attempts + 1 >= max_attempts THEN next_eligible_at ELSE $3::timestamptz END,
  claimed_by = CASE WHEN $2 OR attempts + 1 >= max_attempts THEN claimed_by ELSE '' END,
  claimed_at = CASE WHEN $2 OR attempts + 1 >= max_attempts THEN claimed_at ELSE NULL END,
  last_error = $4,
  updated_at = $5
WHERE id=$1 AND status='processing'
RETURNING id, seq, type, payload, priority, status, attempts, max_attempts, claimed_by, claimed_at, next_eligible_at, last_error, created_at, updated_at
`, id, permanent, now.Add(delay), errMsg, now)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); errors.Is(gerr, ErrNotFound) {
			return domain.Job{}, ErrNotFound
		}
		return domain.Job{}, ErrNotProcessing
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("fail job %s: %w", id, err)
	}
	return r.toDomain(), nil
}

func (s *postgresStore) ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
UPDATE jobs
SET status='pending', attempts=attempts+1, claimed_by='', claimed_at=NULL, next_eligible_at=$1, updated_at=$1
WHERE status='processing' AND claimed_at IS NOT NULL AND claimed_at < $2
RETURNING id
`, now, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("reset stale: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *postgresStore) Get(ctx context.Context, id string) (domain.Job, error) {
	var r pgJob
	err := s.db.GetContext(ctx, &r, `SELECT * FROM jobs WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	return r.toDomain(), nil
}

func (s *postgresStore) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	var recs []pgJob
	err := s.db.SelectContext(ctx, &recs, `SELECT * FROM jobs ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, len(recs))
	for i, r := range recs {
		jobs[i] = r.toDomain()
	}
	return jobs, nil
}

func (s *postgresStore) PruneFinished(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE status IN ('completed','failed') AND updated_at < $1
`, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune finished: %w", err)
	}
	return res.RowsAffected()
}

type pgSchedule struct {
	ID          string       `db:"id"`
	Name        string       `db:"name"`
	CronExpr    string       `db:"cron_expr"`
	JobType     string       `db:"job_type"`
	Payload     []byte       `db:"payload"`
	Priority    int          `db:"priority"`
	MaxAttempts int          `db:"max_attempts"`
	Enabled     bool         `db:"enabled"`
	LastRun     sql.NullTime `db:"last_run"`
	NextRun     time.Time    `db:"next_run"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r pgSchedule) toDomain() domain.Schedule {
	sc := domain.Schedule{
		ID:          r.ID,
		Name:        r.Name,
		CronExpr:    r.CronExpr,
		JobType:     domain.JobType(r.JobType),
		Payload:     r.Payload,
		Priority:    r.Priority,
		MaxAttempts: r.MaxAttempts,
		Enabled:     r.Enabled,
		NextRun:     r.NextRun,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastRun.Valid {
		t := r.LastRun.Time
		sc.LastRun = &t
	}
	return sc
}

func (s *postgresStore) CreateSchedule(ctx context.Context, sc domain.Schedule) (string, error) {
	id := sc.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if sc.MaxAttempts <= 0 {
		sc.MaxAttempts = 5
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (id, name, cron_expr, job_type, payload, priority, max_attempts, enabled, last_run, next_run)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, id, sc.Name, sc.CronExpr, string(sc.JobType), []byte(sc.Payload), sc.Priority, sc.MaxAttempts,
		sc.Enabled, sc.LastRun, sc.NextRun)
	if err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	return id, nil
}

func (s *postgresStore) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	var r pgSchedule
	err := s.db.GetContext(ctx, &r, `SELECT * FROM schedules WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, ErrNotFound
	}
	if err != nil {
		return domain.Schedule{}, err
	}
	return r.toDomain(), nil
}

func (s *postgresStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	var recs []pgSchedule
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM schedules ORDER BY name`); err != nil {
		return nil, err
	}
	schedules := make([]domain.Schedule, len(recs))
	for i, r := range recs {
		schedules[i] = r.toDomain()
	}
	return schedules, nil
}

func (s *postgresStore) UpdateSchedule(ctx context.Context, sc domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET name=$2, cron_expr=$3, job_type=$4, payload=$5, priority=$6, max_attempts=$7, enabled=$8, next_run=$9, updated_at=now()
WHERE id=$1
`, sc.ID, sc.Name, sc.CronExpr, string(sc.JobType), []byte(sc.Payload), sc.Priority, sc.MaxAttempts, sc.Enabled, sc.NextRun)
	return err
}

func (s *postgresStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id=$1`, id)
	return err
}

func (s *postgresStore) GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	var recs []pgSchedule
	err := s.db.SelectContext(ctx, &recs, `
SELECT * FROM schedules WHERE enabled AND next_run <= $1 ORDER BY next_run`, now)
	if err != nil {
		return nil, err
	}
	schedules := make([]domain.Schedule, len(recs))
	for i, r := range recs {
		schedules[i] = r.toDomain()
	}
	return schedules, nil
}

func (s *postgresStore) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET last_run=$2, next_run=$3, updated_at=now() WHERE id=$1
`, id, lastRun, nextRun)
	return err
}
