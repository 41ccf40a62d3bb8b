package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
)

// Timestamps are stored as unix nanoseconds so eligibility and staleness
// comparisons stay exact; rowid breaks FIFO ties submitted within the same
// nanosecond.

// EnsureSchema creates the job and schedule tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL CHECK(status IN ('pending','processing','completed','failed')) DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  claimed_by TEXT NOT NULL DEFAULT '',
  claimed_at INTEGER,
  next_eligible_at INTEGER NOT NULL,
  last_error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, next_eligible_at, priority);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  job_type TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run INTEGER,
  next_run INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore wraps db as a Store. The caller should cap the pool at one
// open connection; SQLite is a single-writer engine.
func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

const jobColumns = `id,type,payload,priority,status,attempts,max_attempts,claimed_by,claimed_at,next_eligible_at,last_error,created_at,updated_at`

func (s *sqliteStore) Add(ctx context.Context, j domain.Job) (string, error) {
	id := j.ID
	if id == "" {
		id = "jb_" + uuid.NewString()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	now := time.Now()
	eligible := j.NextEligibleAt
	if eligible.IsZero() {
		eligible = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (id,type,payload,priority,status,attempts,max_attempts,claimed_by,claimed_at,next_eligible_at,last_error,created_at,updated_at)
VALUES (?,?,?,?,'pending',0,?,'',NULL,?,'',?,?)
`, id, string(j.Type), []byte(j.Payload), j.Priority, j.MaxAttempts, eligible.UnixNano(), now.UnixNano(), now.UnixNano())
	if err != nil {
		return "", fmt.Errorf("add job: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status='pending' AND next_eligible_at <= ?
ORDER BY priority ASC, created_at ASC, rowid ASC
LIMIT 1
`, now.UnixNano())
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		if cerr := tx.Rollback(); cerr != nil {
			return domain.Job{}, cerr
		}
		return domain.Job{}, ErrEmpty
	}
	if err != nil {
		return domain.Job{}, err
	}

	res, err := tx.ExecContext(ctx, `
UPDATE jobs SET status='processing', claimed_by=?, claimed_at=?, updated_at=? WHERE id=? AND status='pending'
`, workerID, now.UnixNano(), now.UnixNano(), j.ID)
	if err != nil {
		return domain.Job{}, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		err = fmt.Errorf("claim race on job %s", j.ID)
		return domain.Job{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	claimed := now
	j.Status = domain.StatusProcessing
	j.ClaimedBy = workerID
	j.ClaimedAt = &claimed
	return j, nil
}

func (s *sqliteStore) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status='completed', updated_at=? WHERE id=? AND status='processing'
`, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (s *sqliteStore) Fail(ctx context.Context, id, errMsg string, permanent bool, delay time.Duration, now time.Time) (domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Job{}, fmt.Errorf("fail: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return domain.Job{}, err
	}
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.StatusProcessing {
		err = ErrNotProcessing
		return domain.Job{}, err
	}

	j.Attempts++
	j.LastError = errMsg
	j.UpdatedAt = now
	if permanent || j.Attempts >= j.MaxAttempts {
		j.Status = domain.StatusFailed
		_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status='failed', attempts=?, last_error=?, updated_at=? WHERE id=?
`, j.Attempts, errMsg, now.UnixNano(), id)
	} else {
		j.Status = domain.StatusPending
		j.NextEligibleAt = now.Add(delay)
		j.ClaimedBy = ""
		j.ClaimedAt = nil
		_, err = tx.ExecContext(ctx, `
UPDATE jobs SET status='pending', attempts=?, last_error=?, next_eligible_at=?, claimed_by='', claimed_at=NULL, updated_at=?
WHERE id=?
`, j.Attempts, errMsg, j.NextEligibleAt.UnixNano(), now.UnixNano(), id)
	}
	if err != nil {
		return domain.Job{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func (s *sqliteStore) ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-olderThan).UnixNano()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("reset stale: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM jobs WHERE status='processing' AND claimed_at IS NOT NULL AND claimed_at < ?
`, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE jobs
SET status='pending', attempts=attempts+1, claimed_by='', claimed_at=NULL, next_eligible_at=?, updated_at=?
WHERE status='processing' AND claimed_at IS NOT NULL AND claimed_at < ?
`, now.UnixNano(), now.UnixNano(), cutoff)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	return j, err
}

func (s *sqliteStore) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *sqliteStore) PruneFinished(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE status IN ('completed','failed') AND updated_at < ?
`, now.Add(-olderThan).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune finished: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(r rowScanner) (domain.Job, error) {
	var (
		j         domain.Job
		typ       string
		status    string
		claimedAt sql.NullInt64
		eligible  int64
		created   int64
		updated   int64
	)
	err := r.Scan(&j.ID, &typ, &j.Payload, &j.Priority, &status, &j.Attempts, &j.MaxAttempts,
		&j.ClaimedBy, &claimedAt, &eligible, &j.LastError, &created, &updated)
	if err != nil {
		return domain.Job{}, err
	}
	j.Type = domain.JobType(typ)
	j.Status = domain.Status(status)
	if claimedAt.Valid {
		t := time.Unix(0, claimedAt.Int64)
		j.ClaimedAt = &t
	}
	j.NextEligibleAt = time.Unix(0, eligible)
	j.CreatedAt = time.Unix(0, created)
	j.UpdatedAt = time.Unix(0, updated)
	return j, nil
}

// Schedule operations

func (s *sqliteStore) CreateSchedule(ctx context.Context, sc domain.Schedule) (string, error) {
	id := sc.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if sc.MaxAttempts <= 0 {
		sc.MaxAttempts = 5
	}
	now := time.Now().UnixNano()
	var lastRun any
	if sc.LastRun != nil {
		lastRun = sc.LastRun.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (id,name,cron_expr,job_type,payload,priority,max_attempts,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, id, sc.Name, sc.CronExpr, string(sc.JobType), []byte(sc.Payload), sc.Priority, sc.MaxAttempts,
		sc.Enabled, lastRun, sc.NextRun.UnixNano(), now, now)
	if err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	return id, nil
}

const scheduleColumns = `id,name,cron_expr,job_type,payload,priority,max_attempts,enabled,last_run,next_run,created_at,updated_at`

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, ErrNotFound
	}
	return sc, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, sc domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET name=?,cron_expr=?,job_type=?,payload=?,priority=?,max_attempts=?,enabled=?,next_run=?,updated_at=?
WHERE id=?`, sc.Name, sc.CronExpr, string(sc.JobType), []byte(sc.Payload), sc.Priority, sc.MaxAttempts,
		sc.Enabled, sc.NextRun.UnixNano(), time.Now().UnixNano(), sc.ID)
	return err
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id=?`, id)
	return err
}

func (s *sqliteStore) GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleColumns+` FROM schedules WHERE enabled=1 AND next_run <= ? ORDER BY next_run`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *sqliteStore) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE schedules SET last_run=?, next_run=?, updated_at=? WHERE id=?
`, lastRun.UnixNano(), nextRun.UnixNano(), time.Now().UnixNano(), id)
	return err
}

func scanSchedule(r rowScanner) (domain.Schedule, error) {
	var (
		sc      domain.Schedule
		typ     string
		lastRun sql.NullInt64
		nextRun int64
		created int64
		updated int64
	)
	err := r.Scan(&sc.ID, &sc.Name, &sc.CronExpr, &typ, &sc.Payload, &sc.Priority, &sc.MaxAttempts,
		&sc.Enabled, &lastRun, &nextRun, &created, &updated)
	if err != nil {
		return domain.Schedule{}, err
	}
	sc.JobType = domain.JobType(typ)
	if lastRun.Valid {
		t := time.Unix(0, lastRun.Int64)
		sc.LastRun = &t
	}
	sc.NextRun = time.Unix(0, nextRun)
	sc.CreatedAt = time.Unix(0, created)
	sc.UpdatedAt = time.Unix(0, updated)
	return sc, nil
}
