package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

const jobColumns = `job_id, job_type, job_status, parent_job_id,
	total_child_jobs, completed_child_jobs, failed_child_jobs,
	payload, result, error, aggregate_job_id, settled,
	created_at, updated_at, completed_at, ttl`

// SQLStore implements Store on PostgreSQL or SQLite through sqlx
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes the store
type Option func(*SQLStore)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore creates a new SQLStore instance
func NewSQLStore(db *sqlx.DB, logger *slog.Logger, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the jobs table and its indexes if missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.execNoResult(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Job store schema applied", slog.String("driver", s.db.DriverName()))
	return nil
}

// Get retrieves a job by its ID
func (s *SQLStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, domain.NewStoreError("get job", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return nil, domain.NewStoreError("decode job", err)
	}
	return job, nil
}

// Put inserts the job or overwrites the stored record
func (s *SQLStore) Put(ctx context.Context, job *domain.Job) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now().UTC()
	}
	row := newJobRow(job)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:job_id, :job_type, :job_status, :parent_job_id,
			:total_child_jobs, :completed_child_jobs, :failed_child_jobs,
			:payload, :result, :error, :aggregate_job_id, :settled,
			:created_at, :updated_at, :completed_at, :ttl)
		ON CONFLICT (job_id) DO UPDATE SET
			job_type = excluded.job_type,
			job_status = excluded.job_status,
			parent_job_id = excluded.parent_job_id,
			total_child_jobs = excluded.total_child_jobs,
			completed_child_jobs = excluded.completed_child_jobs,
			failed_child_jobs = excluded.failed_child_jobs,
			payload = excluded.payload,
			result = excluded.result,
			error = excluded.error,
			aggregate_job_id = excluded.aggregate_job_id,
			settled = excluded.settled,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			ttl = excluded.ttl
	`

	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return err
	}); err != nil {
		return domain.NewStoreError("put job", err)
	}

	s.logger.Debug("Job stored",
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.String("status", string(job.Status)),
	)
	return nil
}

// Query scans the given index for key
func (s *SQLStore) Query(ctx context.Context, index Index, key string) ([]*domain.Job, error) {
	var column string
	switch index {
	case IndexJobType:
		column = "job_type"
	case IndexParentJobID:
		column = "parent_job_id"
	default:
		return nil, fmt.Errorf("unknown index %q", index)
	}

	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE ` + column + ` = ? ORDER BY created_at, job_id`)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, key); err != nil {
		return nil, domain.NewStoreError("query jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, domain.NewStoreError("decode job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Transition performs a conditional status write
func (s *SQLStore) Transition(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, update TransitionUpdate) (*domain.Job, bool, error) {
	if len(from) == 0 {
		return nil, false, fmt.Errorf("transition of job %s needs at least one source status", jobID)
	}

	now := s.now().UTC().UnixMilli()

	var (
		set  string
		args []any
	)
	switch to {
	case domain.JobStatusCompleted:
		set = `job_status = ?, result = ?, error = NULL, updated_at = ?, completed_at = ?`
		args = []any{string(to), nullString(update.Result), now, now}
	case domain.JobStatusFailed:
		set = `job_status = ?, result = NULL, error = ?, updated_at = ?, completed_at = ?`
		args = []any{string(to), nullString(update.Error), now, now}
	default:
		set = `job_status = ?, updated_at = ?`
		args = []any{string(to), now}
	}

	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	args = append(args, jobID, statuses)

	query, args, err := sqlx.In(`UPDATE jobs SET `+set+` WHERE job_id = ? AND job_status IN (?)`, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build transition query: %w", err)
	}

	res, err := s.exec(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, false, domain.NewStoreError("transition job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, domain.NewStoreError("transition job", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}

	if affected == 0 {
		s.logger.Debug("Job transition skipped",
			slog.String("job_id", jobID),
			slog.String("current", string(job.Status)),
			slog.String("target", string(to)),
		)
		return job, false, nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("job_type", string(job.JobType)),
		slog.String("status", string(to)),
	)
	return job, true, nil
}

// Create inserts the job if no job with the same id exists
func (s *SQLStore) Create(ctx context.Context, job *domain.Job) (bool, error) {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now().UTC()
	}
	row := newJobRow(job)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:job_id, :job_type, :job_status, :parent_job_id,
			:total_child_jobs, :completed_child_jobs, :failed_child_jobs,
			:payload, :result, :error, :aggregate_job_id, :settled,
			:created_at, :updated_at, :completed_at, :ttl)
		ON CONFLICT (job_id) DO NOTHING
	`

	var res sql.Result
	if err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.NamedExecContext(ctx, query, row)
		return execErr
	}); err != nil {
		return false, domain.NewStoreError("create job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.NewStoreError("create job", err)
	}
	return affected == 1, nil
}

// SettleChild counts a leaf outcome against its ROOT exactly once
func (s *SQLStore) SettleChild(ctx context.Context, leafJobID, rootJobID string, outcome domain.ChildOutcome) (ChildCounts, error) {
	column := "completed_child_jobs"
	if outcome == domain.ChildFailed {
		column = "failed_child_jobs"
	}

	settleQuery := s.db.Rebind(`UPDATE jobs SET settled = 1, updated_at = ? WHERE job_id = ? AND parent_job_id = ? AND settled = 0`)
	incrementQuery := s.db.Rebind(`
		UPDATE jobs
		SET ` + column + ` = ` + column + ` + 1, updated_at = ?
		WHERE job_id = ?
		  AND job_type = ?
		  AND completed_child_jobs + failed_child_jobs < total_child_jobs
		RETURNING total_child_jobs, completed_child_jobs, failed_child_jobs
	`)
	countsQuery := s.db.Rebind(`
		SELECT total_child_jobs, completed_child_jobs, failed_child_jobs
		FROM jobs WHERE job_id = ? AND job_type = ?
	`)

	var counts ChildCounts
	err := retryOnBusy(ctx, func() error {
		counts = ChildCounts{}
		now := s.now().UTC().UnixMilli()

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, settleQuery, now, leafJobID, rootJobID)
		if err != nil {
			return err
		}
		settled, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if settled == 1 {
			err = tx.QueryRowxContext(ctx, incrementQuery, now, rootJobID, string(domain.JobTypeRoot)).StructScan(&counts)
			switch {
			case err == nil:
				counts.Applied = true
				return tx.Commit()
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		// Already settled, or the ROOT has no room left: report current counters.
		if err := tx.QueryRowxContext(ctx, countsQuery, rootJobID, string(domain.JobTypeRoot)).StructScan(&counts); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChildCounts{}, fmt.Errorf("root job %s: %w", rootJobID, domain.ErrJobNotFound)
		}
		return ChildCounts{}, domain.NewStoreError("settle child", err)
	}

	if counts.Applied {
		s.logger.Info("Child outcome counted",
			slog.String("job_id", leafJobID),
			slog.String("root_job_id", rootJobID),
			slog.String("outcome", outcome.String()),
			slog.Int("completed", counts.Completed),
			slog.Int("failed", counts.Failed),
			slog.Int("total", counts.Total),
		)
	}
	return counts, nil
}

// ClaimFanIn writes the fan-in marker once
func (s *SQLStore) ClaimFanIn(ctx context.Context, rootJobID, aggregateJobID string) (string, bool, error) {
	query := s.db.Rebind(`
		UPDATE jobs SET aggregate_job_id = ?, updated_at = ?
		WHERE job_id = ? AND job_type = ? AND aggregate_job_id IS NULL
	`)

	res, err := s.exec(ctx, query, aggregateJobID, s.now().UTC().UnixMilli(), rootJobID, string(domain.JobTypeRoot))
	if err != nil {
		return "", false, domain.NewStoreError("claim fan-in", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, domain.NewStoreError("claim fan-in", err)
	}
	if affected == 1 {
		return aggregateJobID, true, nil
	}

	root, err := s.Get(ctx, rootJobID)
	if err != nil {
		return "", false, err
	}
	return root.AggregateJobID, false, nil
}

// PurgeExpired deletes every job whose ttl has passed
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM jobs WHERE ttl < ?`)

	res, err := s.exec(ctx, query, now.UTC().UnixMilli())
	if err != nil {
		return 0, domain.NewStoreError("purge expired jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStoreError("purge expired jobs", err)
	}
	if n > 0 {
		s.logger.Info("Expired jobs purged", slog.Int64("count", n))
	}
	return n, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLStore) execNoResult(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
