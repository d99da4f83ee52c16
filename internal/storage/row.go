package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// jobRow mirrors the jobs table. Timestamps are epoch milliseconds.
type jobRow struct {
	JobID              string         `db:"job_id"`
	JobType            string         `db:"job_type"`
	JobStatus          string         `db:"job_status"`
	ParentJobID        string         `db:"parent_job_id"`
	TotalChildJobs     int            `db:"total_child_jobs"`
	CompletedChildJobs int            `db:"completed_child_jobs"`
	FailedChildJobs    int            `db:"failed_child_jobs"`
	Payload            sql.NullString `db:"payload"`
	Result             sql.NullString `db:"result"`
	Error              sql.NullString `db:"error"`
	AggregateJobID     sql.NullString `db:"aggregate_job_id"`
	Settled            int            `db:"settled"`
	CreatedAt          int64          `db:"created_at"`
	UpdatedAt          int64          `db:"updated_at"`
	CompletedAt        sql.NullInt64  `db:"completed_at"`
	TTL                int64          `db:"ttl"`
}

func newJobRow(j *domain.Job) jobRow {
	parent := j.ParentJobID
	if parent == "" {
		parent = domain.ParentJobIDNone
	}

	row := jobRow{
		JobID:              j.JobID,
		JobType:            string(j.JobType),
		JobStatus:          string(j.Status),
		ParentJobID:        parent,
		TotalChildJobs:     j.TotalChildJobs,
		CompletedChildJobs: j.CompletedChildJobs,
		FailedChildJobs:    j.FailedChildJobs,
		Payload:            nullString(j.Payload),
		Result:             nullString(j.Result),
		Error:              nullString(j.Error),
		AggregateJobID:     nullString(j.AggregateJobID),
		CreatedAt:          j.CreatedAt.UnixMilli(),
		UpdatedAt:          j.UpdatedAt.UnixMilli(),
		TTL:                j.TTL.UnixMilli(),
	}
	if j.Settled {
		row.Settled = 1
	}
	if j.CompletedAt != nil {
		row.CompletedAt = sql.NullInt64{Int64: j.CompletedAt.UnixMilli(), Valid: true}
	}
	return row
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	jobType, err := domain.ParseJobType(r.JobType)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.JobID, err)
	}
	status, err := domain.ParseJobStatus(r.JobStatus)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.JobID, err)
	}

	job := &domain.Job{
		JobID:              r.JobID,
		JobType:            jobType,
		Status:             status,
		ParentJobID:        r.ParentJobID,
		TotalChildJobs:     r.TotalChildJobs,
		CompletedChildJobs: r.CompletedChildJobs,
		FailedChildJobs:    r.FailedChildJobs,
		Payload:            r.Payload.String,
		Result:             r.Result.String,
		Error:              r.Error.String,
		AggregateJobID:     r.AggregateJobID.String,
		Settled:            r.Settled != 0,
		CreatedAt:          time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:          time.UnixMilli(r.UpdatedAt).UTC(),
		TTL:                time.UnixMilli(r.TTL).UTC(),
	}
	if r.CompletedAt.Valid {
		completedAt := time.UnixMilli(r.CompletedAt.Int64).UTC()
		job.CompletedAt = &completedAt
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
