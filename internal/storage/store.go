package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// Index names a secondary index of the job store
type Index string

const (
	IndexJobType     Index = "job_type"
	IndexParentJobID Index = "parent_job_id"
)

// ChildCounts are the ROOT counters observed right after an increment
type ChildCounts struct {
	Total     int `db:"total_child_jobs"`
	Completed int `db:"completed_child_jobs"`
	Failed    int `db:"failed_child_jobs"`

	// Applied is false when this call did not change the counters
	Applied bool `db:"-"`
}

// Finished is the number of children in a terminal state
func (c ChildCounts) Finished() int {
	return c.Completed + c.Failed
}

// Done reports whether every child of the cohort has resolved
func (c ChildCounts) Done() bool {
	return c.Finished() >= c.Total
}

// TransitionUpdate carries the fields written alongside a status change.
// Result is kept only when moving to COMPLETED, Error only when moving to FAILED.
type TransitionUpdate struct {
	Result string
	Error  string
}

// Store is the durable job store. Every method is safe for concurrent use
// by independent workers, and each conditional method is atomic.
type Store interface {
	// Get returns domain.ErrJobNotFound when the job does not exist
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	// Put overwrites the whole record
	Put(ctx context.Context, job *domain.Job) error
	// Query scans one secondary index
	Query(ctx context.Context, index Index, key string) ([]*domain.Job, error)

	// Transition moves a job to status `to` only if its current status is in
	// `from`. It returns the job as stored afterwards and whether this call
	// performed the write.
	Transition(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, update TransitionUpdate) (*domain.Job, bool, error)

	// Create inserts the job unless its id is already taken
	Create(ctx context.Context, job *domain.Job) (bool, error)

	// SettleChild marks a leaf as counted and bumps its ROOT counter in one
	// transaction. Only the first call per leaf increments; later calls
	// return the current counters with Applied unset.
	SettleChild(ctx context.Context, leafJobID, rootJobID string, outcome domain.ChildOutcome) (ChildCounts, error)

	// ClaimFanIn sets the ROOT fan-in marker if absent. It returns the marker
	// value now stored and whether this call set it.
	ClaimFanIn(ctx context.Context, rootJobID, aggregateJobID string) (string, bool, error)

	// PurgeExpired deletes jobs whose ttl is before now
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
