package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of the status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Lower returns the status the way it is shown to API callers
func (s JobStatus) Lower() string {
	return strings.ToLower(string(s))
}

// ParseJobStatus validates a persisted status string
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// JobType identifies which step a job performs
type JobType string

// Job type constants
const (
	JobTypeRoot           JobType = "ROOT"
	JobTypeLeafTranscribe JobType = "LEAF_TRANSCRIBE"
	JobTypeLeafAggregate  JobType = "LEAF_AGGREGATE"
)

// ParseJobType converts a wire or persisted value to a JobType.
// Unknown values are reported as a ValidationError.
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeRoot, JobTypeLeafTranscribe, JobTypeLeafAggregate:
		return JobType(s), nil
	}
	return "", NewValidationError(fmt.Sprintf("unsupported job type %q", s), ErrUnsupportedJobType)
}

// IsLeaf reports whether the type is a child step of a ROOT job
func (t JobType) IsLeaf() bool {
	return t == JobTypeLeafTranscribe || t == JobTypeLeafAggregate
}

// ParentJobIDNone marks a job without a parent. The parent index cannot hold
// empty values, so standalone jobs carry this sentinel instead.
const ParentJobIDNone = "NONE"

// DefaultJobTTL is how long a job record is retained before reclamation
const DefaultJobTTL = 7 * 24 * time.Hour

// ChildOutcome selects which ROOT counter a finished leaf increments
type ChildOutcome int

const (
	ChildCompleted ChildOutcome = iota
	ChildFailed
)

func (o ChildOutcome) String() string {
	if o == ChildFailed {
		return "failed"
	}
	return "completed"
}

// Reference manifest statuses returned on job creation
const (
	ReferenceQueued    = "QUEUED"
	ReferenceCompleted = "COMPLETED"
	ReferenceFailed    = "FAILED"
)
