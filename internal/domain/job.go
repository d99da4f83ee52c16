package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the single persisted entity of the voice2soap saga
type Job struct {
	JobID       string
	JobType     JobType
	Status      JobStatus
	ParentJobID string

	// Counters are only meaningful on ROOT jobs
	TotalChildJobs     int
	CompletedChildJobs int
	FailedChildJobs    int

	Payload string // JSON
	Result  string // JSON, empty until COMPLETED
	Error   string

	// AggregateJobID is the ROOT fan-in marker, written once
	AggregateJobID string
	// Settled is set once a leaf outcome has been counted against its ROOT
	Settled bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	TTL         time.Time
}

// NewJob builds a PENDING job with a fresh id
func NewJob(jobType JobType, parentJobID string, payload any, now time.Time, ttl time.Duration) (*Job, error) {
	return NewJobWithID(uuid.NewString(), jobType, parentJobID, payload, now, ttl)
}

// NewJobWithID is NewJob for callers that already reserved the id
func NewJobWithID(jobID string, jobType JobType, parentJobID string, payload any, now time.Time, ttl time.Duration) (*Job, error) {
	if parentJobID == "" {
		parentJobID = ParentJobIDNone
	}
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}

	raw := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
		}
		raw = string(data)
	}

	now = now.UTC()
	return &Job{
		JobID:       jobID,
		JobType:     jobType,
		Status:      JobStatusPending,
		ParentJobID: parentJobID,
		Payload:     raw,
		CreatedAt:   now,
		UpdatedAt:   now,
		TTL:         now.Add(ttl),
	}, nil
}

// HasParent reports whether the job belongs to a ROOT
func (j *Job) HasParent() bool {
	return j.ParentJobID != "" && j.ParentJobID != ParentJobIDNone
}

// Finished is the number of children that reached a terminal state
func (j *Job) Finished() int {
	return j.CompletedChildJobs + j.FailedChildJobs
}

// DecodePayload unmarshals the payload into dst
func (j *Job) DecodePayload(dst any) error {
	if j.Payload == "" {
		return NewValidationError(fmt.Sprintf("job %s has an empty payload", j.JobID), ErrInvalidPayload)
	}
	if err := json.Unmarshal([]byte(j.Payload), dst); err != nil {
		return NewValidationError(fmt.Sprintf("job %s payload is not valid JSON", j.JobID), fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	return nil
}

// DecodeResult unmarshals the result into dst
func (j *Job) DecodeResult(dst any) error {
	if j.Result == "" {
		return fmt.Errorf("job %s has no result", j.JobID)
	}
	if err := json.Unmarshal([]byte(j.Result), dst); err != nil {
		return fmt.Errorf("failed to decode result of job %s: %w", j.JobID, err)
	}
	return nil
}

// JobMessage is the body of process and failure queue messages
type JobMessage struct {
	JobID       string  `json:"job_id"`
	JobType     JobType `json:"job_type"`
	ParentJobID string  `json:"parent_job_id"`

	DeliveryTag uint64 `json:"-"`
	Redelivered bool   `json:"-"`
}

// MessageFor builds the queue message announcing a job
func MessageFor(j *Job) JobMessage {
	return JobMessage{
		JobID:       j.JobID,
		JobType:     j.JobType,
		ParentJobID: j.ParentJobID,
	}
}
