package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/cuongbtq/voice2soap/internal/storage"
	"github.com/google/uuid"
)

// CompleteTranscription handles the out-of-band signal that a transcript
// artifact was written. The originating job id is read from the location.
func (s *Service) CompleteTranscription(ctx context.Context, location string) error {
	referenceID, jobID, err := objectstore.ParseTranscriptKey(location)
	if err != nil {
		return err
	}

	leaf, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.NewValidationError(fmt.Sprintf("transcript %s names unknown job %s", location, jobID), err)
		}
		return err
	}
	if leaf.JobType != domain.JobTypeLeafTranscribe {
		return domain.NewValidationError(fmt.Sprintf("job %s is %s, not a transcription job", jobID, leaf.JobType), nil)
	}

	var payload domain.TranscribePayload
	if err := leaf.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.ReferenceID != referenceID {
		return domain.NewValidationError(
			fmt.Sprintf("transcript %s does not belong to reference %s of job %s", location, payload.ReferenceID, jobID), nil)
	}

	result, err := json.Marshal(domain.TranscribeResult{TranscriptLocation: location})
	if err != nil {
		return fmt.Errorf("failed to marshal transcription result: %w", err)
	}

	leaf, applied, err := s.store.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusCompleted,
		storage.TransitionUpdate{Result: string(result)})
	if err != nil {
		return err
	}
	if !applied && leaf.Status == domain.JobStatusFailed {
		s.logger.Warn("Transcript arrived for a failed job, ignoring",
			slog.String("job_id", jobID),
			slog.String("location", location),
		)
		return nil
	}

	s.logger.Info("Transcription completed",
		slog.String("job_id", jobID),
		slog.String("location", location),
		slog.Bool("first_signal", applied),
	)

	return s.settleLeaf(ctx, leaf, domain.ChildCompleted)
}

// FailJob marks a leaf job FAILED and propagates the failure to its ROOT.
// A ROOT only fails as a consequence of its children and is rejected here.
// A job already COMPLETED is left alone. Calling it again for a FAILED job
// repeats the propagation, which is idempotent.
func (s *Service) FailJob(ctx context.Context, jobID, reason string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return s.failLeaf(ctx, job, reason)
}

// FailTranscription records a failure reported by the transcription
// provider. Only LEAF_TRANSCRIBE jobs are accepted.
func (s *Service) FailTranscription(ctx context.Context, jobID, reason string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.NewValidationError(fmt.Sprintf("transcription failure names unknown job %s", jobID), err)
		}
		return err
	}
	if job.JobType != domain.JobTypeLeafTranscribe {
		return domain.NewValidationError(fmt.Sprintf("job %s is %s, not a transcription job", jobID, job.JobType), nil)
	}
	return s.failLeaf(ctx, job, reason)
}

func (s *Service) failLeaf(ctx context.Context, job *domain.Job, reason string) error {
	if !job.JobType.IsLeaf() {
		return domain.NewValidationError(
			fmt.Sprintf("job %s is a %s job; only leaf jobs can be failed", job.JobID, job.JobType), domain.ErrUnsupportedJobType)
	}

	failed, applied, err := s.store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusFailed,
		storage.TransitionUpdate{Error: reason})
	if err != nil {
		return err
	}
	if !applied && failed.Status == domain.JobStatusCompleted {
		s.logger.Info("Job already completed, ignoring failure",
			slog.String("job_id", job.JobID),
			slog.String("reason", reason),
		)
		return nil
	}
	if applied {
		s.logger.Warn("Job marked as failed",
			slog.String("job_id", failed.JobID),
			slog.String("job_type", string(failed.JobType)),
			slog.String("error", reason),
		)
	}

	switch failed.JobType {
	case domain.JobTypeLeafTranscribe:
		return s.settleLeaf(ctx, failed, domain.ChildFailed)
	case domain.JobTypeLeafAggregate:
		if !failed.HasParent() {
			return nil
		}
		return s.failRoot(ctx, failed.ParentJobID, fmt.Sprintf("aggregation failed: %s", failed.Error))
	default:
		return nil
	}
}

// HandleFailedMessage processes a message dead-lettered from the process queue
func (s *Service) HandleFailedMessage(ctx context.Context, msg domain.JobMessage) error {
	err := s.FailJob(ctx, msg.JobID, "job message exhausted its delivery attempts")
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.NewValidationError(fmt.Sprintf("job %s does not exist", msg.JobID), err)
	}
	return err
}

// settleLeaf counts a finished leaf against its ROOT and runs the gate.
// The gate is evaluated even when the count was already applied, so a
// redelivered signal can finish a fan-in a crashed worker left behind.
func (s *Service) settleLeaf(ctx context.Context, leaf *domain.Job, outcome domain.ChildOutcome) error {
	if !leaf.HasParent() {
		return nil
	}

	counts, err := s.store.SettleChild(ctx, leaf.JobID, leaf.ParentJobID, outcome)
	if err != nil {
		return err
	}

	s.logger.Info("Child job settled",
		slog.String("job_id", leaf.JobID),
		slog.String("root_job_id", leaf.ParentJobID),
		slog.String("outcome", outcome.String()),
		slog.Bool("applied", counts.Applied),
		slog.Int("completed_child_jobs", counts.Completed),
		slog.Int("failed_child_jobs", counts.Failed),
		slog.Int("total_child_jobs", counts.Total),
	)

	return s.fanIn(ctx, leaf.ParentJobID, counts)
}

func (s *Service) fanIn(ctx context.Context, rootJobID string, counts storage.ChildCounts) error {
	if !counts.Done() {
		return nil
	}
	if counts.Completed == 0 {
		return s.failRoot(ctx, rootJobID, domain.ErrNoSuccessfulChildren.Error())
	}
	return s.ensureAggregate(ctx, rootJobID)
}

// ensureAggregate creates and enqueues the single LEAF_AGGREGATE of a ROOT.
// The aggregate id is fixed by the fan-in marker; whoever finds the marker
// set but the job missing recreates it under that id.
func (s *Service) ensureAggregate(ctx context.Context, rootJobID string) error {
	root, err := s.store.Get(ctx, rootJobID)
	if err != nil {
		return err
	}
	if root.Status.IsTerminal() {
		s.logger.Warn("Root job already finished, skipping aggregation",
			slog.String("root_job_id", rootJobID),
			slog.String("status", string(root.Status)),
		)
		return nil
	}

	marker, won, err := s.store.ClaimFanIn(ctx, rootJobID, uuid.NewString())
	if err != nil {
		return err
	}

	agg, err := domain.NewJobWithID(marker, domain.JobTypeLeafAggregate, rootJobID,
		domain.AggregatePayload{RootJobID: rootJobID}, s.now(), s.jobTTL)
	if err != nil {
		return err
	}

	created, err := s.store.Create(ctx, agg)
	if err != nil {
		return err
	}
	if !created {
		existing, err := s.store.Get(ctx, marker)
		if err != nil {
			return err
		}
		if existing.Status != domain.JobStatusPending {
			return nil
		}
		agg = existing
	}

	s.logger.Info("Fan-in reached",
		slog.String("root_job_id", rootJobID),
		slog.String("aggregate_job_id", agg.JobID),
		slog.Bool("claimed", won),
		slog.Bool("created", created),
	)

	if err := s.publish(ctx, agg); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to enqueue aggregate job %s: %w", agg.JobID, err))
	}
	return nil
}

func (s *Service) failRoot(ctx context.Context, rootJobID, reason string) error {
	root, applied, err := s.store.Transition(ctx, rootJobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusFailed,
		storage.TransitionUpdate{Error: reason})
	if err != nil {
		return err
	}
	if applied {
		s.logger.Warn("Root job failed",
			slog.String("job_id", root.JobID),
			slog.String("error", reason),
		)
	}
	return nil
}
