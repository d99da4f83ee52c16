package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/storage"
)

// HandleMessage executes the step named by a process message.
//
// Step failures are written onto the job and propagated before the error is
// returned, so the caller only has to decide whether to requeue. Store
// failures leave the job untouched and come back retryable.
func (s *Service) HandleMessage(ctx context.Context, msg domain.JobMessage) error {
	job, err := s.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.NewValidationError(fmt.Sprintf("job %s does not exist", msg.JobID), err)
		}
		return err
	}
	if msg.JobType != "" && msg.JobType != job.JobType {
		return domain.NewValidationError(
			fmt.Sprintf("message for job %s names type %s, job is %s", job.JobID, msg.JobType, job.JobType), nil)
	}
	if !job.JobType.IsLeaf() {
		return domain.NewValidationError(fmt.Sprintf("job %s of type %s is not executable", job.JobID, job.JobType), domain.ErrUnsupportedJobType)
	}

	claimed, applied, err := s.store.Transition(ctx, job.JobID, claimableStatuses(job.JobType, msg.Redelivered),
		domain.JobStatusInProgress, storage.TransitionUpdate{})
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Info("Job already claimed or finished, skipping",
			slog.String("job_id", job.JobID),
			slog.String("status", string(claimed.Status)),
			slog.Bool("redelivered", msg.Redelivered),
		)
		return nil
	}

	s.logger.Info("Processing job",
		slog.String("job_id", claimed.JobID),
		slog.String("job_type", string(claimed.JobType)),
		slog.String("parent_job_id", claimed.ParentJobID),
	)

	err = s.execute(ctx, claimed)
	if err == nil {
		return nil
	}
	if domain.IsRetryable(err) {
		s.logger.Warn("Job step hit a transient error",
			slog.String("job_id", claimed.JobID),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Error("Job step failed",
		slog.String("job_id", claimed.JobID),
		slog.String("job_type", string(claimed.JobType)),
		slog.Bool("classified", domain.IsTerminalStepError(err)),
		slog.String("error", err.Error()),
	)
	failCtx, cancel := writeBackContext(ctx)
	defer cancel()
	if failErr := s.failLeaf(failCtx, claimed, err.Error()); failErr != nil {
		return failErr
	}
	return err
}

// execute is the single dispatch point over job types
func (s *Service) execute(ctx context.Context, job *domain.Job) error {
	switch job.JobType {
	case domain.JobTypeLeafTranscribe:
		if s.transcriber == nil {
			return domain.NewValidationError("no transcription step configured", domain.ErrUnsupportedJobType)
		}
		return s.transcriber.Start(ctx, job)
	case domain.JobTypeLeafAggregate:
		return s.aggregate(ctx, job)
	case domain.JobTypeRoot:
		return domain.NewValidationError(fmt.Sprintf("job %s is a ROOT job and has no step", job.JobID), domain.ErrUnsupportedJobType)
	default:
		return domain.NewValidationError(fmt.Sprintf("job %s has type %q", job.JobID, job.JobType), domain.ErrUnsupportedJobType)
	}
}

// claimableStatuses lists the states a message may claim a job from.
// A started transcription is never restarted: its outcome arrives as a
// completion signal. An interrupted aggregation is rerun on redelivery.
func claimableStatuses(jobType domain.JobType, redelivered bool) []domain.JobStatus {
	if redelivered && jobType == domain.JobTypeLeafAggregate {
		return []domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}
	}
	return []domain.JobStatus{domain.JobStatusPending}
}
