package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// JobDetails is a ROOT job with its children and decoded result
type JobDetails struct {
	Root     *domain.Job
	Children []*domain.Job
	// Result is set once the ROOT is COMPLETED
	Result *domain.RootResult
}

// GetVoice2SoapJob loads a ROOT job for status queries
func (s *Service) GetVoice2SoapJob(ctx context.Context, jobID string) (*JobDetails, error) {
	root, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if root.JobType != domain.JobTypeRoot {
		return nil, domain.NewValidationError(fmt.Sprintf("job %s is not a voice2soap job", jobID), nil)
	}

	children, err := s.repo.FindChildren(ctx, root.JobID)
	if err != nil {
		return nil, err
	}

	details := &JobDetails{Root: root, Children: children}
	if root.Status == domain.JobStatusCompleted {
		var result domain.RootResult
		if err := root.DecodeResult(&result); err != nil {
			return nil, fmt.Errorf("failed to read result of job %s: %w", jobID, err)
		}
		details.Result = &result
	}
	return details, nil
}

// GetJob loads any job by id
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns every job of a type
func (s *Service) ListJobs(ctx context.Context, jobType domain.JobType) ([]*domain.Job, error) {
	return s.repo.FindByType(ctx, jobType)
}
