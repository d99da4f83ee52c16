package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// Repository layers typed lookups over a Store
type Repository struct {
	store Store
}

// NewRepository creates a new Repository instance
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// FindByID returns the job with the given id
func (r *Repository) FindByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.store.Get(ctx, jobID)
}

// FindByType returns every job of the given type
func (r *Repository) FindByType(ctx context.Context, jobType domain.JobType) ([]*domain.Job, error) {
	return r.store.Query(ctx, IndexJobType, string(jobType))
}

// FindChildren returns the children of a ROOT, optionally restricted to some types
func (r *Repository) FindChildren(ctx context.Context, parentJobID string, types ...domain.JobType) ([]*domain.Job, error) {
	if parentJobID == "" || parentJobID == domain.ParentJobIDNone {
		return nil, fmt.Errorf("find children: %q is not a parent id", parentJobID)
	}

	children, err := r.store.Query(ctx, IndexParentJobID, parentJobID)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return children, nil
	}

	filtered := children[:0]
	for _, child := range children {
		for _, t := range types {
			if child.JobType == t {
				filtered = append(filtered, child)
				break
			}
		}
	}
	return filtered, nil
}

// FindRoot loads the ROOT owning a leaf
func (r *Repository) FindRoot(ctx context.Context, leaf *domain.Job) (*domain.Job, error) {
	if !leaf.HasParent() {
		return nil, domain.NewValidationError(fmt.Sprintf("job %s has no parent", leaf.JobID), nil)
	}
	root, err := r.store.Get(ctx, leaf.ParentJobID)
	if err != nil {
		return nil, err
	}
	if root.JobType != domain.JobTypeRoot {
		return nil, domain.NewValidationError(fmt.Sprintf("parent %s of job %s is not a ROOT job", root.JobID, leaf.JobID), nil)
	}
	return root, nil
}
