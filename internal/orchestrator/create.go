package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/cuongbtq/voice2soap/internal/storage"
)

// CreateRequest names the recordings of one consultation. At least one of
// the forms must be present.
type CreateRequest struct {
	UploadIDs      []string
	UploadID       string
	SourceLocation string
}

// CreateResult is returned synchronously; the rest of the saga runs on workers
type CreateResult struct {
	RootJobID string
	Status    domain.JobStatus
	ChildJobs []domain.ChildManifest
}

// CreateVoice2SoapJob creates the ROOT job and fans out one LEAF_TRANSCRIBE
// per reference that has no transcript yet.
func (s *Service) CreateVoice2SoapJob(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	refs, err := s.resolveReferences(ctx, req)
	if err != nil {
		return nil, err
	}

	pending := make([]int, 0, len(refs))
	for i := range refs {
		location, found, err := s.objects.FindTranscript(ctx, refs[i].ReferenceID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up transcript of %s: %w", refs[i].ReferenceID, err)
		}
		if found {
			refs[i].TranscriptLocation = location
			continue
		}
		pending = append(pending, i)
	}

	now := s.now()
	root, err := domain.NewJob(domain.JobTypeRoot, domain.ParentJobIDNone, domain.RootPayload{References: refs}, now, s.jobTTL)
	if err != nil {
		return nil, err
	}
	// With nothing to transcribe the ROOT stays PENDING until aggregation
	// moves it on.
	if len(pending) > 0 {
		root.Status = domain.JobStatusInProgress
	}
	root.TotalChildJobs = len(refs)
	root.CompletedChildJobs = len(refs) - len(pending)

	if _, err := s.store.Create(ctx, root); err != nil {
		return nil, err
	}

	s.logger.Info("Root job created",
		slog.String("job_id", root.JobID),
		slog.Int("total_child_jobs", root.TotalChildJobs),
		slog.Int("already_transcribed", root.CompletedChildJobs),
	)

	manifest := make([]domain.ChildManifest, len(refs))
	for i, ref := range refs {
		manifest[i] = domain.ChildManifest{
			ReferenceID: ref.ReferenceID,
			UploadID:    ref.UploadID,
			Status:      domain.ReferenceCompleted,
		}
	}

	// Every leaf exists before any is published, so a ROOT never waits on a
	// child that was not created.
	leaves := make([]*domain.Job, 0, len(pending))
	for _, i := range pending {
		leaf, err := domain.NewJob(domain.JobTypeLeafTranscribe, root.JobID, domain.TranscribePayload{
			ReferenceID:    refs[i].ReferenceID,
			UploadID:       refs[i].UploadID,
			SourceLocation: refs[i].SourceLocation,
			ReferenceIndex: i,
		}, now, s.jobTTL)
		if err != nil {
			return nil, s.abortCreate(ctx, root, err)
		}
		if _, err := s.store.Create(ctx, leaf); err != nil {
			return nil, s.abortCreate(ctx, root, err)
		}
		leaves = append(leaves, leaf)
		manifest[i].JobID = leaf.JobID
		manifest[i].Status = domain.ReferenceQueued
	}

	for k, leaf := range leaves {
		if err := s.publish(ctx, leaf); err != nil {
			s.logger.Error("Failed to enqueue transcription job",
				slog.String("job_id", leaf.JobID),
				slog.String("error", err.Error()),
			)
			// The leaf counts as failed so its siblings can still fan in.
			if failErr := s.failLeaf(ctx, leaf, fmt.Sprintf("failed to enqueue job: %v", err)); failErr != nil {
				return nil, failErr
			}
			manifest[pending[k]].Status = domain.ReferenceFailed
		}
	}

	if len(pending) == 0 {
		counts := storage.ChildCounts{Total: root.TotalChildJobs, Completed: root.CompletedChildJobs}
		if err := s.fanIn(ctx, root.JobID, counts); err != nil {
			return nil, err
		}
	}

	return &CreateResult{
		RootJobID: root.JobID,
		Status:    root.Status,
		ChildJobs: manifest,
	}, nil
}

// abortCreate fails a ROOT whose transcription jobs could not all be
// created and returns the cause
func (s *Service) abortCreate(ctx context.Context, root *domain.Job, cause error) error {
	s.logger.Error("Failed to create transcription jobs",
		slog.String("job_id", root.JobID),
		slog.String("error", cause.Error()),
	)

	failCtx, cancel := writeBackContext(ctx)
	defer cancel()
	if err := s.failRoot(failCtx, root.JobID, fmt.Sprintf("failed to create transcription jobs: %v", cause)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// resolveReferences turns the request into references in request order,
// dropping repeats of the same recording.
func (s *Service) resolveReferences(ctx context.Context, req CreateRequest) ([]domain.Reference, error) {
	uploadIDs := make([]string, 0, len(req.UploadIDs)+1)
	if req.UploadID != "" {
		uploadIDs = append(uploadIDs, req.UploadID)
	}
	uploadIDs = append(uploadIDs, req.UploadIDs...)

	source := strings.TrimPrefix(strings.TrimSpace(req.SourceLocation), "/")
	if len(uploadIDs) == 0 && source == "" {
		return nil, domain.NewValidationError("either upload_ids or source_location is required", nil)
	}

	seen := make(map[string]struct{}, len(uploadIDs)+1)
	refs := make([]domain.Reference, 0, len(uploadIDs)+1)
	add := func(ref domain.Reference) {
		if _, dup := seen[ref.ReferenceID]; dup {
			return
		}
		seen[ref.ReferenceID] = struct{}{}
		refs = append(refs, ref)
	}

	for _, uploadID := range uploadIDs {
		uploadID = strings.TrimSpace(uploadID)
		location, err := s.objects.ResolveUpload(ctx, uploadID)
		if err != nil {
			return nil, err
		}
		add(domain.Reference{
			ReferenceID:    objectstore.ReferenceID(location),
			UploadID:       uploadID,
			SourceLocation: location,
		})
	}

	if source != "" {
		exists, err := s.objects.Exists(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to check source location: %w", err)
		}
		if !exists {
			return nil, domain.NewValidationError(fmt.Sprintf("source location %q not found", source), domain.ErrReferenceNotFound)
		}
		add(domain.Reference{
			ReferenceID:    objectstore.ReferenceID(source),
			SourceLocation: source,
		})
	}

	return refs, nil
}
