package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/cuongbtq/voice2soap/internal/provider/transcribe"
	"github.com/cuongbtq/voice2soap/internal/storage"
)

// transcriptSeparator joins the transcripts of one consultation
const transcriptSeparator = "\n\n"

// aggregate runs the fan-in step: it reads every successful transcript of
// the ROOT in reference order, generates one SOAP note and completes the
// ROOT before the aggregate job. A redelivery that finds the ROOT already
// finished only settles the aggregate job from it.
func (s *Service) aggregate(ctx context.Context, job *domain.Job) error {
	if s.soap == nil {
		return domain.NewValidationError("no SOAP generation step configured", domain.ErrUnsupportedJobType)
	}

	var payload domain.AggregatePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	root, err := s.repo.FindRoot(ctx, job)
	if err != nil {
		return err
	}
	if payload.RootJobID != "" && payload.RootJobID != root.JobID {
		return domain.NewValidationError(
			fmt.Sprintf("aggregate job %s names root %s but belongs to %s", job.JobID, payload.RootJobID, root.JobID), nil)
	}
	if root.Status.IsTerminal() {
		return s.settleAggregate(ctx, job, root)
	}

	transcript, err := s.collectTranscript(ctx, root)
	if err != nil {
		return err
	}

	note, err := s.soap.Generate(ctx, transcript)
	if err != nil {
		return err
	}

	rootResult, err := json.Marshal(domain.RootResult{TranscriptionText: transcript, SoapData: note})
	if err != nil {
		return fmt.Errorf("failed to marshal root result: %w", err)
	}
	stored, applied, err := s.store.Transition(ctx, root.JobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusCompleted,
		storage.TransitionUpdate{Result: string(rootResult)})
	if err != nil {
		return err
	}
	if applied {
		s.logger.Info("Root job completed",
			slog.String("job_id", root.JobID),
			slog.String("aggregate_job_id", job.JobID),
			slog.Int("transcript_length", len(transcript)),
		)
	}

	return s.settleAggregate(ctx, job, stored)
}

// settleAggregate finishes the aggregate job the way its ROOT finished. A
// COMPLETED ROOT hands its SOAP note down; a FAILED one fails the job.
func (s *Service) settleAggregate(ctx context.Context, job, root *domain.Job) error {
	var (
		to     domain.JobStatus
		update storage.TransitionUpdate
	)
	switch root.Status {
	case domain.JobStatusCompleted:
		var result domain.RootResult
		if err := root.DecodeResult(&result); err != nil {
			return fmt.Errorf("failed to read result of root job %s: %w", root.JobID, err)
		}
		noteJSON, err := json.Marshal(result.SoapData)
		if err != nil {
			return fmt.Errorf("failed to marshal SOAP note: %w", err)
		}
		to, update = domain.JobStatusCompleted, storage.TransitionUpdate{Result: string(noteJSON)}
	case domain.JobStatusFailed:
		to, update = domain.JobStatusFailed, storage.TransitionUpdate{Error: fmt.Sprintf("root job %s already failed", root.JobID)}
	default:
		return domain.NewValidationError(fmt.Sprintf("root job %s is still %s", root.JobID, root.Status), nil)
	}

	stored, applied, err := s.store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusInProgress}, to, update)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Warn("Aggregate job already finished",
			slog.String("job_id", job.JobID),
			slog.String("status", string(stored.Status)),
		)
		return nil
	}

	s.logger.Info("Aggregate job settled",
		slog.String("job_id", job.JobID),
		slog.String("root_job_id", root.JobID),
		slog.String("status", string(to)),
	)
	return nil
}

// collectTranscript concatenates the transcripts of the successful
// references. Pre-existing transcripts come from the ROOT payload, new
// ones from the results of completed LEAF_TRANSCRIBE children.
func (s *Service) collectTranscript(ctx context.Context, root *domain.Job) (string, error) {
	var payload domain.RootPayload
	if err := root.DecodePayload(&payload); err != nil {
		return "", err
	}

	children, err := s.repo.FindChildren(ctx, root.JobID, domain.JobTypeLeafTranscribe)
	if err != nil {
		return "", err
	}

	locations := make(map[int]string, len(children))
	for _, child := range children {
		if child.Status != domain.JobStatusCompleted {
			continue
		}
		var childPayload domain.TranscribePayload
		if err := child.DecodePayload(&childPayload); err != nil {
			return "", err
		}
		var result domain.TranscribeResult
		if err := child.DecodeResult(&result); err != nil {
			s.logger.Warn("Completed transcription has no usable result",
				slog.String("job_id", child.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		locations[childPayload.ReferenceIndex] = result.TranscriptLocation
	}

	texts := make([]string, 0, len(payload.References))
	for i, ref := range payload.References {
		location := ref.TranscriptLocation
		if location == "" {
			location = locations[i]
		}
		if location == "" {
			continue
		}

		data, err := s.objects.ReadObject(ctx, location)
		if objectstore.IsNotFound(err) {
			s.logger.Warn("Transcript missing from storage",
				slog.String("location", location),
			)
			continue
		}
		if err != nil {
			return "", domain.NewProviderError("storage", fmt.Errorf("read transcript %s: %w", location, err))
		}
		text, err := transcribe.ExtractText(data)
		if err != nil {
			s.logger.Warn("Skipping unusable transcript",
				slog.String("location", location),
				slog.String("error", err.Error()),
			)
			continue
		}
		texts = append(texts, text)
	}

	if len(texts) == 0 {
		return "", domain.NewValidationError(fmt.Sprintf("root job %s has no transcript text to aggregate", root.JobID), nil)
	}
	return strings.Join(texts, transcriptSeparator), nil
}
