package step

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/cuongbtq/voice2soap/internal/provider/transcribe"
)

// Starter submits an asynchronous transcription
type Starter interface {
	StartTranscription(ctx context.Context, req transcribe.StartRequest) (*transcribe.StartResponse, error)
}

// Locator maps object keys to provider-visible locations
type Locator interface {
	Bucket() string
	ObjectURI(key string) string
}

// Transcriber starts the transcription of one LEAF_TRANSCRIBE job.
// The job stays IN_PROGRESS until its transcript artifact is observed.
type Transcriber struct {
	starter Starter
	locator Locator
	logger  *slog.Logger
}

// NewTranscriber creates a new Transcriber instance
func NewTranscriber(starter Starter, locator Locator, logger *slog.Logger) *Transcriber {
	return &Transcriber{starter: starter, locator: locator, logger: logger}
}

// Start submits the job keyed by its job id
func (t *Transcriber) Start(ctx context.Context, job *domain.Job) error {
	var payload domain.TranscribePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.SourceLocation == "" || payload.ReferenceID == "" {
		return domain.NewValidationError(fmt.Sprintf("job %s payload lacks a source location", job.JobID), domain.ErrInvalidPayload)
	}

	outputKey := objectstore.TranscriptKey(payload.ReferenceID, job.JobID)
	resp, err := t.starter.StartTranscription(ctx, transcribe.StartRequest{
		JobName:      job.JobID,
		MediaURI:     t.locator.ObjectURI(payload.SourceLocation),
		OutputBucket: t.locator.Bucket(),
		OutputKey:    outputKey,
	})
	if err != nil {
		return domain.NewProviderError("transcription", err)
	}

	t.logger.Info("Transcription started",
		slog.String("job_id", job.JobID),
		slog.String("reference_id", payload.ReferenceID),
		slog.String("output_key", outputKey),
		slog.String("provider_status", resp.Status),
	)
	return nil
}
