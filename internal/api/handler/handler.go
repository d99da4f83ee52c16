package handler

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/cuongbtq/voice2soap/internal/orchestrator"
)

// JobService is the saga surface the HTTP layer drives
type JobService interface {
	CreateVoice2SoapJob(ctx context.Context, req orchestrator.CreateRequest) (*orchestrator.CreateResult, error)
	GetVoice2SoapJob(ctx context.Context, jobID string) (*orchestrator.JobDetails, error)
	CompleteTranscription(ctx context.Context, location string) error
	FailTranscription(ctx context.Context, jobID, reason string) error
}

// URLSigner issues presigned object URLs
type URLSigner interface {
	PresignedUploadURL(ctx context.Context, key string) (*url.URL, error)
	PresignedDownloadURL(ctx context.Context, key string) (*url.URL, error)
	ResolveUpload(ctx context.Context, uploadID string) (string, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service JobService
	Signer  URLSigner
}

// JobHandler handles voice2soap job requests
type JobHandler struct {
	logger  *slog.Logger
	service JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// StorageHandler hands out presigned upload and download URLs
type StorageHandler struct {
	logger *slog.Logger
	signer URLSigner
}

func NewStorageHandler(deps *Dependencies) *StorageHandler {
	return &StorageHandler{
		logger: deps.Logger,
		signer: deps.Signer,
	}
}

// TranscriptionHandler receives provider callbacks
type TranscriptionHandler struct {
	logger  *slog.Logger
	service JobService
}

func NewTranscriptionHandler(deps *Dependencies) *TranscriptionHandler {
	return &TranscriptionHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
