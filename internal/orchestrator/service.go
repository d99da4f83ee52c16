package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/storage"
)

// failureWriteTimeout bounds a failure write-back once the step context is gone
const failureWriteTimeout = 10 * time.Second

// Publisher enqueues process messages
type Publisher interface {
	PublishJob(ctx context.Context, msg domain.JobMessage) error
}

// ObjectStore is the part of object storage the saga reads
type ObjectStore interface {
	ResolveUpload(ctx context.Context, uploadID string) (string, error)
	FindTranscript(ctx context.Context, referenceID string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	ReadObject(ctx context.Context, key string) ([]byte, error)
}

// TranscriptionStarter kicks off the asynchronous transcription of a leaf
type TranscriptionStarter interface {
	Start(ctx context.Context, job *domain.Job) error
}

// NoteGenerator turns transcript text into a SOAP note
type NoteGenerator interface {
	Generate(ctx context.Context, transcript string) (domain.SoapNote, error)
}

// Dependencies holds everything the Service is built from
type Dependencies struct {
	Store       storage.Store
	Publisher   Publisher
	Objects     ObjectStore
	Transcriber TranscriptionStarter
	Soap        NoteGenerator
	Logger      *slog.Logger

	// JobTTL defaults to domain.DefaultJobTTL
	JobTTL time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

// Service runs the voice2soap saga: fan-out on creation, step execution,
// the fan-in gate and failure propagation.
type Service struct {
	store       storage.Store
	repo        *storage.Repository
	publisher   Publisher
	objects     ObjectStore
	transcriber TranscriptionStarter
	soap        NoteGenerator
	logger      *slog.Logger
	jobTTL      time.Duration
	now         func() time.Time
}

// NewService creates a new Service instance
func NewService(deps Dependencies) (*Service, error) {
	if deps.Store == nil || deps.Publisher == nil || deps.Objects == nil {
		return nil, errors.New("orchestrator requires a store, a publisher and an object store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.JobTTL <= 0 {
		deps.JobTTL = domain.DefaultJobTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		store:       deps.Store,
		repo:        storage.NewRepository(deps.Store),
		publisher:   deps.Publisher,
		objects:     deps.Objects,
		transcriber: deps.Transcriber,
		soap:        deps.Soap,
		logger:      deps.Logger,
		jobTTL:      deps.JobTTL,
		now:         deps.Now,
	}, nil
}

// PurgeExpired reclaims job records whose ttl has passed
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}

// writeBackContext detaches ctx from its deadline so a step that ran out of
// time can still record its failure
func writeBackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
}

func (s *Service) publish(ctx context.Context, job *domain.Job) error {
	if err := s.publisher.PublishJob(ctx, domain.MessageFor(job)); err != nil {
		return err
	}
	s.logger.Info("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.String("parent_job_id", job.ParentJobID),
	)
	return nil
}
