// Package bootstrap turns a loaded config into connected clients and the
// orchestrator service shared by the api, worker and jobctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/voice2soap/internal/config"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/cuongbtq/voice2soap/internal/orchestrator"
	"github.com/cuongbtq/voice2soap/internal/provider/llm"
	"github.com/cuongbtq/voice2soap/internal/provider/transcribe"
	"github.com/cuongbtq/voice2soap/internal/step"
	"github.com/cuongbtq/voice2soap/internal/storage"
	"github.com/cuongbtq/voice2soap/internal/worker"
	"github.com/cuongbtq/voice2soap/shared/database"
	"github.com/cuongbtq/voice2soap/shared/logger"
	"github.com/cuongbtq/voice2soap/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitDatabase opens the job database
func InitDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// InitJobStore wraps the database in the job store and applies the schema
func InitJobStore(ctx context.Context, db *database.Client, logger *slog.Logger) (*storage.SQLStore, error) {
	store := storage.NewSQLStore(db.GetDB(), logger)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate job store: %w", err)
	}
	return store, nil
}

// InitRabbitMQ initializes the RabbitMQ client and declares the topology
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueDurable:       cfg.Queues.Durable,
		ProcessQueue:       cfg.Queues.Process.Name,
		ProcessRoutingKey:  cfg.Queues.Process.RoutingKey,
		FailedQueue:        cfg.Queues.Failed.Name,
		FailedRoutingKey:   cfg.Queues.Failed.RoutingKey,
		EventsQueue:        cfg.Queues.Events.Name,
		EventsRoutingKey:   cfg.Queues.Events.RoutingKey,
		DeliveryLimit:      cfg.Queues.DeliveryLimit,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// InitObjectStore connects to the bucket holding recordings and transcripts
func InitObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Client, error) {
	return objectstore.NewClient(ctx, &objectstore.Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		UseSSL:          cfg.UseSSL,
		CreateBucket:    cfg.CreateBucket,
		UploadURLTTL:    cfg.UploadURLExpiry,
		DownloadURLTTL:  cfg.DownloadURLExpiry,
	}, logger)
}

// Clients are the connections a service holds for its lifetime
type Clients struct {
	DB      *database.Client
	Store   *storage.SQLStore
	Rabbit  *rabbitmq.Client
	Objects *objectstore.Client
}

// Connect opens every client named in the config. On failure the clients
// opened so far are closed.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Clients, err error) {
	clients := &Clients{}
	defer func() {
		if err != nil {
			_ = clients.Close()
		}
	}()

	if clients.DB, err = InitDatabase(&cfg.Database, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database connection established")

	if clients.Store, err = InitJobStore(ctx, clients.DB, logger); err != nil {
		return nil, err
	}

	if clients.Rabbit, err = InitRabbitMQ(&cfg.RabbitMQ, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	if clients.Objects, err = InitObjectStore(ctx, &cfg.Storage, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	return clients, nil
}

// Close releases every opened client
func (c *Clients) Close() error {
	var errs []error
	if c.Rabbit != nil {
		errs = append(errs, c.Rabbit.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

// NewService builds the orchestrator on top of the clients. Step providers
// are wired only when configured, so the api service runs without them.
func NewService(cfg *config.Config, clients *Clients, logger *slog.Logger) (*orchestrator.Service, error) {
	deps := orchestrator.Dependencies{
		Store:     clients.Store,
		Publisher: worker.NewJobPublisher(clients.Rabbit),
		Objects:   clients.Objects,
		Logger:    logger,
		JobTTL:    cfg.Jobs.TTL,
	}

	if cfg.Transcription.BaseURL != "" {
		provider := transcribe.NewClient(transcribe.Config{
			BaseURL:          cfg.Transcription.BaseURL,
			APIKey:           cfg.Transcription.APIKey,
			LanguageCode:     cfg.Transcription.LanguageCode,
			MaxSpeakerLabels: cfg.Transcription.MaxSpeakerLabels,
			Timeout:          cfg.Transcription.Timeout,
		})
		deps.Transcriber = step.NewTranscriber(provider, clients.Objects, logger)
	}

	if cfg.Generation.BaseURL != "" {
		provider := llm.NewClient(llm.Config{
			APIKey:      cfg.Generation.APIKey,
			BaseURL:     cfg.Generation.BaseURL,
			Model:       cfg.Generation.Model,
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
			TopP:        cfg.Generation.TopP,
			Timeout:     cfg.Generation.Timeout,
		})
		deps.Soap = step.NewSoapGenerator(provider, logger)
	}

	return orchestrator.NewService(deps)
}
