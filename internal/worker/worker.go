package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Handler is the saga entry point the worker drives
type Handler interface {
	HandleMessage(ctx context.Context, msg domain.JobMessage) error
	HandleFailedMessage(ctx context.Context, msg domain.JobMessage) error
	CompleteTranscription(ctx context.Context, location string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// Broker is the consuming side of the message queue
type Broker interface {
	SetQoS(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Handler       Handler
	Broker        Broker
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	PurgeInterval time.Duration

	ProcessQueue string
	FailedQueue  string
	EventsQueue  string
}

// Worker consumes the process, failed and storage-event queues and hands
// each delivery to a fixed pool of goroutines
type Worker struct {
	logger        *slog.Logger
	handler       Handler
	broker        Broker
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	purgeInterval time.Duration
	queues        map[taskKind]string

	jobsChan chan *task
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		handler:       cfg.Handler,
		broker:        cfg.Broker,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		purgeInterval: cfg.PurgeInterval,
		queues: map[taskKind]string{
			taskProcess: cfg.ProcessQueue,
			taskFailed:  cfg.FailedQueue,
			taskEvent:   cfg.EventsQueue,
		},
		jobsChan: make(chan *task, concurrency),
		stopChan: make(chan struct{}),
	}
}

// Start consumes until ctx is canceled or a delivery channel closes
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumers()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for kind, ch := range deliveries {
		g.Go(func() error {
			return w.startMessageDispatcher(gctx, kind, ch)
		})
	}
	if w.purgeInterval > 0 {
		g.Go(func() error {
			w.runJanitor(gctx)
			return nil
		})
	}

	err = g.Wait()
	w.logger.Info("Worker dispatchers stopped", slog.String("worker_id", w.workerID))
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
