package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type taskKind string

const (
	taskProcess taskKind = "process"
	taskFailed  taskKind = "failed"
	taskEvent   taskKind = "events"
)

// task is one decoded delivery waiting for a pool goroutine
type task struct {
	kind      taskKind
	msg       domain.JobMessage
	locations []string
	delivery  amqp.Delivery
}

func (t *task) String() string {
	if t.kind == taskEvent {
		return fmt.Sprintf("%s:%d keys", t.kind, len(t.locations))
	}
	return fmt.Sprintf("%s:%s", t.kind, t.msg.JobID)
}

// processTask runs the handler for one delivery under the job timeout
func (w *Worker) processTask(ctx context.Context, t *task) error {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	switch t.kind {
	case taskProcess:
		w.logger.Info("Processing job",
			slog.String("job_id", t.msg.JobID),
			slog.String("job_type", string(t.msg.JobType)),
			slog.Bool("redelivered", t.msg.Redelivered),
			slog.String("worker_id", w.workerID),
		)
		return w.handler.HandleMessage(ctx, t.msg)

	case taskFailed:
		w.logger.Warn("Processing dead-lettered job",
			slog.String("job_id", t.msg.JobID),
			slog.String("job_type", string(t.msg.JobType)),
		)
		return w.handler.HandleFailedMessage(ctx, t.msg)

	case taskEvent:
		var errs []error
		for _, location := range t.locations {
			if err := w.handler.CompleteTranscription(ctx, location); err != nil {
				w.logger.Error("Failed to record transcription completion",
					slog.String("location", location),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	default:
		return domain.NewValidationError(fmt.Sprintf("unknown task kind %q", t.kind), nil)
	}
}

// runJanitor reclaims expired job records until ctx is done
func (w *Worker) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(w.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := w.handler.PurgeExpired(ctx)
			if err != nil {
				w.logger.Warn("Failed to purge expired jobs", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				w.logger.Info("Expired jobs purged", slog.Int64("deleted", deleted))
			}
		}
	}
}
