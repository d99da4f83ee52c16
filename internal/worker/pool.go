package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed", slog.String("worker_name", workerName))
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled", slog.String("worker_name", workerName))
			return

		case t, ok := <-w.jobsChan:
			if !ok {
				return
			}
			w.handleTask(ctx, workerName, t)
		}
	}
}

// handleTask processes one delivery and acknowledges it
func (w *Worker) handleTask(ctx context.Context, workerName string, t *task) {
	err := w.processTask(ctx, t)
	if err == nil {
		if ackErr := t.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("task", t.String()),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	w.logger.Error("Message processing failed",
		slog.String("worker_name", workerName),
		slog.String("task", t.String()),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := t.delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("task", t.String()),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeue decides between redelivery and dead-lettering. Store and
// explicitly retryable failures are requeued, bounded by the queue's
// delivery limit; everything else was already recorded on the job.
func shouldRequeue(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return domain.IsRetryable(err)
}
