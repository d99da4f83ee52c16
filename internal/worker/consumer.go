package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// errDeliveriesClosed ends a dispatcher whose broker channel went away
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// setupConsumers sets QoS and starts one consumer per configured queue
func (w *Worker) setupConsumers() (map[taskKind]<-chan amqp.Delivery, error) {
	if err := w.broker.SetQoS(w.prefetchCount); err != nil {
		return nil, err
	}
	w.logger.Info("RabbitMQ QoS configured", slog.Int("prefetch_count", w.prefetchCount))

	deliveries := make(map[taskKind]<-chan amqp.Delivery, len(w.queues))
	for kind, queue := range w.queues {
		if queue == "" {
			continue
		}
		consumerTag := fmt.Sprintf("%s-%s", w.workerID, kind)
		ch, err := w.broker.Consume(queue, consumerTag)
		if err != nil {
			return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
		}
		deliveries[kind] = ch
	}
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries of one queue and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, kind taskKind, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.queues[kind]),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed", slog.String("queue", w.queues[kind]))
				return errDeliveriesClosed
			}

			t, err := decodeDelivery(kind, delivery)
			if err != nil {
				w.logger.Error("Dropping undecodable message",
					slog.String("queue", w.queues[kind]),
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages are dead-lettered, never requeued
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.String("error", nackErr.Error()))
				}
				continue
			}

			select {
			case w.jobsChan <- t:
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.String("error", nackErr.Error()))
				}
				return nil
			}
		}
	}
}

// decodeDelivery parses a delivery into a task for the pool
func decodeDelivery(kind taskKind, delivery amqp.Delivery) (*task, error) {
	t := &task{kind: kind, delivery: delivery}

	if kind == taskEvent {
		keys, err := objectstore.CreatedTranscriptKeys(delivery.Body)
		if err != nil {
			return nil, err
		}
		t.locations = keys
		return t, nil
	}

	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	if msg.JobType != "" {
		if _, err := domain.ParseJobType(string(msg.JobType)); err != nil {
			return nil, err
		}
	}
	msg.DeliveryTag = delivery.DeliveryTag
	msg.Redelivered = delivery.Redelivered
	t.msg = msg
	return t, nil
}
