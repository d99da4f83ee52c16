package worker

import (
	"context"

	"github.com/cuongbtq/voice2soap/internal/domain"
)

// JSONPublisher sends a value as a JSON message on the process queue
type JSONPublisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// JobPublisher adapts a queue client to the orchestrator's publisher
type JobPublisher struct {
	client JSONPublisher
}

// NewJobPublisher creates a new JobPublisher instance
func NewJobPublisher(client JSONPublisher) *JobPublisher {
	return &JobPublisher{client: client}
}

// PublishJob enqueues a process message
func (p *JobPublisher) PublishJob(ctx context.Context, msg domain.JobMessage) error {
	return p.client.PublishJSON(ctx, msg)
}
