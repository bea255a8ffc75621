// Package tasks wraps the asynq client used to hand jobs to the runner.
package tasks

import (
	"context"

	"github.com/hibiken/asynq"

	"scrapehub/internal/core/runner"
	"scrapehub/internal/platform/redis"
)

type Client struct {
	c          *asynq.Client
	maxRetries int
}

func New(r *redis.Service, maxRetries int) *Client {
	return &Client{c: asynq.NewClient(r.AsynqRedisOpt()), maxRetries: maxRetries}
}

func (t *Client) Close() error { return t.c.Close() }

// EnqueueBatch queues a run of the given job. Satisfies job.Enqueuer.
func (t *Client) EnqueueBatch(ctx context.Context, jobID string) error {
	task, err := runner.NewBatchTask(jobID)
	if err != nil {
		return err
	}
	_, err = t.c.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(t.maxRetries))
	return err
}
