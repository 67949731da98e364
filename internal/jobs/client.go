package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a deploy of the same version is still
// waiting in the queue.
var ErrAlreadyQueued = errors.New("deploy already queued")

// Client enqueues deploys onto a named queue.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewClient(redisAddr, queue string, maxRetry int) *Client {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Client{
		client:   asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		queue:    queue,
		maxRetry: maxRetry,
	}
}

// EnqueueDeploy queues p and returns the task id.
func (c *Client) EnqueueDeploy(ctx context.Context, p DeployVersionPayload) (string, error) {
	info, err := Enqueue(ctx, c.client, p, asynq.Queue(c.queue), asynq.MaxRetry(c.maxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", ErrAlreadyQueued
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
