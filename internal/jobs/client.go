package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// Enqueue submits a prepared task.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, opts...)
}

// NotifyPasswordReset enqueues delivery of a reset link.  The task is
// discarded by asynq once the token would have expired.
func (c *Client) NotifyPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	task, err := NewPasswordResetTask(PasswordResetPayload{Email: email, Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Deadline(expiresAt)); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskSendPasswordReset, err)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
