package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
)

// Client submits delivery tasks to the channel queues. Retries are managed
// in Postgres by the due-retry sweep, so asynq-level retry is disabled.
type Client struct {
	inner *asynq.Client
}

// NewClient constructs a queue client over the shared redis instance.
func NewClient(cfg config.RedisConfig) *Client {
	return &Client{inner: asynq.NewClient(asynqRedisOpt(cfg))}
}

// Enqueue submits one persisted notification task for delivery.
func (c *Client) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	t, err := NewDeliverTask(task.ID)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueFor(task.Channel)),
		asynq.MaxRetry(0),
		asynq.TaskID(task.ID),
	}

	if _, err := c.inner.EnqueueContext(ctx, t, opts...); err != nil {
		// A duplicate id means the task is already queued, which is the
		// outcome we wanted.
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue notification task: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection.
func (c *Client) Close() error {
	return c.inner.Close()
}

func asynqRedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
