package wakeup

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel carries "reconcile now" hints to the reconcile worker.
const Channel = "generation:reconcile"

// Publisher nudges the worker. Without Redis it does nothing; the worker's
// ticker still runs.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Notify(ctx context.Context, taskID string) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Publish(ctx, Channel, taskID).Err(); err != nil {
		log.Warn().Err(err).Str("kie_task_id", taskID).Msg("wake-up publish failed")
	}
}

// Subscribe forwards messages on Channel to wake without blocking.
// It returns when ctx is cancelled.
func Subscribe(ctx context.Context, client *redis.Client, wake chan<- struct{}) {
	if client == nil {
		return
	}
	sub := client.Subscribe(ctx, Channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
