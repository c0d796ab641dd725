package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis implements the change feed over Redis pub/sub. Redis preserves
// publish order per channel; nothing is promised across channels.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		logger: logger,
	}
}

type Subscription struct {
	Channel string

	pubsub *redis.PubSub
	once   sync.Once
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, scope := range event.Scopes {
		channel := Channel(event.Collection, scope)
		if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so any event
// published afterwards is delivered. Handlers run on a single goroutine per
// subscription, in channel order.
func (r *Redis) Subscribe(ctx context.Context, collection Collection, filter Filter, handlers Handlers) (*Subscription, error) {
	channel := Channel(collection, filter)
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := &Subscription{Channel: channel, pubsub: pubsub}
	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed feed event", "channel", channel, "error", err)
				continue
			}
			handlers.dispatch(event)
		}
		r.logger.Debug("feed subscription closed", "channel", channel)
	}()

	r.logger.Debug("feed subscription opened", "channel", channel)
	return sub, nil
}

func (r *Redis) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	var err error
	sub.once.Do(func() {
		err = sub.pubsub.Close()
	})
	return err
}
