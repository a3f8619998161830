package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "chat-events"

// RedisBroker fans deliveries out to every server instance over one pub/sub channel.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBroker(rdb *redis.Client, channel string) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroker{rdb: rdb, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan Delivery, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					log.Warn().Err(err).Msg("dropping malformed delivery")
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
