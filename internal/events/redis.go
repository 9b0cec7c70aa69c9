package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

// RedisBus publishes on the events:<ownerId> channel so every api replica can
// relay events to its websocket clients.
type RedisBus struct {
	client *redis.Client
	logger *infra.Logger
}

func NewRedisBus(client *redis.Client, logger *infra.Logger) *RedisBus {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, ownerID, eventType string, payload Payload) error {
	raw, err := json.Marshal(Event{Type: eventType, OwnerID: ownerID, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := b.client.Publish(ctx, channel(ownerID), raw).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, channel(ownerID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan Event, 16)
	subCtx, stop := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("events: drop malformed message")
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, stop, nil
}
