// Package redis is the transport for catalog events. Delivery is best-effort
// end to end: publishing never retries and slow subscribers lose events
// instead of stalling the shared connection.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CatalogChannel carries every catalog event across all tenants.
const CatalogChannel = "catalog:events"

// TenantCatalogChannel carries the catalog events of a single tenant.
func TenantCatalogChannel(tenantID uuid.UUID) string {
	return "catalog:" + tenantID.String()
}

// subscriberBuffer is how many events a subscriber may fall behind before
// new ones are dropped.
const subscriberBuffer = 64

// PubSub publishes catalog events and fans them out to websocket clients.
type PubSub struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping %s: %w", addr, err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	err := ps.client.Close()
	if err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Ping backs the readiness check.
func (ps *PubSub) Ping(ctx context.Context) error {
	err := ps.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

// Publish sends one serialized catalog event. Having no subscribers is not an
// error.
func (ps *PubSub) Publish(ctx context.Context, channel string, event []byte) error {
	err := ps.client.Publish(ctx, channel, event).Err()
	if err != nil {
		return fmt.Errorf("redis.PubSub.Publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams the events on channel until ctx is done or the returned
// stop func is called. The channel is closed when the stream ends.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// The first reply confirms the subscription; without it events published
	// right after Subscribe returns could be missed.
	_, err := sub.Receive(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe %s: %w", channel, err)
	}

	events := make(chan []byte, subscriberBuffer)
	go forward(ctx, channel, sub.Channel(), events)

	stop := func() { _ = sub.Close() }
	return events, stop, nil
}

// forward copies messages into events, dropping those a slow subscriber has
// no room for.
func forward(ctx context.Context, channel string, in <-chan *redis.Message, events chan<- []byte) {
	defer close(events)

	dropped := 0
	defer func() {
		if dropped > 0 {
			log.Warn().Str("channel", channel).Int("dropped", dropped).Msg("redis: subscriber fell behind")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case events <- []byte(msg.Payload):
			default:
				dropped++
			}
		}
	}
}
