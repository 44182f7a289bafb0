// Package notify turns catalog events into pub/sub messages.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gosuda/bazaar/internal/domain"
	redisstore "github.com/gosuda/bazaar/internal/store/redis"
)

// Publisher abstracts the Redis pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier publishes catalog events to the global catalog channel and to the
// owning tenant's channel.
type Notifier struct {
	pubsub Publisher
}

// New creates a Notifier. With a nil publisher events are only logged.
func New(pubsub Publisher) *Notifier {
	return &Notifier{pubsub: pubsub}
}

// Event is the wire form of a catalog event, as seen by websocket clients.
type Event struct {
	Type       string        `json:"type"`
	ProductID  int64         `json:"product_id"`
	TenantID   uuid.UUID     `json:"tenant_id"`
	TenantName string        `json:"tenant_name"`
	Product    *ProductState `json:"product,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ProductState carries the fields of a product after the change.
type ProductState struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ImageRef    string            `json:"image_ref,omitempty"`
	Stock       int               `json:"stock"`
	Price       decimal.Decimal   `json:"price"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Encode renders e in its wire form.
func Encode(e domain.CatalogEvent) ([]byte, error) {
	out := Event{
		Type:       string(e.Type),
		ProductID:  e.ProductID,
		TenantID:   e.TenantID,
		TenantName: e.TenantName,
		OccurredAt: e.OccurredAt.UTC(),
	}

	if p := e.Product; p != nil {
		state := &ProductState{
			Name:        p.Name,
			Description: p.Description,
			ImageRef:    p.ImageRef,
			Stock:       p.Stock,
			Price:       p.Price,
		}
		if len(p.Attributes) > 0 {
			state.Attributes = make(map[string]string, len(p.Attributes))
			for _, a := range p.Attributes {
				state.Attributes[a.Key] = a.Value
			}
		}
		out.Product = state
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("notify.Encode: %w", err)
	}
	return b, nil
}

// Publish sends the event to both channels. The first failure is returned
// after both have been attempted.
func (n *Notifier) Publish(ctx context.Context, e domain.CatalogEvent) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}

	if n.pubsub == nil {
		log.Info().Str("event", string(e.Type)).Stringer("tenant_id", e.TenantID).Int64("product_id", e.ProductID).
			Msg("notify: no publisher configured, event dropped")
		return nil
	}

	var firstErr error
	for _, ch := range []string{redisstore.CatalogChannel, redisstore.TenantCatalogChannel(e.TenantID)} {
		if err := n.pubsub.Publish(ctx, ch, payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify.Notifier.Publish: %s: %w", ch, err)
		}
	}

	return firstErr
}
