package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisstore "github.com/gosuda/bazaar/internal/store/redis"
)

// Subscriber abstracts the Redis pub/sub subscribe operation.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub         Subscriber
	originPatterns []string
}

// NewHub creates a new WebSocket hub. originPatterns are passed to the
// websocket handshake; empty means same-origin only.
func NewHub(pubsub Subscriber, originPatterns []string) *Hub {
	return &Hub{pubsub: pubsub, originPatterns: originPatterns}
}

// ServeCatalog streams every catalog event to the client.
// Subscribes to Redis channel "catalog:events".
func (h *Hub) ServeCatalog(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, redisstore.CatalogChannel)
}

// ServeTenantCatalog streams one tenant's catalog events.
// Subscribes to Redis channel "catalog:<tenantID>".
func (h *Hub) ServeTenantCatalog(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}

	h.stream(w, r, redisstore.TenantCatalogChannel(tenantID))
}

func (h *Hub) stream(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles pings and cancels ctx when
	// the peer goes away.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
