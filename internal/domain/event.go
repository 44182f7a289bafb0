package domain

import (
	"time"

	"github.com/google/uuid"
)

type CatalogEventType string

const (
	EventProductCreated CatalogEventType = "product.created"
	EventProductUpdated CatalogEventType = "product.updated"
	EventProductDeleted CatalogEventType = "product.deleted"
)

// CatalogEvent is a best-effort notification about a product change.
// Product is nil for deletions.
type CatalogEvent struct {
	Type       CatalogEventType
	ProductID  int64
	TenantID   uuid.UUID
	TenantName string
	Product    *Product
	OccurredAt time.Time
}
