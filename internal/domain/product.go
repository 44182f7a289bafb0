package domain

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxProductNameLen        = 100
	MaxProductDescriptionLen = 500
	MaxImageRefLen           = 255
	MaxAttributeKeyLen       = 50
	MaxAttributeValueLen     = 100
)

// maxPrice is the first value that no longer fits NUMERIC(10,2).
var maxPrice = decimal.New(1, 8) //nolint:gochecknoglobals // constant-like

// Product lives in exactly one tenant store; its ID is only unique there.
type Product struct {
	ID          int64
	Name        string
	Description string // empty means NULL
	ImageRef    string // opaque, owned by the file-storage collaborator
	Stock       int
	Price       decimal.Decimal
	CreatedAt   time.Time
	Attributes  []Attribute
}

type Attribute struct {
	Key   string
	Value string
}

// Validate checks the product and its attribute set before any I/O.
func (p *Product) Validate() error {
	if p.Name == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(p.Name) > MaxProductNameLen {
		return invalid("name", "exceeds 100 characters")
	}
	if utf8.RuneCountInString(p.Description) > MaxProductDescriptionLen {
		return invalid("description", "exceeds 500 characters")
	}
	if len(p.ImageRef) > MaxImageRefLen {
		return invalid("image_ref", "exceeds 255 characters")
	}
	if p.Stock < 0 {
		return invalid("stock", "must be a non-negative integer")
	}
	// stock is an INTEGER column.
	if p.Stock > math.MaxInt32 {
		return invalid("stock", "is too large")
	}
	if p.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	if p.Price.GreaterThanOrEqual(maxPrice) {
		return invalid("price", "is too large")
	}
	if !p.Price.Equal(p.Price.Round(2)) {
		return invalid("price", "has more than two decimal places")
	}

	for _, a := range p.Attributes {
		if a.Key == "" || a.Value == "" {
			return invalid("attributes", "key and value must not be empty")
		}
		if utf8.RuneCountInString(a.Key) > MaxAttributeKeyLen {
			return invalid("attributes", "key exceeds 50 characters")
		}
		if utf8.RuneCountInString(a.Value) > MaxAttributeValueLen {
			return invalid("attributes", "value exceeds 100 characters")
		}
	}

	return nil
}

// ProductListing is a product seen through the global catalog, tagged with
// the tenant it came from.
type ProductListing struct {
	Product
	TenantID   uuid.UUID
	TenantName string
}
