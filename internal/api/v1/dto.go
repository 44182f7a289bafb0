package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/bazaar/internal/domain"
)

// Bounds are enforced by the domain so that every violation surfaces as a 400
// with the offending field; the schema tags below only document them.

type TenantResponse struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	StorageIdentifier string     `json:"storage_identifier" doc:"Sanitized database or schema name"`
	StorageMode       string     `json:"storage_mode" enum:"dedicated,shared"`
	OperatorID        *uuid.UUID `json:"operator_id,omitempty"`
	OperatorName      string     `json:"operator_name,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func tenantResponse(t *domain.Tenant) *TenantResponse {
	return &TenantResponse{
		ID:                t.ID,
		Name:              t.Name,
		Description:       t.Description,
		StorageIdentifier: t.StorageIdentifier,
		StorageMode:       string(t.StorageMode),
		OperatorID:        t.OperatorID,
		OperatorName:      t.OperatorName,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

type UserResponse struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
}

type AttributeBody struct {
	Key   string `json:"key" doc:"Attribute name, at most 50 characters"`
	Value string `json:"value" doc:"Attribute value, at most 100 characters"`
}

// ProductBody is the writable part of a product.
type ProductBody struct {
	Name        string          `json:"name" doc:"Product name, at most 100 characters"`
	Description string          `json:"description,omitempty" doc:"At most 500 characters"`
	ImageRef    string          `json:"image_ref,omitempty" doc:"Reference returned by the file service; empty keeps the current image on update"`
	Stock       int             `json:"stock" doc:"Units in stock, non-negative"`
	Price       string          `json:"price" doc:"Decimal with at most two fractional digits" example:"12.50"`
	Attributes  []AttributeBody `json:"attributes,omitempty"`
}

func (b *ProductBody) toDomain() (*domain.Product, error) {
	price, err := decimal.NewFromString(b.Price)
	if err != nil {
		return nil, &domain.FieldError{Field: "price", Reason: "must be a decimal number"}
	}

	p := &domain.Product{
		Name:        b.Name,
		Description: b.Description,
		ImageRef:    b.ImageRef,
		Stock:       b.Stock,
		Price:       price,
	}
	for _, a := range b.Attributes {
		p.Attributes = append(p.Attributes, domain.Attribute{Key: a.Key, Value: a.Value})
	}
	return p, nil
}

type ProductResponse struct {
	ID int64 `json:"id"`
	ProductBody
	CreatedAt time.Time `json:"created_at"`
}

func productResponse(p *domain.Product) ProductResponse {
	attrs := make([]AttributeBody, 0, len(p.Attributes))
	for _, a := range p.Attributes {
		attrs = append(attrs, AttributeBody{Key: a.Key, Value: a.Value})
	}
	return ProductResponse{
		ID: p.ID,
		ProductBody: ProductBody{
			Name:        p.Name,
			Description: p.Description,
			ImageRef:    p.ImageRef,
			Stock:       p.Stock,
			Price:       p.Price.StringFixed(2),
			Attributes:  attrs,
		},
		CreatedAt: p.CreatedAt,
	}
}

// ListingResponse is a product in the global catalog.
type ListingResponse struct {
	ProductResponse
	TenantID   uuid.UUID `json:"tenant_id"`
	TenantName string    `json:"tenant_name"`
}
