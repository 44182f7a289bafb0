// Package catalog serves product operations on top of the catalog router:
// per-merchant CRUD with best-effort notifications, and the cross-tenant
// aggregation behind the public listing.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/domain"
)

// Router executes product CRUD against one tenant store.
type Router interface {
	ListProducts(ctx context.Context, store domain.StoreDescriptor) ([]*domain.Product, error)
	InsertProduct(ctx context.Context, store domain.StoreDescriptor, p *domain.Product) error
	UpdateProduct(ctx context.Context, store domain.StoreDescriptor, id int64, p *domain.Product) (string, error)
	DeleteProduct(ctx context.Context, store domain.StoreDescriptor, id int64) (string, error)
}

// TenantResolver finds the tenant an operator manages.
type TenantResolver interface {
	GetByOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error)
}

// EventPublisher delivers catalog events. Delivery is fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.CatalogEvent) error
}

// ImageReleaser is told when an image reference is no longer used. It must
// tolerate references that are already gone.
type ImageReleaser interface {
	Release(ctx context.Context, imageRef string) error
}

const sideEffectTimeout = 5 * time.Second

type Service struct {
	tenants TenantResolver
	router  Router
	events  EventPublisher
	images  ImageReleaser
	now     func() time.Time
}

// NewService wires the service. events and images may be nil.
func NewService(tenants TenantResolver, router Router, events EventPublisher, images ImageReleaser) *Service {
	return &Service{
		tenants: tenants,
		router:  router,
		events:  events,
		images:  images,
		now:     time.Now,
	}
}

// TenantForOperator resolves the tenant managed by userID.
func (s *Service) TenantForOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	t, err := s.tenants.GetByOperator(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("catalog.Service.TenantForOperator: %w", err)
	}
	return t, nil
}

func (s *Service) ListProducts(ctx context.Context, operatorID uuid.UUID) ([]*domain.Product, error) {
	t, err := s.TenantForOperator(ctx, operatorID)
	if err != nil {
		return nil, err
	}

	products, err := s.router.ListProducts(ctx, t.Store())
	if err != nil {
		return nil, fmt.Errorf("catalog.Service.ListProducts: %w", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, operatorID uuid.UUID, p *domain.Product) error {
	err := p.Validate()
	if err != nil {
		return fmt.Errorf("catalog.Service.CreateProduct: %w", err)
	}

	t, err := s.TenantForOperator(ctx, operatorID)
	if err != nil {
		return err
	}

	err = s.router.InsertProduct(ctx, t.Store(), p)
	if err != nil {
		return fmt.Errorf("catalog.Service.CreateProduct: %w", err)
	}

	s.publish(ctx, t, domain.EventProductCreated, p.ID, p)

	return nil
}

// UpdateProduct replaces the product's fields and attributes. An empty
// ImageRef keeps the current image.
func (s *Service) UpdateProduct(ctx context.Context, operatorID uuid.UUID, id int64, p *domain.Product) error {
	err := p.Validate()
	if err != nil {
		return fmt.Errorf("catalog.Service.UpdateProduct: %w", err)
	}

	t, err := s.TenantForOperator(ctx, operatorID)
	if err != nil {
		return err
	}

	newImage := p.ImageRef
	prevImage, err := s.router.UpdateProduct(ctx, t.Store(), id, p)
	if err != nil {
		return fmt.Errorf("catalog.Service.UpdateProduct: %w", err)
	}

	if newImage != "" && prevImage != "" && newImage != prevImage {
		s.releaseImage(ctx, t, prevImage)
	}

	s.publish(ctx, t, domain.EventProductUpdated, id, p)

	return nil
}

func (s *Service) DeleteProduct(ctx context.Context, operatorID uuid.UUID, id int64) error {
	t, err := s.TenantForOperator(ctx, operatorID)
	if err != nil {
		return err
	}

	imageRef, err := s.router.DeleteProduct(ctx, t.Store(), id)
	if err != nil {
		return fmt.Errorf("catalog.Service.DeleteProduct: %w", err)
	}

	if imageRef != "" {
		s.releaseImage(ctx, t, imageRef)
	}

	s.publish(ctx, t, domain.EventProductDeleted, id, nil)

	return nil
}

// publish and releaseImage outlive request cancellation and never fail the
// operation that triggered them.
func (s *Service) publish(ctx context.Context, t *domain.Tenant, typ domain.CatalogEventType, id int64, p *domain.Product) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	err := s.events.Publish(ctx, domain.CatalogEvent{
		Type:       typ,
		ProductID:  id,
		TenantID:   t.ID,
		TenantName: t.Name,
		Product:    p,
		OccurredAt: s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Stringer("tenant_id", t.ID).Int64("product_id", id).Str("event", string(typ)).
			Msg("catalog: event not delivered")
	}
}

func (s *Service) releaseImage(ctx context.Context, t *domain.Tenant, imageRef string) {
	if s.images == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	err := s.images.Release(ctx, imageRef)
	if err != nil {
		log.Warn().Err(err).Stringer("tenant_id", t.ID).Str("image_ref", imageRef).
			Msg("catalog: orphaned image not released")
	}
}
