package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/bazaar/internal/catalog"
	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/provision"
)

// TenantProvisioner abstracts tenant lifecycle operations for handler testing.
// *provision.Provisioner satisfies this interface.
type TenantProvisioner interface {
	Create(ctx context.Context, req provision.CreateRequest) (*domain.Tenant, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.TenantPatch) (*domain.Tenant, error)
	Destroy(ctx context.Context, id uuid.UUID) error
}

// TenantReader is the read side of the tenant catalog.
// *postgres.TenantRepo satisfies this interface.
type TenantReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// UserLister lists users by role. *postgres.UserRepo satisfies this interface.
type UserLister interface {
	ListByRole(ctx context.Context, role string) ([]*domain.User, error)
}

// ProductService abstracts merchant product operations for handler testing.
// *catalog.Service satisfies this interface.
type ProductService interface {
	TenantForOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error)
	ListProducts(ctx context.Context, operatorID uuid.UUID) ([]*domain.Product, error)
	CreateProduct(ctx context.Context, operatorID uuid.UUID, p *domain.Product) error
	UpdateProduct(ctx context.Context, operatorID uuid.UUID, id int64, p *domain.Product) error
	DeleteProduct(ctx context.Context, operatorID uuid.UUID, id int64) error
}

// CatalogAggregator builds the global listing. *catalog.Aggregator satisfies
// this interface.
type CatalogAggregator interface {
	Collect(ctx context.Context) (*catalog.Collection, error)
}
