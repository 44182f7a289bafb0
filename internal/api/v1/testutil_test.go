package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/bazaar/internal/catalog"
	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/provision"
	"github.com/gosuda/bazaar/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject user/role into context for DoCtx
// ---------------------------------------------------------------------------

func adminCtx() context.Context {
	return middleware.WithUser(context.Background(), uuid.New(), domain.RoleAdmin)
}

func merchantCtx(userID uuid.UUID) context.Context {
	return middleware.WithUser(context.Background(), userID, domain.RoleMerchant)
}

func customerCtx() context.Context {
	return middleware.WithUser(context.Background(), uuid.New(), domain.RoleCustomer)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func fixedTenantID() uuid.UUID {
	return uuid.MustParse("00000000-0000-0000-0000-000000000001")
}

func fixedTenant() *domain.Tenant {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Tenant{
		ID:                fixedTenantID(),
		Name:              "Bakery",
		Description:       "Fresh bread",
		StorageIdentifier: "me_bakery",
		StorageMode:       domain.StorageModeDedicated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func fixedProduct() *domain.Product {
	return &domain.Product{
		ID:         7,
		Name:       "Sourdough",
		Stock:      3,
		Price:      decimal.RequireFromString("4.5"),
		ImageRef:   "uploads/sourdough.png",
		Attributes: []domain.Attribute{{Key: "weight", Value: "1kg"}},
		CreatedAt:  time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Mock TenantProvisioner
// ---------------------------------------------------------------------------

type mockProvisioner struct {
	createFunc  func(ctx context.Context, req provision.CreateRequest) (*domain.Tenant, error)
	updateFunc  func(ctx context.Context, id uuid.UUID, patch domain.TenantPatch) (*domain.Tenant, error)
	destroyFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockProvisioner) Create(ctx context.Context, req provision.CreateRequest) (*domain.Tenant, error) {
	return m.createFunc(ctx, req)
}

func (m *mockProvisioner) Update(ctx context.Context, id uuid.UUID, patch domain.TenantPatch) (*domain.Tenant, error) {
	return m.updateFunc(ctx, id, patch)
}

func (m *mockProvisioner) Destroy(ctx context.Context, id uuid.UUID) error {
	return m.destroyFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock TenantReader
// ---------------------------------------------------------------------------

type mockTenantReader struct {
	getByIDFunc func(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	listFunc    func(ctx context.Context) ([]*domain.Tenant, error)
}

func (m *mockTenantReader) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTenantReader) List(ctx context.Context) ([]*domain.Tenant, error) {
	return m.listFunc(ctx)
}

// ---------------------------------------------------------------------------
// Mock UserLister
// ---------------------------------------------------------------------------

type mockUserLister struct {
	listByRoleFunc func(ctx context.Context, role string) ([]*domain.User, error)
}

func (m *mockUserLister) ListByRole(ctx context.Context, role string) ([]*domain.User, error) {
	return m.listByRoleFunc(ctx, role)
}

// ---------------------------------------------------------------------------
// Mock ProductService
// ---------------------------------------------------------------------------

type mockProductService struct {
	tenantForOperatorFunc func(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error)
	listProductsFunc      func(ctx context.Context, operatorID uuid.UUID) ([]*domain.Product, error)
	createProductFunc     func(ctx context.Context, operatorID uuid.UUID, p *domain.Product) error
	updateProductFunc     func(ctx context.Context, operatorID uuid.UUID, id int64, p *domain.Product) error
	deleteProductFunc     func(ctx context.Context, operatorID uuid.UUID, id int64) error
}

func (m *mockProductService) TenantForOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	return m.tenantForOperatorFunc(ctx, userID)
}

func (m *mockProductService) ListProducts(ctx context.Context, operatorID uuid.UUID) ([]*domain.Product, error) {
	return m.listProductsFunc(ctx, operatorID)
}

func (m *mockProductService) CreateProduct(ctx context.Context, operatorID uuid.UUID, p *domain.Product) error {
	return m.createProductFunc(ctx, operatorID, p)
}

func (m *mockProductService) UpdateProduct(ctx context.Context, operatorID uuid.UUID, id int64, p *domain.Product) error {
	return m.updateProductFunc(ctx, operatorID, id, p)
}

func (m *mockProductService) DeleteProduct(ctx context.Context, operatorID uuid.UUID, id int64) error {
	return m.deleteProductFunc(ctx, operatorID, id)
}

// ---------------------------------------------------------------------------
// Mock CatalogAggregator
// ---------------------------------------------------------------------------

type mockAggregator struct {
	collectFunc func(ctx context.Context) (*catalog.Collection, error)
}

func (m *mockAggregator) Collect(ctx context.Context) (*catalog.Collection, error) {
	return m.collectFunc(ctx)
}
