package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/bazaar/internal/catalog"
	"github.com/gosuda/bazaar/internal/domain"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockResolver struct {
	getByOperatorFunc func(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error)
}

func (m *mockResolver) GetByOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	return m.getByOperatorFunc(ctx, userID)
}

type mockRouter struct {
	listProductsFunc  func(ctx context.Context, store domain.StoreDescriptor) ([]*domain.Product, error)
	insertProductFunc func(ctx context.Context, store domain.StoreDescriptor, p *domain.Product) error
	updateProductFunc func(ctx context.Context, store domain.StoreDescriptor, id int64, p *domain.Product) (string, error)
	deleteProductFunc func(ctx context.Context, store domain.StoreDescriptor, id int64) (string, error)
}

func (m *mockRouter) ListProducts(ctx context.Context, store domain.StoreDescriptor) ([]*domain.Product, error) {
	return m.listProductsFunc(ctx, store)
}

func (m *mockRouter) InsertProduct(ctx context.Context, store domain.StoreDescriptor, p *domain.Product) error {
	return m.insertProductFunc(ctx, store, p)
}

func (m *mockRouter) UpdateProduct(ctx context.Context, store domain.StoreDescriptor, id int64, p *domain.Product) (string, error) {
	return m.updateProductFunc(ctx, store, id, p)
}

func (m *mockRouter) DeleteProduct(ctx context.Context, store domain.StoreDescriptor, id int64) (string, error) {
	return m.deleteProductFunc(ctx, store, id)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.CatalogEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e domain.CatalogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

type mockReleaser struct {
	mu       sync.Mutex
	released []string
	err      error
}

func (m *mockReleaser) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, ref)
	return m.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var shop = &domain.Tenant{ //nolint:gochecknoglobals // test fixture
	ID:                uuid.MustParse("7d1c6a43-58c4-4a4b-9a0b-3d0d0f3c9a11"),
	Name:              "Bakery",
	StorageIdentifier: "me_bakery",
	StorageMode:       domain.StorageModeShared,
}

func resolverFor(t *domain.Tenant) *mockResolver {
	return &mockResolver{getByOperatorFunc: func(context.Context, uuid.UUID) (*domain.Tenant, error) {
		return t, nil
	}}
}

func bread() *domain.Product {
	return &domain.Product{
		Name:       "Bread",
		Stock:      4,
		Price:      decimal.RequireFromString("2.50"),
		ImageRef:   "uploads/new.png",
		Attributes: []domain.Attribute{{Key: "weight", Value: "500g"}},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestService_CreateProduct(t *testing.T) {
	t.Parallel()

	var gotStore domain.StoreDescriptor
	router := &mockRouter{
		insertProductFunc: func(_ context.Context, store domain.StoreDescriptor, p *domain.Product) error {
			gotStore = store
			p.ID = 42
			return nil
		},
	}
	events := &mockPublisher{}
	svc := catalog.NewService(resolverFor(shop), router, events, nil)

	p := bread()
	require.NoError(t, svc.CreateProduct(context.Background(), uuid.New(), p))

	assert.Equal(t, shop.Store(), gotStore)
	require.Len(t, events.events, 1)
	e := events.events[0]
	assert.Equal(t, domain.EventProductCreated, e.Type)
	assert.Equal(t, int64(42), e.ProductID)
	assert.Equal(t, "Bakery", e.TenantName)
	assert.Equal(t, shop.ID, e.TenantID)
	assert.Same(t, p, e.Product)
}

func TestService_CreateProductInvalidNeverRoutes(t *testing.T) {
	t.Parallel()

	router := &mockRouter{}
	resolver := &mockResolver{}
	svc := catalog.NewService(resolver, router, nil, nil)

	p := bread()
	p.Stock = -3
	err := svc.CreateProduct(context.Background(), uuid.New(), p)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestService_NoTenantForOperator(t *testing.T) {
	t.Parallel()

	resolver := &mockResolver{getByOperatorFunc: func(context.Context, uuid.UUID) (*domain.Tenant, error) {
		return nil, domain.ErrNotFound
	}}
	svc := catalog.NewService(resolver, &mockRouter{}, nil, nil)

	_, err := svc.ListProducts(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.DeleteProduct(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_PublishFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	router := &mockRouter{
		insertProductFunc: func(context.Context, domain.StoreDescriptor, *domain.Product) error { return nil },
	}
	events := &mockPublisher{err: errors.New("redis down")}
	svc := catalog.NewService(resolverFor(shop), router, events, nil)

	require.NoError(t, svc.CreateProduct(context.Background(), uuid.New(), bread()))
	assert.Len(t, events.events, 1)
}

func TestService_UpdateProductReleasesReplacedImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		newImage string
		prev     string
		released []string
	}{
		{name: "replaced", newImage: "uploads/new.png", prev: "uploads/old.png", released: []string{"uploads/old.png"}},
		{name: "same image", newImage: "uploads/old.png", prev: "uploads/old.png"},
		{name: "image kept", newImage: "", prev: "uploads/old.png"},
		{name: "first image", newImage: "uploads/new.png", prev: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := &mockRouter{
				updateProductFunc: func(_ context.Context, _ domain.StoreDescriptor, id int64, p *domain.Product) (string, error) {
					p.ID = id
					return tt.prev, nil
				},
			}
			images := &mockReleaser{}
			events := &mockPublisher{}
			svc := catalog.NewService(resolverFor(shop), router, events, images)

			p := bread()
			p.ImageRef = tt.newImage
			require.NoError(t, svc.UpdateProduct(context.Background(), uuid.New(), 7, p))

			assert.Equal(t, tt.released, images.released)
			require.Len(t, events.events, 1)
			assert.Equal(t, domain.EventProductUpdated, events.events[0].Type)
			assert.Equal(t, int64(7), events.events[0].ProductID)
		})
	}
}

func TestService_UpdateProductNotFound(t *testing.T) {
	t.Parallel()

	router := &mockRouter{
		updateProductFunc: func(context.Context, domain.StoreDescriptor, int64, *domain.Product) (string, error) {
			return "", domain.ErrNotFound
		},
	}
	events := &mockPublisher{}
	images := &mockReleaser{}
	svc := catalog.NewService(resolverFor(shop), router, events, images)

	err := svc.UpdateProduct(context.Background(), uuid.New(), 99, bread())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, events.events)
	assert.Empty(t, images.released)
}

func TestService_DeleteProduct(t *testing.T) {
	t.Parallel()

	router := &mockRouter{
		deleteProductFunc: func(context.Context, domain.StoreDescriptor, int64) (string, error) {
			return "uploads/gone.png", nil
		},
	}
	events := &mockPublisher{}
	images := &mockReleaser{err: errors.New("already removed")}
	svc := catalog.NewService(resolverFor(shop), router, events, images)

	require.NoError(t, svc.DeleteProduct(context.Background(), uuid.New(), 3))

	assert.Equal(t, []string{"uploads/gone.png"}, images.released)
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.EventProductDeleted, events.events[0].Type)
	assert.Nil(t, events.events[0].Product)
}

func TestService_ListProducts(t *testing.T) {
	t.Parallel()

	router := &mockRouter{
		listProductsFunc: func(_ context.Context, store domain.StoreDescriptor) ([]*domain.Product, error) {
			assert.Equal(t, "me_bakery", store.Identifier)
			return []*domain.Product{bread()}, nil
		},
	}
	svc := catalog.NewService(resolverFor(shop), router, nil, nil)

	products, err := svc.ListProducts(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, products, 1)
}
