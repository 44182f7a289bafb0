package provision_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/provision"
)

// ---------------------------------------------------------------------------
// In-memory tenant catalog. Transactions stage a copy of the rows and swap it
// in on commit.
// ---------------------------------------------------------------------------

type fakeCatalog struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]domain.Tenant
	merchants map[uuid.UUID]bool

	insertErr error
	commitErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		rows:      make(map[uuid.UUID]domain.Tenant),
		merchants: make(map[uuid.UUID]bool),
	}
}

func (c *fakeCatalog) snapshot() map[uuid.UUID]domain.Tenant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.rows)
}

func (c *fakeCatalog) seed(t domain.Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[t.ID] = t
}

func (c *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (c *fakeCatalog) GetByOperator(_ context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.rows {
		if t.OperatorID != nil && *t.OperatorID == userID {
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (c *fakeCatalog) IdentifierTaken(_ context.Context, identifier string, exclude uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.rows {
		if id != exclude && t.StorageIdentifier == identifier {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeCatalog) List(context.Context) ([]*domain.Tenant, error) {
	return nil, errors.New("not used")
}

func (c *fakeCatalog) Begin(context.Context) (domain.TenantTx, error) {
	return &fakeTx{c: c, staged: c.snapshot()}, nil
}

type fakeTx struct {
	c      *fakeCatalog
	staged map[uuid.UUID]domain.Tenant
	done   bool
}

func (tx *fakeTx) Insert(_ context.Context, t *domain.Tenant) error {
	if tx.c.insertErr != nil {
		return tx.c.insertErr
	}
	tx.staged[t.ID] = *t
	return nil
}

func (tx *fakeTx) LockByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, ok := tx.staged[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (tx *fakeTx) Update(_ context.Context, t *domain.Tenant) error {
	if _, ok := tx.staged[t.ID]; !ok {
		return domain.ErrNotFound
	}
	tx.staged[t.ID] = *t
	return nil
}

func (tx *fakeTx) AssignOperator(_ context.Context, tenantID, userID uuid.UUID) error {
	t := tx.staged[tenantID]
	t.OperatorID = nil
	if userID != uuid.Nil {
		if !tx.c.merchants[userID] {
			return &domain.FieldError{Field: "operator_id", Reason: "must reference a user with the merchant role"}
		}
		t.OperatorID = &userID
	}
	tx.staged[tenantID] = t
	return nil
}

func (tx *fakeTx) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := tx.staged[id]; !ok {
		return domain.ErrNotFound
	}
	delete(tx.staged, id)
	return nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.done {
		return errors.New("tx closed")
	}
	tx.done = true
	if tx.c.commitErr != nil {
		return tx.c.commitErr
	}
	tx.c.mu.Lock()
	tx.c.rows = tx.staged
	tx.c.mu.Unlock()
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.done = true
	return nil
}

// ---------------------------------------------------------------------------
// Mock PhysicalStore
// ---------------------------------------------------------------------------

type mockPhysical struct {
	mu    sync.Mutex
	calls []string

	createDatabaseFunc func(identifier string) error
	createTablesFunc   func(store domain.StoreDescriptor) error
	renameStoreFunc    func(store domain.StoreDescriptor, newIdentifier string) error
	dropStoreFunc      func(store domain.StoreDescriptor) error
}

func (m *mockPhysical) log(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockPhysical) CreateDatabase(_ context.Context, identifier string) error {
	m.log("create_database %s", identifier)
	if m.createDatabaseFunc != nil {
		return m.createDatabaseFunc(identifier)
	}
	return nil
}

func (m *mockPhysical) CreateTables(_ context.Context, store domain.StoreDescriptor) error {
	m.log("create_tables %s %s", store.Identifier, store.Mode)
	if m.createTablesFunc != nil {
		return m.createTablesFunc(store)
	}
	return nil
}

func (m *mockPhysical) RenameStore(_ context.Context, store domain.StoreDescriptor, newIdentifier string) error {
	m.log("rename %s %s -> %s", store.Mode, store.Identifier, newIdentifier)
	if m.renameStoreFunc != nil {
		return m.renameStoreFunc(store, newIdentifier)
	}
	return nil
}

func (m *mockPhysical) DropStore(_ context.Context, store domain.StoreDescriptor) error {
	m.log("drop %s %s", store.Mode, store.Identifier)
	if m.dropStoreFunc != nil {
		return m.dropStoreFunc(store)
	}
	return nil
}

type recorder struct {
	ops  []string
	errs []error
}

func (r *recorder) ProvisionOutcome(op string, err error) {
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func existingTenant(identifier string, mode domain.StorageMode) domain.Tenant {
	return domain.Tenant{
		ID:                uuid.New(),
		Name:              "Existing",
		StorageIdentifier: identifier,
		StorageMode:       mode,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_Dedicated(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	physical := &mockPhysical{}
	rec := &recorder{}
	p := provision.New(catalog, physical, provision.WithRecorder(rec))

	tenant, err := p.Create(context.Background(), provision.CreateRequest{
		Name:          "Bakery",
		Description:   "Fresh bread",
		RawIdentifier: "Bakery 1!",
		Mode:          domain.StorageModeDedicated,
	})
	require.NoError(t, err)

	assert.Equal(t, "me_bakery1", tenant.StorageIdentifier)
	assert.Equal(t, domain.StorageModeDedicated, tenant.StorageMode)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
	assert.Equal(t, []string{
		"create_database me_bakery1",
		"create_tables me_bakery1 dedicated",
	}, physical.calls)

	stored, err := catalog.GetByID(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bakery", stored.Name)
	assert.Equal(t, []string{"create"}, rec.ops)
	assert.NoError(t, rec.errs[0])
}

func TestCreate_SharedSkipsDatabase(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	tenant, err := p.Create(context.Background(), provision.CreateRequest{
		Name:          "Florist",
		RawIdentifier: "florist",
		Mode:          domain.StorageModeShared,
	})
	require.NoError(t, err)

	assert.Equal(t, "me_florist", tenant.StorageIdentifier)
	assert.Equal(t, []string{"create_tables me_florist shared"}, physical.calls)
}

func TestCreate_WithOperator(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	merchant := uuid.New()
	catalog.merchants[merchant] = true
	p := provision.New(catalog, &mockPhysical{})

	tenant, err := p.Create(context.Background(), provision.CreateRequest{
		Name:          "Florist",
		RawIdentifier: "florist",
		Mode:          domain.StorageModeShared,
		OperatorID:    &merchant,
	})
	require.NoError(t, err)

	got, err := catalog.GetByOperator(context.Background(), merchant)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
}

func TestCreate_CustomPrefix(t *testing.T) {
	t.Parallel()

	p := provision.New(newFakeCatalog(), &mockPhysical{}, provision.WithPrefix("mk_"))

	tenant, err := p.Create(context.Background(), provision.CreateRequest{
		Name: "Shop", RawIdentifier: "Shop", Mode: domain.StorageModeShared,
	})
	require.NoError(t, err)
	assert.Equal(t, "mk_shop", tenant.StorageIdentifier)
}

func TestCreate_RejectedBeforeAnyIO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  provision.CreateRequest
		want error
	}{
		{
			name: "identifier empty after sanitizing",
			req:  provision.CreateRequest{Name: "X", RawIdentifier: "!!!", Mode: domain.StorageModeShared},
			want: domain.ErrValidation,
		},
		{
			name: "missing name",
			req:  provision.CreateRequest{RawIdentifier: "x", Mode: domain.StorageModeShared},
			want: domain.ErrValidation,
		},
		{
			name: "unknown mode",
			req:  provision.CreateRequest{Name: "X", RawIdentifier: "x", Mode: "base_datos"},
			want: domain.ErrValidation,
		},
		{
			name: "identifier taken in the other mode",
			req:  provision.CreateRequest{Name: "X", RawIdentifier: "Taken", Mode: domain.StorageModeDedicated},
			want: domain.ErrConflict,
		},
		{
			name: "identifier taken after sanitizing",
			req:  provision.CreateRequest{Name: "X", RawIdentifier: "me_TAKEN", Mode: domain.StorageModeShared},
			want: domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			catalog := newFakeCatalog()
			catalog.seed(existingTenant("me_taken", domain.StorageModeShared))
			before := catalog.snapshot()

			physical := &mockPhysical{}
			p := provision.New(catalog, physical)

			_, err := p.Create(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)

			assert.Empty(t, physical.calls)
			assert.Equal(t, before, catalog.snapshot())
		})
	}
}

func TestCreate_DatabaseFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ddErr error
		want  error
	}{
		{name: "already exists", ddErr: fmt.Errorf("ddl: %w", domain.ErrConflict), want: domain.ErrConflict},
		{name: "other ddl failure", ddErr: fmt.Errorf("ddl: %w", domain.ErrProvisioning), want: domain.ErrProvisioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			catalog := newFakeCatalog()
			physical := &mockPhysical{
				createDatabaseFunc: func(string) error { return tt.ddErr },
			}
			p := provision.New(catalog, physical)

			_, err := p.Create(context.Background(), provision.CreateRequest{
				Name: "Bakery", RawIdentifier: "bakery", Mode: domain.StorageModeDedicated,
			})
			require.ErrorIs(t, err, tt.want)

			assert.Empty(t, catalog.snapshot(), "no catalog row when the database was not created")
			assert.Equal(t, []string{"create_database me_bakery"}, physical.calls)
		})
	}
}

func TestCreate_InsertFailureLeavesOrphanDatabase(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	catalog.insertErr = fmt.Errorf("insert: %w", domain.ErrConnection)
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	_, err := p.Create(context.Background(), provision.CreateRequest{
		Name: "Bakery", RawIdentifier: "bakery", Mode: domain.StorageModeDedicated,
	})
	require.ErrorIs(t, err, domain.ErrConnection)

	assert.Empty(t, catalog.snapshot())
	// The database survives; it is reported, never dropped behind the caller's back.
	assert.Equal(t, []string{"create_database me_bakery"}, physical.calls)
}

func TestCreate_TableFailureRollsBackCatalog(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	physical := &mockPhysical{
		createTablesFunc: func(domain.StoreDescriptor) error {
			return fmt.Errorf("tables: %w", domain.ErrConflict)
		},
	}
	p := provision.New(catalog, physical)

	_, err := p.Create(context.Background(), provision.CreateRequest{
		Name: "Bakery", RawIdentifier: "bakery", Mode: domain.StorageModeShared,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, catalog.snapshot())
}

// reconcileAlerts returns every log line tagged alert=reconcile.
func reconcileAlerts(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var alerts []map[string]any
	for line := range bytes.Lines(buf.Bytes()) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["alert"] == "reconcile" {
			alerts = append(alerts, entry)
		}
	}
	return alerts
}

func TestCreate_CommitFailureNamesPhysicalStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode  domain.StorageMode
		field string
	}{
		{mode: domain.StorageModeShared, field: "schema"},
		{mode: domain.StorageModeDedicated, field: "database"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			catalog := newFakeCatalog()
			catalog.commitErr = fmt.Errorf("commit: %w", domain.ErrConnection)
			p := provision.New(catalog, &mockPhysical{}, provision.WithLogger(zerolog.New(&buf)))

			_, err := p.Create(context.Background(), provision.CreateRequest{
				Name: "Bakery", RawIdentifier: "bakery", Mode: tt.mode,
			})
			require.ErrorIs(t, err, domain.ErrConnection)

			alerts := reconcileAlerts(t, &buf)
			require.Len(t, alerts, 1)
			assert.Equal(t, "me_bakery", alerts[0][tt.field])
			assert.Equal(t, "error", alerts[0]["level"])
		})
	}
}

func TestCreate_OperatorMustBeMerchant(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)
	customer := uuid.New()

	_, err := p.Create(context.Background(), provision.CreateRequest{
		Name: "Bakery", RawIdentifier: "bakery", Mode: domain.StorageModeShared, OperatorID: &customer,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, catalog.snapshot())
	assert.Empty(t, physical.calls)
}

// ---------------------------------------------------------------------------
// Update / Rename
// ---------------------------------------------------------------------------

func TestRename_SameIdentifierIssuesNoDDL(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeDedicated)
	catalog.seed(existing)
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	got, err := p.Rename(context.Background(), existing.ID, "BAKERY")
	require.NoError(t, err)

	assert.Equal(t, "me_bakery", got.StorageIdentifier)
	assert.Empty(t, physical.calls)
}

func TestRename_ChangesPhysicalAndCatalog(t *testing.T) {
	t.Parallel()

	for _, mode := range []domain.StorageMode{domain.StorageModeDedicated, domain.StorageModeShared} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			catalog := newFakeCatalog()
			existing := existingTenant("me_bakery", mode)
			catalog.seed(existing)
			physical := &mockPhysical{}
			p := provision.New(catalog, physical)

			got, err := p.Rename(context.Background(), existing.ID, "Panaderia")
			require.NoError(t, err)

			assert.Equal(t, "me_panaderia", got.StorageIdentifier)
			assert.Equal(t, []string{fmt.Sprintf("rename %s me_bakery -> me_panaderia", mode)}, physical.calls)
		})
	}
}

func TestRename_ToTakenIdentifier(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	a := existingTenant("me_a", domain.StorageModeShared)
	b := existingTenant("me_b", domain.StorageModeDedicated)
	catalog.seed(a)
	catalog.seed(b)
	before := catalog.snapshot()
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	_, err := p.Rename(context.Background(), a.ID, "b")
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Empty(t, physical.calls)
	assert.Equal(t, before, catalog.snapshot())
}

func TestRename_PhysicalFailureRollsBackCatalog(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeDedicated)
	catalog.seed(existing)
	before := catalog.snapshot()
	physical := &mockPhysical{
		renameStoreFunc: func(domain.StoreDescriptor, string) error {
			return fmt.Errorf("alter: %w", domain.ErrProvisioning)
		},
	}
	p := provision.New(catalog, physical)

	name := "New name"
	raw := "panaderia"
	_, err := p.Update(context.Background(), existing.ID, domain.TenantPatch{Name: &name, RawIdentifier: &raw})
	require.ErrorIs(t, err, domain.ErrProvisioning)

	assert.Equal(t, before, catalog.snapshot())
}

func TestRename_CommitFailureAfterPhysicalRename(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeShared)
	catalog.seed(existing)
	catalog.commitErr = fmt.Errorf("commit: %w", domain.ErrConnection)
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	_, err := p.Rename(context.Background(), existing.ID, "panaderia")
	require.ErrorIs(t, err, domain.ErrConnection)

	// Known divergence: the schema moved, the catalog did not.
	assert.Equal(t, []string{"rename shared me_bakery -> me_panaderia"}, physical.calls)
	got, err := catalog.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "me_bakery", got.StorageIdentifier)
}

func TestUpdate_InvalidOperatorNeverRenames(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeDedicated)
	catalog.seed(existing)
	physical := &mockPhysical{}
	p := provision.New(catalog, physical)

	raw := "panaderia"
	notMerchant := uuid.New()
	_, err := p.Update(context.Background(), existing.ID, domain.TenantPatch{RawIdentifier: &raw, OperatorID: &notMerchant})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, physical.calls)
}

func TestUpdate_ReassignAndRevokeOperator(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	first, second := uuid.New(), uuid.New()
	catalog.merchants[first] = true
	catalog.merchants[second] = true

	existing := existingTenant("me_bakery", domain.StorageModeShared)
	existing.OperatorID = &first
	catalog.seed(existing)
	p := provision.New(catalog, &mockPhysical{})

	got, err := p.Update(context.Background(), existing.ID, domain.TenantPatch{OperatorID: &second})
	require.NoError(t, err)
	require.NotNil(t, got.OperatorID)
	assert.Equal(t, second, *got.OperatorID)

	_, err = catalog.GetByOperator(context.Background(), first)
	assert.ErrorIs(t, err, domain.ErrNotFound, "previous operator is revoked")

	revoke := uuid.Nil
	got, err = p.Update(context.Background(), existing.ID, domain.TenantPatch{OperatorID: &revoke})
	require.NoError(t, err)
	assert.Nil(t, got.OperatorID)
}

func TestUpdate_Validation(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeShared)
	catalog.seed(existing)
	p := provision.New(catalog, &mockPhysical{})

	empty := ""
	_, err := p.Update(context.Background(), existing.ID, domain.TenantPatch{Name: &empty})
	require.ErrorIs(t, err, domain.ErrValidation)

	bad := "---"
	_, err = p.Update(context.Background(), existing.ID, domain.TenantPatch{RawIdentifier: &bad})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = p.Update(context.Background(), uuid.New(), domain.TenantPatch{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Destroy
// ---------------------------------------------------------------------------

func TestDestroy_DropsStoreThenRow(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeDedicated)
	catalog.seed(existing)
	physical := &mockPhysical{
		dropStoreFunc: func(domain.StoreDescriptor) error {
			_, err := catalog.GetByID(context.Background(), existing.ID)
			assert.NoError(t, err, "catalog row must still exist while the store is dropped")
			return nil
		},
	}
	rec := &recorder{}
	p := provision.New(catalog, physical, provision.WithRecorder(rec))

	require.NoError(t, p.Destroy(context.Background(), existing.ID))

	assert.Equal(t, []string{"drop dedicated me_bakery"}, physical.calls)
	assert.Empty(t, catalog.snapshot())
	assert.Equal(t, []string{"destroy"}, rec.ops)
}

func TestDestroy_DropFailureKeepsRow(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog()
	existing := existingTenant("me_bakery", domain.StorageModeShared)
	catalog.seed(existing)
	physical := &mockPhysical{
		dropStoreFunc: func(domain.StoreDescriptor) error {
			return fmt.Errorf("drop: %w", domain.ErrProvisioning)
		},
	}
	rec := &recorder{}
	p := provision.New(catalog, physical, provision.WithRecorder(rec))

	err := p.Destroy(context.Background(), existing.ID)
	require.ErrorIs(t, err, domain.ErrProvisioning)

	_, err = catalog.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], domain.ErrProvisioning)
}

func TestDestroy_NotFound(t *testing.T) {
	t.Parallel()

	physical := &mockPhysical{}
	p := provision.New(newFakeCatalog(), physical)

	err := p.Destroy(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, physical.calls)
}
