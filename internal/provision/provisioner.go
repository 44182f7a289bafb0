// Package provision creates, renames and destroys tenant stores and keeps the
// tenant catalog in step with them.
//
// Database-level DDL cannot share a transaction with the control plane, so
// each flow is ordered to keep the window of divergence small. When physical
// and catalog state do diverge it is logged with alert=reconcile and left for
// an operator; nothing here repairs it automatically.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/domain"
)

// PhysicalStore executes store-level DDL.
type PhysicalStore interface {
	CreateDatabase(ctx context.Context, identifier string) error
	CreateTables(ctx context.Context, store domain.StoreDescriptor) error
	RenameStore(ctx context.Context, store domain.StoreDescriptor, newIdentifier string) error
	DropStore(ctx context.Context, store domain.StoreDescriptor) error
}

// Recorder observes provisioning outcomes. op is create, rename or destroy.
type Recorder interface {
	ProvisionOutcome(op string, err error)
}

// State is a step of the tenant creation flow.
type State string

const (
	StateValidating            State = "validating"
	StateCreatingPhysicalStore State = "creating_physical_store"
	StateRegisteringTenant     State = "registering_tenant"
	StateCreatingSchemaObjects State = "creating_schema_objects"
	StateCommitted             State = "committed"
	StateRolledBack            State = "rolled_back"
)

type CreateRequest struct {
	Name          string
	Description   string
	RawIdentifier string
	Mode          domain.StorageMode
	// OperatorID optionally assigns an operator in the same transaction.
	OperatorID *uuid.UUID
}

type Provisioner struct {
	tenants  domain.TenantRepository
	physical PhysicalStore
	prefix   string
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Provisioner)

// WithRecorder reports every create, rename and destroy outcome to r.
func WithRecorder(r Recorder) Option {
	return func(p *Provisioner) { p.recorder = r }
}

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// WithPrefix overrides domain.DefaultStoragePrefix.
func WithPrefix(prefix string) Option {
	return func(p *Provisioner) { p.prefix = prefix }
}

func New(tenants domain.TenantRepository, physical PhysicalStore, opts ...Option) *Provisioner {
	p := &Provisioner{
		tenants:  tenants,
		physical: physical,
		prefix:   domain.DefaultStoragePrefix,
		logger:   log.Logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// storeField names the database or schema an operator has to reconcile.
func storeField(e *zerolog.Event, store domain.StoreDescriptor) *zerolog.Event {
	if store.Mode == domain.StorageModeShared {
		return e.Str("schema", store.Identifier)
	}
	return e.Str("database", store.Identifier)
}

func (p *Provisioner) record(op string, err error) {
	if p.recorder != nil {
		p.recorder.ProvisionOutcome(op, err)
	}
}

// creation tracks one run of the create flow for logging.
type creation struct {
	logger zerolog.Logger
	state  State
}

func (c *creation) enter(s State) {
	c.state = s
	c.logger.Debug().Str("state", string(s)).Msg("provision: state")
}

// fail moves to RolledBack and returns err for convenience.
func (c *creation) fail(err error) error {
	c.logger.Debug().Str("state", string(StateRolledBack)).Str("failed_in", string(c.state)).Err(err).Msg("provision: state")
	c.state = StateRolledBack
	return err
}

// Create provisions a new tenant store and registers it in the catalog.
func (p *Provisioner) Create(ctx context.Context, req CreateRequest) (_ *domain.Tenant, err error) {
	defer func() { p.record("create", err) }()

	c := &creation{logger: p.logger.With().Str("storage_mode", string(req.Mode)).Logger()}

	// 1. Validate and sanitize before any I/O.
	c.enter(StateValidating)

	err = domain.ValidateTenantFields(req.Name, req.Description)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Create: %w", err)
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("provision.Provisioner.Create: %w",
			&domain.FieldError{Field: "storage_mode", Reason: "must be dedicated or shared"})
	}

	identifier, err := domain.SanitizeIdentifier(p.prefix, req.RawIdentifier)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Create: %w", err)
	}
	c.logger = c.logger.With().Str("storage_identifier", identifier).Logger()

	// 2. Identifier must be free across both modes.
	taken, err := p.tenants.IdentifierTaken(ctx, identifier, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Create: check identifier: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("provision.Provisioner.Create: identifier already in use: %w", domain.ErrConflict)
	}

	now := p.now()
	tenant := &domain.Tenant{
		ID:                uuid.New(),
		Name:              req.Name,
		Description:       req.Description,
		StorageIdentifier: identifier,
		StorageMode:       req.Mode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	c.logger = c.logger.With().Stringer("tenant_id", tenant.ID).Logger()

	// 3. Dedicated stores need their database before anything else.
	createdDatabase := false
	if req.Mode == domain.StorageModeDedicated {
		c.enter(StateCreatingPhysicalStore)

		err = p.physical.CreateDatabase(ctx, identifier)
		if err != nil {
			return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: %w", err))
		}
		createdDatabase = true
	}

	orphaned := func(cause error) {
		if createdDatabase {
			storeField(c.logger.Error(), tenant.Store()).Str("alert", "reconcile").Err(cause).
				Msg("provision: dedicated database left without a catalog row")
		}
	}

	// 4. Register the tenant in an open control-plane transaction.
	c.enter(StateRegisteringTenant)

	tx, err := p.tenants.Begin(ctx)
	if err != nil {
		orphaned(err)
		return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: begin: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	err = tx.Insert(ctx, tenant)
	if err != nil {
		orphaned(err)
		return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: insert: %w", err))
	}

	if req.OperatorID != nil && *req.OperatorID != uuid.Nil {
		err = tx.AssignOperator(ctx, tenant.ID, *req.OperatorID)
		if err != nil {
			orphaned(err)
			return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: assign operator: %w", err))
		}
		tenant.OperatorID = req.OperatorID
	}

	// 5. Tables, preceded by the schema in shared mode.
	c.enter(StateCreatingSchemaObjects)

	err = p.physical.CreateTables(ctx, tenant.Store())
	if err != nil {
		orphaned(err)
		return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: create tables: %w", err))
	}

	// 6. Commit.
	err = tx.Commit(ctx)
	if err != nil {
		storeField(c.logger.Error(), tenant.Store()).Str("alert", "reconcile").Err(err).
			Msg("provision: physical store created but catalog commit failed")
		return nil, c.fail(fmt.Errorf("provision.Provisioner.Create: commit: %w", err))
	}

	c.enter(StateCommitted)
	c.logger.Info().Str("name", tenant.Name).Msg("provision: tenant created")

	return tenant, nil
}

// Update applies a patch to a tenant. Field changes, operator reassignment and
// a storage rename all happen inside one catalog transaction. The physical
// rename runs last, and only when the sanitized identifier actually changed.
func (p *Provisioner) Update(ctx context.Context, id uuid.UUID, patch domain.TenantPatch) (_ *domain.Tenant, err error) {
	defer func() { p.record("rename", err) }()

	// 1. Validate what we can without the current row.
	newIdentifier := ""
	if patch.RawIdentifier != nil {
		newIdentifier, err = domain.SanitizeIdentifier(p.prefix, *patch.RawIdentifier)
		if err != nil {
			return nil, fmt.Errorf("provision.Provisioner.Update: %w", err)
		}

		taken, err := p.tenants.IdentifierTaken(ctx, newIdentifier, id)
		if err != nil {
			return nil, fmt.Errorf("provision.Provisioner.Update: check identifier: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("provision.Provisioner.Update: identifier already in use: %w", domain.ErrConflict)
		}
	}

	// 2. Lock the row and apply field changes.
	tx, err := p.tenants.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	current, err := tx.LockByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Update: %w", err)
	}

	updated := *current
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if newIdentifier != "" {
		updated.StorageIdentifier = newIdentifier
	}

	err = domain.ValidateTenantFields(updated.Name, updated.Description)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Update: %w", err)
	}

	renamed := updated.StorageIdentifier != current.StorageIdentifier
	logger := p.logger.With().
		Stringer("tenant_id", id).
		Str("storage_mode", string(current.StorageMode)).
		Str("storage_identifier", current.StorageIdentifier).
		Logger()

	updated.UpdatedAt = p.now()
	err = tx.Update(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Update: %w", err)
	}

	// 3. Operator reassignment goes before the physical rename so that an
	// invalid operator can never leave a renamed store behind.
	if patch.OperatorID != nil {
		err = tx.AssignOperator(ctx, id, *patch.OperatorID)
		if err != nil {
			return nil, fmt.Errorf("provision.Provisioner.Update: assign operator: %w", err)
		}
	}

	// 4. Physical rename. Failure rolls the catalog back with it.
	if renamed {
		err = p.physical.RenameStore(ctx, current.Store(), updated.StorageIdentifier)
		if err != nil {
			return nil, fmt.Errorf("provision.Provisioner.Update: rename store: %w", err)
		}
	}

	// 5. Commit.
	err = tx.Commit(ctx)
	if err != nil {
		if renamed {
			storeField(logger.Error(), updated.Store()).Str("alert", "reconcile").Err(err).
				Msg("provision: store renamed but catalog commit failed")
		}
		return nil, fmt.Errorf("provision.Provisioner.Update: commit: %w", err)
	}

	if renamed {
		logger.Info().Str("new_identifier", updated.StorageIdentifier).Msg("provision: store renamed")
	}

	fresh, err := p.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("provision.Provisioner.Update: reload: %w", err)
	}

	return fresh, nil
}

// Rename changes only the tenant's storage identifier.
func (p *Provisioner) Rename(ctx context.Context, id uuid.UUID, rawIdentifier string) (*domain.Tenant, error) {
	return p.Update(ctx, id, domain.TenantPatch{RawIdentifier: &rawIdentifier})
}

// Destroy drops the tenant's physical store and then its catalog row. If the
// drop fails the catalog is left untouched.
func (p *Provisioner) Destroy(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { p.record("destroy", err) }()

	tenant, err := p.tenants.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("provision.Provisioner.Destroy: %w", err)
	}

	logger := p.logger.With().
		Stringer("tenant_id", id).
		Str("storage_mode", string(tenant.StorageMode)).
		Str("storage_identifier", tenant.StorageIdentifier).
		Logger()

	// 1. Physical teardown first.
	err = p.physical.DropStore(ctx, tenant.Store())
	if err != nil {
		return fmt.Errorf("provision.Provisioner.Destroy: drop store: %w", err)
	}

	// 2. Catalog row; the operator assignment cascades.
	err = p.deleteRow(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			storeField(logger.Error(), tenant.Store()).Str("alert", "reconcile").Err(err).
				Msg("provision: store dropped but catalog row remains")
		}
		return fmt.Errorf("provision.Provisioner.Destroy: %w", err)
	}

	logger.Info().Msg("provision: tenant destroyed")

	return nil
}

func (p *Provisioner) deleteRow(ctx context.Context, id uuid.UUID) error {
	tx, err := p.tenants.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	err = tx.Delete(ctx, id)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
