package domain

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// StorageMode selects how a tenant's catalog is isolated.
type StorageMode string

const (
	// StorageModeDedicated gives the tenant its own physical database.
	StorageModeDedicated StorageMode = "dedicated"
	// StorageModeShared gives the tenant a schema inside the shared database.
	StorageModeShared StorageMode = "shared"
)

func (m StorageMode) Valid() bool {
	return m == StorageModeDedicated || m == StorageModeShared
}

const (
	MaxTenantNameLen        = 100
	MaxTenantDescriptionLen = 500
)

type Tenant struct {
	ID                uuid.UUID
	Name              string
	Description       string // may be empty
	StorageIdentifier string
	StorageMode       StorageMode
	OperatorID        *uuid.UUID // nil when no operator is assigned
	OperatorName      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StoreDescriptor addresses one tenant's physical store.
type StoreDescriptor struct {
	Identifier string
	Mode       StorageMode
}

func (t *Tenant) Store() StoreDescriptor {
	return StoreDescriptor{Identifier: t.StorageIdentifier, Mode: t.StorageMode}
}

// TenantPatch lists the fields an update may change. Nil pointers are left
// untouched. OperatorID pointing at uuid.Nil revokes the current operator.
type TenantPatch struct {
	Name          *string
	Description   *string
	RawIdentifier *string
	OperatorID    *uuid.UUID
}

// ValidateTenantFields checks name and description bounds.
func ValidateTenantFields(name, description string) error {
	if name == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(name) > MaxTenantNameLen {
		return invalid("name", "exceeds 100 characters")
	}
	if utf8.RuneCountInString(description) > MaxTenantDescriptionLen {
		return invalid("description", "exceeds 500 characters")
	}
	return nil
}

// TenantRepository is the control-plane tenant catalog.
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByOperator(ctx context.Context, userID uuid.UUID) (*Tenant, error)
	IdentifierTaken(ctx context.Context, identifier string, exclude uuid.UUID) (bool, error)
	List(ctx context.Context) ([]*Tenant, error)
	Begin(ctx context.Context) (TenantTx, error)
}

// TenantTx groups catalog writes that must commit or roll back together.
// Rollback after Commit is a no-op, so callers may always defer it.
type TenantTx interface {
	Insert(ctx context.Context, t *Tenant) error
	LockByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	// AssignOperator revokes the current assignment, then assigns userID when
	// it is not uuid.Nil. The user must hold the merchant role.
	AssignOperator(ctx context.Context, tenantID, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
