package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/bazaar/internal/domain"
)

// TenantRepo is the control-plane tenant catalog.
type TenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *TenantRepo {
	return &TenantRepo{pool: pool}
}

const tenantColumns = `t.id, t.name, t.description, t.storage_identifier, t.storage_mode,
	oa.user_id, u.username, t.created_at, t.updated_at`

const tenantFrom = `FROM tenants t
	LEFT JOIN operator_assignments oa ON oa.tenant_id = t.id
	LEFT JOIN users u ON u.id = oa.user_id`

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var (
		t                       domain.Tenant
		description, opUsername *string
	)

	err := row.Scan(
		&t.ID, &t.Name, &description, &t.StorageIdentifier, &t.StorageMode,
		&t.OperatorID, &opUsername, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = derefStr(description)
	t.OperatorName = derefStr(opUsername)

	return &t, nil
}

func (r *TenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` `+tenantFrom+` WHERE t.id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tenantRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tenantRepo.GetByID: %w", classify(err))
	}

	return t, nil
}

// GetByOperator returns the tenant managed by userID. If an operator somehow
// holds several assignments, the earliest one wins.
func (r *TenantRepo) GetByOperator(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` `+tenantFrom+`
		 WHERE oa.user_id = $1
		 ORDER BY oa.assigned_at, t.id
		 LIMIT 1`,
		userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tenantRepo.GetByOperator: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tenantRepo.GetByOperator: %w", classify(err))
	}

	return t, nil
}

// IdentifierTaken reports whether any tenant other than exclude already uses
// identifier. Pass uuid.Nil to check against every tenant.
func (r *TenantRepo) IdentifierTaken(ctx context.Context, identifier string, exclude uuid.UUID) (bool, error) {
	var taken bool

	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE storage_identifier = $1 AND id <> $2)`,
		identifier, exclude,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("tenantRepo.IdentifierTaken: %w", classify(err))
	}

	return taken, nil
}

// List enumerates every tenant in creation order. The Aggregator relies on
// this order being stable.
func (r *TenantRepo) List(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tenantColumns+` `+tenantFrom+` ORDER BY t.created_at, t.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("tenantRepo.List: %w", classify(err))
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("tenantRepo.List: scan: %w", err)
		}

		tenants = append(tenants, t)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("tenantRepo.List: rows: %w", classify(err))
	}

	return tenants, nil
}

func (r *TenantRepo) Begin(ctx context.Context) (domain.TenantTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenantRepo.Begin: %w", classify(err))
	}
	return &TenantTx{tx: tx}, nil
}

// TenantTx runs catalog writes inside one control-plane transaction.
type TenantTx struct {
	tx pgx.Tx
}

func (t *TenantTx) Insert(ctx context.Context, tenant *domain.Tenant) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO tenants (id, name, description, storage_identifier, storage_mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenant.ID, tenant.Name, nilIfEmpty(tenant.Description),
		tenant.StorageIdentifier, tenant.StorageMode,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tenantTx.Insert: %w", classify(err))
	}

	return nil
}

// LockByID reads the tenant and holds a row lock until the transaction ends.
func (t *TenantTx) LockByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	tenant, err := scanTenant(t.tx.QueryRow(ctx,
		`SELECT `+tenantColumns+` `+tenantFrom+` WHERE t.id = $1 FOR UPDATE OF t`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tenantTx.LockByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tenantTx.LockByID: %w", classify(err))
	}

	return tenant, nil
}

func (t *TenantTx) Update(ctx context.Context, tenant *domain.Tenant) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tenants SET name = $1, description = $2, storage_identifier = $3, updated_at = $4
		 WHERE id = $5`,
		tenant.Name, nilIfEmpty(tenant.Description), tenant.StorageIdentifier, tenant.UpdatedAt, tenant.ID,
	)
	if err != nil {
		return fmt.Errorf("tenantTx.Update: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenantTx.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (t *TenantTx) AssignOperator(ctx context.Context, tenantID, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM operator_assignments WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("tenantTx.AssignOperator: revoke: %w", classify(err))
	}

	if userID == uuid.Nil {
		return nil
	}

	var isMerchant bool
	err = t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = $2)`,
		userID, domain.RoleMerchant,
	).Scan(&isMerchant)
	if err != nil {
		return fmt.Errorf("tenantTx.AssignOperator: %w", classify(err))
	}
	if !isMerchant {
		return fmt.Errorf("tenantTx.AssignOperator: %w",
			&domain.FieldError{Field: "operator_id", Reason: "must reference a user with the merchant role"})
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO operator_assignments (tenant_id, user_id) VALUES ($1, $2)`,
		tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("tenantTx.AssignOperator: %w", classify(err))
	}

	return nil
}

func (t *TenantTx) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("tenantTx.Delete: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenantTx.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

func (t *TenantTx) Commit(ctx context.Context) error {
	err := t.tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("tenantTx.Commit: %w", classify(err))
	}
	return nil
}

func (t *TenantTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("tenantTx.Rollback: %w", err)
	}
	return nil
}
