package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gosuda/bazaar/internal/domain"
)

// DDL creates, renames and drops physical tenant stores. Database-level
// statements go through a one-off admin connection; schema-level statements
// go through the shared pool.
type DDL struct {
	pools *PoolRegistry
}

func NewDDL(pools *PoolRegistry) *DDL {
	return &DDL{pools: pools}
}

// ddlError keeps conflict and connection failures as they are and reports
// every other DDL failure as a provisioning error.
func ddlError(err error) error {
	c := classify(err)
	if errors.Is(c, domain.ErrConflict) || errors.Is(c, domain.ErrConnection) {
		return c
	}
	if isCode(err, codeObjectInUse) {
		return fmt.Errorf("%w: store has open sessions: %w", domain.ErrProvisioning, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProvisioning, err)
}

func quote(identifier string) (string, error) {
	if !domain.ValidIdentifier(identifier) {
		return "", fmt.Errorf("%w: malformed storage identifier", domain.ErrValidation)
	}
	return pgx.Identifier{identifier}.Sanitize(), nil
}

func (d *DDL) admin(ctx context.Context, stmt string) error {
	conn, err := d.pools.AdminConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	_, err = conn.Exec(ctx, stmt)
	if err != nil {
		return ddlError(err)
	}
	return nil
}

// CreateDatabase creates a dedicated tenant database. It cannot run inside a
// transaction.
func (d *DDL) CreateDatabase(ctx context.Context, identifier string) error {
	q, err := quote(identifier)
	if err != nil {
		return fmt.Errorf("ddl.CreateDatabase: %w", err)
	}

	err = d.admin(ctx, `CREATE DATABASE `+q)
	if err != nil {
		return fmt.Errorf("ddl.CreateDatabase: %w", err)
	}
	return nil
}

// CreateTables creates the products and attributes tables inside the store.
// Shared-mode stores get their schema created first, in the same transaction.
func (d *DDL) CreateTables(ctx context.Context, store domain.StoreDescriptor) error {
	t, err := tablesFor(store)
	if err != nil {
		return fmt.Errorf("ddl.CreateTables: %w", err)
	}

	h, err := d.pools.Acquire(ctx, store)
	if err != nil {
		return fmt.Errorf("ddl.CreateTables: %w", err)
	}
	defer h.Release()

	c, err := h.Conn(ctx)
	if err != nil {
		return fmt.Errorf("ddl.CreateTables: %w", err)
	}
	defer c.Release()

	err = pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		if store.Mode == domain.StorageModeShared {
			_, err := tx.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{store.Identifier}.Sanitize())
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `CREATE TABLE `+t.products+` (
			id          SERIAL PRIMARY KEY,
			name        VARCHAR(100) NOT NULL,
			description TEXT,
			image_ref   VARCHAR(255),
			stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			price       NUMERIC(10, 2) NOT NULL CHECK (price >= 0),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `CREATE TABLE `+t.attributes+` (
			id         SERIAL PRIMARY KEY,
			product_id INTEGER NOT NULL REFERENCES `+t.products+` (id) ON DELETE CASCADE,
			key        VARCHAR(50) NOT NULL,
			value      VARCHAR(100) NOT NULL
		)`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `CREATE INDEX attributes_product_id_idx ON `+t.attributes+` (product_id)`)
		return err
	})
	if err != nil {
		return fmt.Errorf("ddl.CreateTables: %w", ddlError(err))
	}

	return nil
}

// DropStore removes the physical store if it exists. Dropping a store that is
// already gone is not an error.
func (d *DDL) DropStore(ctx context.Context, store domain.StoreDescriptor) error {
	q, err := quote(store.Identifier)
	if err != nil {
		return fmt.Errorf("ddl.DropStore: %w", err)
	}

	switch store.Mode {
	case domain.StorageModeDedicated:
		// Postgres refuses to drop a database with open sessions.
		d.pools.Evict(store.Identifier)
		err = d.admin(ctx, `DROP DATABASE IF EXISTS `+q)
	case domain.StorageModeShared:
		_, err = d.pools.Shared().Exec(ctx, `DROP SCHEMA IF EXISTS `+q+` CASCADE`)
		if err != nil {
			err = ddlError(err)
		}
	default:
		err = fmt.Errorf("%w: unknown storage mode %q", domain.ErrValidation, store.Mode)
	}
	if err != nil {
		return fmt.Errorf("ddl.DropStore: %w", err)
	}

	return nil
}

// RenameStore renames the physical database or schema to newIdentifier.
func (d *DDL) RenameStore(ctx context.Context, store domain.StoreDescriptor, newIdentifier string) error {
	from, err := quote(store.Identifier)
	if err != nil {
		return fmt.Errorf("ddl.RenameStore: %w", err)
	}
	to, err := quote(newIdentifier)
	if err != nil {
		return fmt.Errorf("ddl.RenameStore: %w", err)
	}

	switch store.Mode {
	case domain.StorageModeDedicated:
		d.pools.Evict(store.Identifier)
		err = d.admin(ctx, `ALTER DATABASE `+from+` RENAME TO `+to)
	case domain.StorageModeShared:
		_, err = d.pools.Shared().Exec(ctx, `ALTER SCHEMA `+from+` RENAME TO `+to)
		if err != nil {
			err = ddlError(err)
		}
	default:
		err = fmt.Errorf("%w: unknown storage mode %q", domain.ErrValidation, store.Mode)
	}
	if err != nil {
		return fmt.Errorf("ddl.RenameStore: %w", err)
	}

	return nil
}
