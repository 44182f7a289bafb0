package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/bazaar/internal/domain"
)

// CatalogRouter runs product CRUD against whichever physical store a tenant's
// descriptor points at.
type CatalogRouter struct {
	pools *PoolRegistry
}

func NewCatalogRouter(pools *PoolRegistry) *CatalogRouter {
	return &CatalogRouter{pools: pools}
}

// tables holds the (possibly schema-qualified, always quoted) table names of
// one store.
type tables struct {
	products   string
	attributes string
}

func tablesFor(store domain.StoreDescriptor) (tables, error) {
	if !domain.ValidIdentifier(store.Identifier) {
		return tables{}, fmt.Errorf("%w: malformed storage identifier", domain.ErrValidation)
	}

	switch store.Mode {
	case domain.StorageModeDedicated:
		return tables{
			products:   pgx.Identifier{"products"}.Sanitize(),
			attributes: pgx.Identifier{"attributes"}.Sanitize(),
		}, nil
	case domain.StorageModeShared:
		return tables{
			products:   pgx.Identifier{store.Identifier, "products"}.Sanitize(),
			attributes: pgx.Identifier{store.Identifier, "attributes"}.Sanitize(),
		}, nil
	default:
		return tables{}, fmt.Errorf("%w: unknown storage mode %q", domain.ErrValidation, store.Mode)
	}
}

// conn resolves the store to a pooled connection. The returned func releases
// both the connection and the registry handle.
func (r *CatalogRouter) conn(ctx context.Context, store domain.StoreDescriptor) (*pgxpool.Conn, tables, func(), error) {
	t, err := tablesFor(store)
	if err != nil {
		return nil, tables{}, nil, err
	}

	h, err := r.pools.Acquire(ctx, store)
	if err != nil {
		return nil, tables{}, nil, err
	}

	c, err := h.Conn(ctx)
	if err != nil {
		h.Release()
		return nil, tables{}, nil, err
	}

	return c, t, func() {
		c.Release()
		h.Release()
	}, nil
}

// ListProducts returns every product in the store, oldest first, each with its
// attributes.
func (r *CatalogRouter) ListProducts(ctx context.Context, store domain.StoreDescriptor) ([]*domain.Product, error) {
	c, t, release, err := r.conn(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("catalogRouter.ListProducts: %w", err)
	}
	defer release()

	rows, err := c.Query(ctx,
		`SELECT id, name, description, image_ref, stock, price, created_at
		 FROM `+t.products+` ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("catalogRouter.ListProducts: %w", classify(err))
	}
	defer rows.Close()

	var (
		products []*domain.Product
		ids      []int64
		byID     = make(map[int64]*domain.Product)
	)
	for rows.Next() {
		var (
			p                     domain.Product
			description, imageRef *string
		)

		err = rows.Scan(&p.ID, &p.Name, &description, &imageRef, &p.Stock, &p.Price, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("catalogRouter.ListProducts: scan: %w", err)
		}

		p.Description = derefStr(description)
		p.ImageRef = derefStr(imageRef)

		products = append(products, &p)
		ids = append(ids, p.ID)
		byID[p.ID] = &p
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("catalogRouter.ListProducts: rows: %w", classify(err))
	}

	if len(ids) == 0 {
		return products, nil
	}

	attrRows, err := c.Query(ctx,
		`SELECT product_id, key, value FROM `+t.attributes+`
		 WHERE product_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("catalogRouter.ListProducts: attributes: %w", classify(err))
	}
	defer attrRows.Close()

	for attrRows.Next() {
		var (
			productID int64
			a         domain.Attribute
		)

		err = attrRows.Scan(&productID, &a.Key, &a.Value)
		if err != nil {
			return nil, fmt.Errorf("catalogRouter.ListProducts: scan attribute: %w", err)
		}

		if p, ok := byID[productID]; ok {
			p.Attributes = append(p.Attributes, a)
		}
	}
	err = attrRows.Err()
	if err != nil {
		return nil, fmt.Errorf("catalogRouter.ListProducts: attribute rows: %w", classify(err))
	}

	return products, nil
}

// InsertProduct writes the product and its attributes in one transaction and
// fills in the store-assigned ID and CreatedAt.
func (r *CatalogRouter) InsertProduct(ctx context.Context, store domain.StoreDescriptor, p *domain.Product) error {
	c, t, release, err := r.conn(ctx, store)
	if err != nil {
		return fmt.Errorf("catalogRouter.InsertProduct: %w", err)
	}
	defer release()

	err = pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO `+t.products+` (name, description, image_ref, stock, price)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			p.Name, nilIfEmpty(p.Description), nilIfEmpty(p.ImageRef), p.Stock, p.Price,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return err
		}

		return insertAttributes(ctx, tx, t, p.ID, p.Attributes)
	})
	if err != nil {
		return fmt.Errorf("catalogRouter.InsertProduct: %w", classify(err))
	}

	return nil
}

// UpdateProduct overwrites the product's fields and replaces its attribute set
// wholesale. An empty ImageRef keeps the stored one. It returns the image
// reference held before the update.
func (r *CatalogRouter) UpdateProduct(ctx context.Context, store domain.StoreDescriptor, id int64, p *domain.Product) (string, error) {
	c, t, release, err := r.conn(ctx, store)
	if err != nil {
		return "", fmt.Errorf("catalogRouter.UpdateProduct: %w", err)
	}
	defer release()

	var prevImageRef *string

	err = pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT image_ref FROM `+t.products+` WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&prevImageRef)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`UPDATE `+t.products+`
			 SET name = $1, description = $2, image_ref = COALESCE($3, image_ref), stock = $4, price = $5
			 WHERE id = $6
			 RETURNING created_at`,
			p.Name, nilIfEmpty(p.Description), nilIfEmpty(p.ImageRef), p.Stock, p.Price, id,
		).Scan(&p.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM `+t.attributes+` WHERE product_id = $1`, id)
		if err != nil {
			return err
		}

		return insertAttributes(ctx, tx, t, id, p.Attributes)
	})
	if err != nil {
		return "", fmt.Errorf("catalogRouter.UpdateProduct: %w", classify(err))
	}

	p.ID = id
	if p.ImageRef == "" {
		p.ImageRef = derefStr(prevImageRef)
	}

	return derefStr(prevImageRef), nil
}

// DeleteProduct removes the product; attributes go with it by cascade. It
// returns the deleted row's image reference.
func (r *CatalogRouter) DeleteProduct(ctx context.Context, store domain.StoreDescriptor, id int64) (string, error) {
	c, t, release, err := r.conn(ctx, store)
	if err != nil {
		return "", fmt.Errorf("catalogRouter.DeleteProduct: %w", err)
	}
	defer release()

	var imageRef *string

	err = c.QueryRow(ctx,
		`DELETE FROM `+t.products+` WHERE id = $1 RETURNING image_ref`,
		id,
	).Scan(&imageRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("catalogRouter.DeleteProduct: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("catalogRouter.DeleteProduct: %w", classify(err))
	}

	return derefStr(imageRef), nil
}

func insertAttributes(ctx context.Context, tx pgx.Tx, t tables, productID int64, attrs []domain.Attribute) error {
	if len(attrs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range attrs {
		batch.Queue(
			`INSERT INTO `+t.attributes+` (product_id, key, value) VALUES ($1, $2, $3)`,
			productID, a.Key, a.Value,
		)
	}

	return tx.SendBatch(ctx, batch).Close()
}
