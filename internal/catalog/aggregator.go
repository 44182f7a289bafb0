package catalog

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/bazaar/internal/domain"
)

// TenantLister enumerates the tenant catalog in a stable order.
type TenantLister interface {
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// ProductLister reads one tenant store.
type ProductLister interface {
	ListProducts(ctx context.Context, store domain.StoreDescriptor) ([]*domain.Product, error)
}

// AggregateObserver is told how each aggregation went.
type AggregateObserver interface {
	ObserveAggregate(elapsed time.Duration, tenants, skipped int)
}

const defaultParallelism = 4

// Aggregator reads every tenant store for the global listing. A tenant whose
// store fails is skipped; the rest still make it into the result.
type Aggregator struct {
	tenants     TenantLister
	router      ProductLister
	parallelism int
	observer    AggregateObserver
}

// NewAggregator reads at most parallelism stores at once. Values below one
// fall back to a default. observer may be nil.
func NewAggregator(tenants TenantLister, router ProductLister, parallelism int, observer AggregateObserver) *Aggregator {
	if parallelism < 1 {
		parallelism = defaultParallelism
	}
	return &Aggregator{
		tenants:     tenants,
		router:      router,
		parallelism: parallelism,
		observer:    observer,
	}
}

// TenantResult is one tenant's slice of the aggregation. Err is set when the
// tenant's store could not be read. A result with a nil Tenant means the
// tenant catalog itself could not be listed; it is the only result yielded.
type TenantResult struct {
	Tenant   *domain.Tenant
	Products []*domain.Product
	Err      error
}

// Stream returns a sequence yielding one result per tenant, in catalog order,
// while stores are read concurrently. Every iteration lists the tenant catalog
// afresh. Breaking out of the loop cancels outstanding reads and waits for
// them to return their pool handles.
func (a *Aggregator) Stream(ctx context.Context) iter.Seq[TenantResult] {
	return func(yield func(TenantResult) bool) {
		tenants, err := a.tenants.List(ctx)
		if err != nil {
			yield(TenantResult{Err: fmt.Errorf("catalog.Aggregator.Stream: list tenants: %w", err)})
			return
		}

		ctx, cancel := context.WithCancel(ctx)

		results := make([]chan TenantResult, len(tenants))
		for i := range results {
			results[i] = make(chan TenantResult, 1)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)

			var g errgroup.Group
			g.SetLimit(a.parallelism)

			for i, t := range tenants {
				if ctx.Err() != nil {
					results[i] <- TenantResult{Tenant: t, Err: ctx.Err()}
					continue
				}
				g.Go(func() error {
					products, err := a.router.ListProducts(ctx, t.Store())
					results[i] <- TenantResult{Tenant: t, Products: products, Err: err}
					return nil
				})
			}

			_ = g.Wait()
		}()

		defer func() {
			cancel()
			<-done
		}()

		for i := range tenants {
			var r TenantResult
			select {
			case r = <-results[i]:
			case <-ctx.Done():
				return
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Collection is the outcome of a full aggregation.
type Collection struct {
	Products []domain.ProductListing
	// Skipped joins the error of every tenant left out, nil when none were.
	Skipped error
}

// Collect drains Stream into a flat listing, logging every skipped tenant.
func (a *Aggregator) Collect(ctx context.Context) (*Collection, error) {
	start := time.Now()

	var (
		c       Collection
		tenants int
		skipped int
	)
	for r := range a.Stream(ctx) {
		if r.Tenant == nil {
			return nil, r.Err
		}
		tenants++

		if r.Err != nil {
			skipped++
			c.Skipped = multierr.Append(c.Skipped, fmt.Errorf("tenant %s (%s): %w", r.Tenant.ID, r.Tenant.StorageIdentifier, r.Err))

			log.Warn().Err(r.Err).
				Stringer("tenant_id", r.Tenant.ID).
				Str("storage_identifier", r.Tenant.StorageIdentifier).
				Str("storage_mode", string(r.Tenant.StorageMode)).
				Str("error_kind", string(domain.Kind(r.Err))).
				Msg("catalog: skipping tenant in aggregation")
			continue
		}

		for _, p := range r.Products {
			c.Products = append(c.Products, domain.ProductListing{
				Product:    *p,
				TenantID:   r.Tenant.ID,
				TenantName: r.Tenant.Name,
			})
		}
	}

	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("catalog.Aggregator.Collect: %w", err)
	}

	if a.observer != nil {
		a.observer.ObserveAggregate(time.Since(start), tenants, skipped)
	}

	return &c, nil
}

// ListAllProducts returns every readable product across all tenants.
func (a *Aggregator) ListAllProducts(ctx context.Context) ([]domain.ProductListing, error) {
	c, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return c.Products, nil
}
