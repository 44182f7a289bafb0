package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/multierr"
)

type ListCatalogInput struct{}

type ListCatalogOutput struct {
	Body struct {
		Products []ListingResponse `json:"products"`
		// SkippedTenants counts stores that could not be read; their products
		// are missing from this response.
		SkippedTenants int `json:"skipped_tenants"`
	}
}

// RegisterCatalogRoutes exposes the public listing across every tenant.
func RegisterCatalogRoutes(api huma.API, aggregator CatalogAggregator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-catalog-products",
		Method:      http.MethodGet,
		Path:        "/catalog/products",
		Summary:     "List products from every tenant",
		Tags:        []string{"Catalog"},
	}, func(ctx context.Context, _ *ListCatalogInput) (*ListCatalogOutput, error) {
		c, err := aggregator.Collect(ctx)
		if err != nil {
			return nil, toHTTPError(err, "catalog")
		}

		out := &ListCatalogOutput{}
		out.Body.Products = make([]ListingResponse, 0, len(c.Products))
		for i := range c.Products {
			l := &c.Products[i]
			out.Body.Products = append(out.Body.Products, ListingResponse{
				ProductResponse: productResponse(&l.Product),
				TenantID:        l.TenantID,
				TenantName:      l.TenantName,
			})
		}
		out.Body.SkippedTenants = len(multierr.Errors(c.Skipped))

		return out, nil
	})
}
