package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type MyTenantInput struct{}

type ListMyProductsInput struct{}

type ListProductsOutput struct {
	Body []ProductResponse
}

type CreateProductInput struct {
	Body ProductBody
}

type ProductOutput struct {
	Body ProductResponse
}

type UpdateProductInput struct {
	ID   int64 `path:"id" doc:"Product ID within the caller's store"`
	Body ProductBody
}

type DeleteProductInput struct {
	ID int64 `path:"id" doc:"Product ID within the caller's store"`
}

// RegisterMyCatalogRoutes exposes the calling merchant's own store. The
// tenant is always resolved from the caller, never taken from the request.
func RegisterMyCatalogRoutes(api huma.API, products ProductService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-my-tenant",
		Method:      http.MethodGet,
		Path:        "/me/tenant",
		Summary:     "Get the tenant the caller operates",
		Tags:        []string{"Merchant"},
	}, func(ctx context.Context, _ *MyTenantInput) (*TenantOutput, error) {
		userID, err := currentMerchant(ctx)
		if err != nil {
			return nil, err
		}

		t, err := products.TenantForOperator(ctx, userID)
		if err != nil {
			return nil, toHTTPError(err, "tenant")
		}

		return &TenantOutput{Body: tenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-products",
		Method:      http.MethodGet,
		Path:        "/me/products",
		Summary:     "List products in the caller's store",
		Tags:        []string{"Merchant"},
	}, func(ctx context.Context, _ *ListMyProductsInput) (*ListProductsOutput, error) {
		userID, err := currentMerchant(ctx)
		if err != nil {
			return nil, err
		}

		list, err := products.ListProducts(ctx, userID)
		if err != nil {
			return nil, toHTTPError(err, "products")
		}

		out := make([]ProductResponse, 0, len(list))
		for _, p := range list {
			out = append(out, productResponse(p))
		}
		return &ListProductsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-my-product",
		Method:        http.MethodPost,
		Path:          "/me/products",
		Summary:       "Create a product in the caller's store",
		Tags:          []string{"Merchant"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateProductInput) (*ProductOutput, error) {
		userID, err := currentMerchant(ctx)
		if err != nil {
			return nil, err
		}

		p, err := input.Body.toDomain()
		if err != nil {
			return nil, toHTTPError(err, "product")
		}

		err = products.CreateProduct(ctx, userID, p)
		if err != nil {
			return nil, toHTTPError(err, "product")
		}

		return &ProductOutput{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-my-product",
		Method:      http.MethodPut,
		Path:        "/me/products/{id}",
		Summary:     "Replace a product and its attributes",
		Tags:        []string{"Merchant"},
	}, func(ctx context.Context, input *UpdateProductInput) (*ProductOutput, error) {
		userID, err := currentMerchant(ctx)
		if err != nil {
			return nil, err
		}

		p, err := input.Body.toDomain()
		if err != nil {
			return nil, toHTTPError(err, "product")
		}

		err = products.UpdateProduct(ctx, userID, input.ID, p)
		if err != nil {
			return nil, toHTTPError(err, "product")
		}

		return &ProductOutput{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-my-product",
		Method:        http.MethodDelete,
		Path:          "/me/products/{id}",
		Summary:       "Delete a product",
		Tags:          []string{"Merchant"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteProductInput) (*struct{}, error) {
		userID, err := currentMerchant(ctx)
		if err != nil {
			return nil, err
		}

		err = products.DeleteProduct(ctx, userID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "product")
		}

		return nil, nil
	})
}

