package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/provision"
)

type CreateTenantInput struct {
	Body struct {
		Name              string `json:"name" doc:"Display name, at most 100 characters"`
		Description       string `json:"description,omitempty" doc:"At most 500 characters"`
		StorageIdentifier string `json:"storage_identifier" doc:"Raw identifier; sanitized and prefixed before use"`
		StorageMode       string `json:"storage_mode" doc:"dedicated or shared"`
		OperatorID        string `json:"operator_id,omitempty" doc:"Merchant to assign as operator"`
	}
}

type TenantOutput struct {
	Body *TenantResponse
}

type ListTenantsInput struct{}

type ListTenantsOutput struct {
	Body []*TenantResponse
}

type GetTenantInput struct {
	ID uuid.UUID `path:"id" doc:"Tenant ID"`
}

type UpdateTenantInput struct {
	ID   uuid.UUID `path:"id" doc:"Tenant ID"`
	Body struct {
		Name              *string `json:"name,omitempty"`
		Description       *string `json:"description,omitempty"`
		StorageIdentifier *string `json:"storage_identifier,omitempty" doc:"New raw identifier; renames the physical store"`
		OperatorID        *string `json:"operator_id,omitempty" doc:"Merchant to assign; empty string revokes the current operator"`
	}
}

type DeleteTenantInput struct {
	ID uuid.UUID `path:"id" doc:"Tenant ID"`
}

func RegisterTenantRoutes(api huma.API, provisioner TenantProvisioner, tenants TenantReader) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create a tenant and provision its store",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantOutput, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		req := provision.CreateRequest{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			RawIdentifier: input.Body.StorageIdentifier,
			Mode:          domain.StorageMode(input.Body.StorageMode),
		}
		if input.Body.OperatorID != "" {
			opID, err := parseOperatorID(input.Body.OperatorID)
			if err != nil {
				return nil, toHTTPError(err, "tenant")
			}
			req.OperatorID = &opID
		}

		t, err := provisioner.Create(ctx, req)
		if err != nil {
			return nil, toHTTPError(err, "tenant")
		}

		return &TenantOutput{Body: tenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List all tenants with their operators",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, _ *ListTenantsInput) (*ListTenantsOutput, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		list, err := tenants.List(ctx)
		if err != nil {
			return nil, toHTTPError(err, "tenants")
		}

		out := make([]*TenantResponse, 0, len(list))
		for _, t := range list {
			out = append(out, tenantResponse(t))
		}
		return &ListTenantsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *GetTenantInput) (*TenantOutput, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		t, err := tenants.GetByID(ctx, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "tenant")
		}

		return &TenantOutput{Body: tenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tenant",
		Method:      http.MethodPatch,
		Path:        "/tenants/{id}",
		Summary:     "Update, rename or reassign a tenant",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *UpdateTenantInput) (*TenantOutput, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		patch := domain.TenantPatch{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			RawIdentifier: input.Body.StorageIdentifier,
		}
		if input.Body.OperatorID != nil {
			opID := uuid.Nil
			if *input.Body.OperatorID != "" {
				var err error
				opID, err = parseOperatorID(*input.Body.OperatorID)
				if err != nil {
					return nil, toHTTPError(err, "tenant")
				}
			}
			patch.OperatorID = &opID
		}

		t, err := provisioner.Update(ctx, input.ID, patch)
		if err != nil {
			return nil, toHTTPError(err, "tenant")
		}

		return &TenantOutput{Body: tenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-tenant",
		Method:        http.MethodDelete,
		Path:          "/tenants/{id}",
		Summary:       "Destroy a tenant and its store",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteTenantInput) (*struct{}, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		if err := provisioner.Destroy(ctx, input.ID); err != nil {
			return nil, toHTTPError(err, "tenant")
		}

		return nil, nil
	})
}

func parseOperatorID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, &domain.FieldError{Field: "operator_id", Reason: "must be a user id"}
	}
	return id, nil
}

type ListMerchantsInput struct{}

type ListMerchantsOutput struct {
	Body []UserResponse
}

// RegisterMerchantRoutes exposes the users an admin may assign as operators.
func RegisterMerchantRoutes(api huma.API, users UserLister) {
	huma.Register(api, huma.Operation{
		OperationID: "list-merchants",
		Method:      http.MethodGet,
		Path:        "/merchants",
		Summary:     "List users holding the merchant role",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, _ *ListMerchantsInput) (*ListMerchantsOutput, error) {
		if err := requireRole(ctx, domain.RoleAdmin); err != nil {
			return nil, err
		}

		list, err := users.ListByRole(ctx, domain.RoleMerchant)
		if err != nil {
			return nil, toHTTPError(err, "merchants")
		}

		out := make([]UserResponse, 0, len(list))
		for _, u := range list {
			out = append(out, UserResponse{ID: u.ID, Username: u.Username, Email: u.Email})
		}
		return &ListMerchantsOutput{Body: out}, nil
	})
}
