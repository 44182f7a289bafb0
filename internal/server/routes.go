package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/bazaar/internal/api/v1"
	"github.com/gosuda/bazaar/internal/api/ws"
)

func registerPublicRoutes(api huma.API, svc Services) {
	v1.RegisterCatalogRoutes(api, svc.Aggregator)
}

func registerAPIRoutes(api huma.API, svc Services) {
	v1.RegisterTenantRoutes(api, svc.Provisioner, svc.Tenants)
	v1.RegisterMerchantRoutes(api, svc.Users)
	v1.RegisterMyCatalogRoutes(api, svc.Products)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/catalog", hub.ServeCatalog)
	r.Get("/tenants/{tenantID}/catalog", hub.ServeTenantCatalog)
}
