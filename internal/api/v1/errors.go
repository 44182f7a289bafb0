package v1

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/server/middleware"
)

// toHTTPError translates a core error into an RFC 9457 problem. Messages are
// generic per kind so no SQL or driver text reaches the caller; the field
// name and reason of a validation failure are the only detail passed on.
func toHTTPError(err error, what string) error {
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return huma.Error400BadRequest("invalid "+fe.Field, &huma.ErrorDetail{
			Message:  fe.Reason,
			Location: "body." + fe.Field,
		})
	}

	switch domain.Kind(err) {
	case domain.KindValidation:
		return huma.Error400BadRequest(what + ": invalid input")
	case domain.KindConflict:
		return huma.Error409Conflict(what + ": already exists")
	case domain.KindNotFound:
		return huma.Error404NotFound(what + " not found")
	case domain.KindProvisioning:
		log.Error().Err(err).Str("error_kind", string(domain.KindProvisioning)).Msg("api: " + what)
		return huma.Error502BadGateway(what + ": storage provisioning failed")
	case domain.KindStoreUnavailable:
		log.Warn().Err(err).Msg("api: " + what)
		return huma.Error503ServiceUnavailable(what + ": store unavailable")
	case domain.KindConnection:
		log.Warn().Err(err).Msg("api: " + what)
		return huma.Error503ServiceUnavailable(what + ": database unavailable")
	case domain.KindUnauthorized:
		return huma.Error401Unauthorized("authentication required")
	case domain.KindForbidden:
		return huma.Error403Forbidden("insufficient permissions")
	default:
		log.Error().Err(err).Msg("api: " + what)
		return huma.Error500InternalServerError(what + ": internal error")
	}
}

// requireRole mirrors middleware.RequireRole inside handlers so that routes
// stay protected when mounted without the middleware (as in tests).
func requireRole(ctx context.Context, role string) error {
	got, ok := middleware.RoleFromContext(ctx)
	if !ok || got == "" {
		return huma.Error401Unauthorized("authentication required")
	}
	if got != role {
		return huma.Error403Forbidden(role + " role required")
	}
	return nil
}

// currentMerchant returns the calling merchant's user id.
func currentMerchant(ctx context.Context) (uuid.UUID, error) {
	err := requireRole(ctx, domain.RoleMerchant)
	if err != nil {
		return uuid.Nil, err
	}
	id, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, huma.Error401Unauthorized("authentication required")
	}
	return id, nil
}
