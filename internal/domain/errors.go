package domain

import "errors"

// Sentinel errors for the domain layer. Every failure the core returns wraps
// exactly one of the first six; the boundary translates them by Kind.
var (
	ErrValidation       = errors.New("domain: validation failed")
	ErrConflict         = errors.New("domain: conflict")
	ErrNotFound         = errors.New("domain: not found")
	ErrProvisioning     = errors.New("domain: provisioning failed")
	ErrStoreUnavailable = errors.New("domain: store unavailable")
	ErrConnection       = errors.New("domain: connection failed")
	ErrUnauthorized     = errors.New("domain: unauthorized")
	ErrForbidden        = errors.New("domain: forbidden")
)

// ErrorKind names one entry of the error taxonomy.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindConflict         ErrorKind = "conflict"
	KindNotFound         ErrorKind = "not_found"
	KindProvisioning     ErrorKind = "provisioning"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindConnection       ErrorKind = "connection"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindForbidden        ErrorKind = "forbidden"
	KindInternal         ErrorKind = "internal"
)

// Kind reports which taxonomy entry err belongs to. Unclassified errors are
// KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrProvisioning):
		return KindProvisioning
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}

// FieldError describes why a single input field was rejected. It unwraps to
// ErrValidation and carries no storage detail, so its message is safe to show
// to callers.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "domain: invalid " + e.Field + ": " + e.Reason
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}
