package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Roles issued by the auth collaborator.
const (
	RoleAdmin    = "admin"
	RoleMerchant = "merchant"
	RoleCustomer = "customer"
)

// User is the control-plane view of an account. Credentials live with the
// auth collaborator and are never read here.
type User struct {
	ID        uuid.UUID
	Username  string
	Email     string
	Role      string
	CreatedAt time.Time
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListByRole(ctx context.Context, role string) ([]*User, error)
}
