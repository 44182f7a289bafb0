package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/bazaar/internal/domain"
)

// UserRepo reads the control-plane mirror of accounts issued by the auth
// collaborator.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User

	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("userRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", classify(err))
	}

	return &u, nil
}

func (r *UserRepo) ListByRole(ctx context.Context, role string) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, email, role, created_at
		 FROM users WHERE role = $1 ORDER BY username, id`,
		role,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListByRole: %w", classify(err))
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User

		err = rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("userRepo.ListByRole: scan: %w", err)
		}

		users = append(users, &u)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListByRole: rows: %w", classify(err))
	}

	return users, nil
}

// --- Helpers ---

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
