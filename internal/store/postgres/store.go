package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/bazaar/internal/domain"
)

// Store is the control-plane database: tenant catalog and user mirror.
type Store struct {
	pool    *pgxpool.Pool
	tenants *TenantRepo
	users   *UserRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", classify(err))
	}

	return &Store{
		pool:    pool,
		tenants: NewTenantRepo(pool),
		users:   NewUserRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the control-plane database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	err := s.pool.Ping(ctx)
	if err != nil {
		return fmt.Errorf("store.Ping: %w", classify(err))
	}
	return nil
}

func (s *Store) Tenants() domain.TenantRepository { return s.tenants }
func (s *Store) Users() domain.UserRepository     { return s.users }
