package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/domain"
)

type RegistryConfig struct {
	// SharedDatabase hosts one schema per shared-mode tenant.
	SharedDatabase string
	// AdminDatabase is the bootstrap database used for CREATE/DROP/ALTER DATABASE.
	AdminDatabase  string
	SharedMaxConns int32
	TenantMaxConns int32
	// AcquireTimeout bounds both dialing and waiting for a free connection.
	AcquireTimeout time.Duration
}

// PoolRegistry owns the connection pools of every physical tenant store. The
// shared pool lives for the whole process; dedicated pools are opened on
// first use and cached by storage identifier.
type PoolRegistry struct {
	base   *pgxpool.Config
	cfg    RegistryConfig
	shared *pgxpool.Pool

	mu        sync.Mutex
	dedicated map[string]*poolEntry
	closed    bool
}

type poolEntry struct {
	pool     *pgxpool.Pool
	refs     int
	lastUsed time.Time
	evicted  bool
}

// NewPoolRegistry parses dsn as the template for every pool it opens, then
// connects to the shared database and pings it.
func NewPoolRegistry(ctx context.Context, dsn string, cfg RegistryConfig) (*PoolRegistry, error) {
	base, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.NewPoolRegistry: parse config: %w", err)
	}

	r, err := newPoolRegistry(ctx, base, cfg)
	if err != nil {
		return nil, err
	}

	err = r.shared.Ping(ctx)
	if err != nil {
		r.shared.Close()
		return nil, fmt.Errorf("postgres.NewPoolRegistry: ping shared: %w", classify(err))
	}

	return r, nil
}

func newPoolRegistry(ctx context.Context, base *pgxpool.Config, cfg RegistryConfig) (*PoolRegistry, error) {
	if cfg.AcquireTimeout > 0 {
		base.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}

	sharedCfg := base.Copy()
	sharedCfg.ConnConfig.Database = cfg.SharedDatabase
	if cfg.SharedMaxConns > 0 {
		sharedCfg.MaxConns = cfg.SharedMaxConns
	}

	shared, err := pgxpool.NewWithConfig(ctx, sharedCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.NewPoolRegistry: shared pool: %w", err)
	}

	return &PoolRegistry{
		base:      base,
		cfg:       cfg,
		shared:    shared,
		dedicated: make(map[string]*poolEntry),
	}, nil
}

// PoolHandle is a borrowed reference to a store's pool. Release must be called
// on every path; it is safe to call more than once.
type PoolHandle struct {
	Pool  *pgxpool.Pool
	Store domain.StoreDescriptor

	acquireTimeout time.Duration
	once           sync.Once
	release        func()
}

func (h *PoolHandle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Conn checks out one connection, failing with ErrConnection when none frees
// up within the acquire timeout.
func (h *PoolHandle) Conn(ctx context.Context) (*pgxpool.Conn, error) {
	if h.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.acquireTimeout)
		defer cancel()
	}

	conn, err := h.Pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return conn, nil
}

// Acquire returns a handle on the pool serving the store. Shared-mode stores
// all use the shared pool and the identifier only qualifies table names.
func (r *PoolRegistry) Acquire(ctx context.Context, store domain.StoreDescriptor) (*PoolHandle, error) {
	switch store.Mode {
	case domain.StorageModeShared:
		return &PoolHandle{Pool: r.shared, Store: store, acquireTimeout: r.cfg.AcquireTimeout}, nil
	case domain.StorageModeDedicated:
	default:
		return nil, fmt.Errorf("poolRegistry.Acquire: unknown storage mode %q: %w", store.Mode, domain.ErrValidation)
	}

	if !domain.ValidIdentifier(store.Identifier) {
		return nil, fmt.Errorf("poolRegistry.Acquire: %w", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("poolRegistry.Acquire: registry closed: %w", domain.ErrConnection)
	}

	e, ok := r.dedicated[store.Identifier]
	if !ok {
		cfg := r.base.Copy()
		cfg.ConnConfig.Database = store.Identifier
		if r.cfg.TenantMaxConns > 0 {
			cfg.MaxConns = r.cfg.TenantMaxConns
		}

		// NewWithConfig does not dial, so holding the lock here is cheap.
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("poolRegistry.Acquire: %w: %w", domain.ErrConnection, err)
		}

		e = &poolEntry{pool: pool}
		r.dedicated[store.Identifier] = e

		log.Debug().Str("storage_identifier", store.Identifier).Msg("opened tenant pool")
	}

	e.refs++
	e.lastUsed = time.Now()

	return &PoolHandle{
		Pool:           e.pool,
		Store:          store,
		acquireTimeout: r.cfg.AcquireTimeout,
		release:        func() { r.release(e) },
	}, nil
}

func (r *PoolRegistry) release(e *poolEntry) {
	r.mu.Lock()
	e.refs--
	e.lastUsed = time.Now()
	closeNow := e.evicted && e.refs == 0
	r.mu.Unlock()

	if closeNow {
		e.pool.Close()
	}
}

// Shared returns the pool of the shared-schema database.
func (r *PoolRegistry) Shared() *pgxpool.Pool {
	return r.shared
}

// AdminConn opens a single connection to the bootstrap database. Database
// level DDL cannot run in a transaction block nor against its own target, so
// it never goes through a tenant pool. The caller closes the connection.
func (r *PoolRegistry) AdminConn(ctx context.Context) (*pgx.Conn, error) {
	cc := r.base.ConnConfig.Copy()
	cc.Database = r.cfg.AdminDatabase

	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("poolRegistry.AdminConn: %w", classify(err))
	}
	return conn, nil
}

// Evict forgets the cached pool for identifier so the database can be dropped
// or renamed. The pool is closed now, or when its last handle is released.
func (r *PoolRegistry) Evict(identifier string) {
	r.mu.Lock()
	e, ok := r.dedicated[identifier]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.dedicated, identifier)
	e.evicted = true
	closeNow := e.refs == 0
	r.mu.Unlock()

	if closeNow {
		e.pool.Close()
	}

	log.Debug().Str("storage_identifier", identifier).Bool("deferred", !closeNow).Msg("evicted tenant pool")
}

// SweepIdle closes dedicated pools that have had no outstanding handle for
// at least maxIdle and returns how many were closed.
func (r *PoolRegistry) SweepIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*pgxpool.Pool
	for id, e := range r.dedicated {
		if e.refs == 0 && !e.lastUsed.After(cutoff) {
			delete(r.dedicated, id)
			idle = append(idle, e.pool)
		}
	}
	r.mu.Unlock()

	for _, p := range idle {
		p.Close()
	}

	return len(idle)
}

// Len reports how many dedicated pools are cached.
func (r *PoolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dedicated)
}

func (r *PoolRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	pools := make([]*pgxpool.Pool, 0, len(r.dedicated))
	for id, e := range r.dedicated {
		delete(r.dedicated, id)
		pools = append(pools, e.pool)
	}
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
	r.shared.Close()
}
