package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bazaar/internal/domain"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Pool       PoolConfig
	Storage    StorageConfig
	Catalog    CatalogConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	S3         S3Config
	Log        LogConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings. DBName is the control
// plane; tenant pools reuse the same server and credentials with their own
// database name.
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string //nolint:gosec // G117: DB connection config
	DBName         string
	SharedDBName   string
	AdminDBName    string
	SSLMode        string
	MaxConns       int
	TenantMaxConns int
	AcquireTimeout time.Duration
}

// PoolConfig tunes the tenant pool registry. IdleEvict of zero disables the
// idle sweep.
type PoolConfig struct {
	IdleEvict time.Duration
}

// StorageConfig holds tenant storage naming.
type StorageConfig struct {
	Prefix string
}

// CatalogConfig holds global listing settings.
type CatalogConfig struct {
	AggregateParallelism int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds the key used to verify tokens issued by the auth service.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// S3Config locates the image bucket. An empty Bucket disables image cleanup.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string //nolint:gosec // G117: object storage credential config
	PathStyle bool
}

// LogConfig holds logger settings. Format "text" selects the console writer.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("BAZAAR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("BAZAAR_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tenantMaxConns, err := getEnvInt("BAZAAR_DB_TENANT_MAX_CONNS", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	acquireTimeout, err := getEnvDuration("BAZAAR_DB_ACQUIRE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	idleEvict, err := getEnvDuration("BAZAAR_POOL_IDLE_EVICT", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	parallelism, err := getEnvInt("BAZAAR_AGGREGATE_PARALLELISM", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("BAZAAR_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("BAZAAR_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("BAZAAR_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pathStyle, err := getEnvBool("BAZAAR_S3_PATH_STYLE", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("BAZAAR_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("BAZAAR_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:           getEnv("BAZAAR_DB_HOST", "localhost"),
			Port:           dbPort,
			User:           getEnv("BAZAAR_DB_USER", "bazaar"),
			Password:       getEnv("BAZAAR_DB_PASSWORD", ""),
			DBName:         getEnv("BAZAAR_DB_NAME", "bazaar"),
			SharedDBName:   getEnv("BAZAAR_DB_SHARED_NAME", "microempresas"),
			AdminDBName:    getEnv("BAZAAR_DB_ADMIN_NAME", "postgres"),
			SSLMode:        getEnv("BAZAAR_DB_SSLMODE", "disable"),
			MaxConns:       dbMaxConns,
			TenantMaxConns: tenantMaxConns,
			AcquireTimeout: acquireTimeout,
		},
		Pool: PoolConfig{
			IdleEvict: idleEvict,
		},
		Storage: StorageConfig{
			Prefix: getEnv("BAZAAR_STORAGE_PREFIX", domain.DefaultStoragePrefix),
		},
		Catalog: CatalogConfig{
			AggregateParallelism: parallelism,
		},
		Redis: RedisConfig{
			Addr:     getEnv("BAZAAR_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("BAZAAR_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("BAZAAR_JWT_SECRET", ""),
		},
		Server: ServerConfig{
			Addr:         getEnv("BAZAAR_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		S3: S3Config{
			Endpoint:  getEnv("BAZAAR_S3_ENDPOINT", ""),
			Bucket:    getEnv("BAZAAR_S3_BUCKET", ""),
			Region:    getEnv("BAZAAR_S3_REGION", "us-east-1"),
			AccessKey: getEnv("BAZAAR_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BAZAAR_S3_SECRET_KEY", ""),
			PathStyle: pathStyle,
		},
		Log: LogConfig{
			Level:  getEnv("BAZAAR_LOG_LEVEL", "info"),
			Format: getEnv("BAZAAR_LOG_FORMAT", "json"),
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("BAZAAR_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("BAZAAR_JWT_SECRET must be at least 32 characters")
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("BAZAAR_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("BAZAAR_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BAZAAR_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Database.TenantMaxConns < 1 {
		return fmt.Errorf("BAZAAR_DB_TENANT_MAX_CONNS must be >= 1, got %d", c.Database.TenantMaxConns)
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("BAZAAR_DB_ACQUIRE_TIMEOUT must be positive, got %s", c.Database.AcquireTimeout)
	}
	if !domain.ValidIdentifier(c.Database.SharedDBName) {
		return fmt.Errorf("BAZAAR_DB_SHARED_NAME must match ^[a-z0-9_]+$, got %q", c.Database.SharedDBName)
	}
	if c.Pool.IdleEvict < 0 {
		return fmt.Errorf("BAZAAR_POOL_IDLE_EVICT must not be negative, got %s", c.Pool.IdleEvict)
	}
	// The prefix must leave room for a full identifier body.
	if !domain.ValidIdentifier(c.Storage.Prefix) || len(c.Storage.Prefix)+domain.MaxIdentifierBody > domain.MaxIdentifierLen {
		return fmt.Errorf("BAZAAR_STORAGE_PREFIX must match ^[a-z0-9_]+$ and be at most %d characters, got %q",
			domain.MaxIdentifierLen-domain.MaxIdentifierBody, c.Storage.Prefix)
	}
	if c.Catalog.AggregateParallelism < 1 {
		return fmt.Errorf("BAZAAR_AGGREGATE_PARALLELISM must be >= 1, got %d", c.Catalog.AggregateParallelism)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BAZAAR_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BAZAAR_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	_, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("BAZAAR_LOG_LEVEL: %w", err)
	}

	return nil
}

// DSN returns the PostgreSQL connection string for the control plane.
func (c *DatabaseConfig) DSN() string {
	return c.dsnFor(c.DBName)
}

// SharedDSN returns the connection string of the shared-schema database. The
// pool registry derives every dedicated tenant database from it.
func (c *DatabaseConfig) SharedDSN() string {
	return c.dsnFor(c.SharedDBName)
}

func (c *DatabaseConfig) dsnFor(dbname string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, dbname, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
