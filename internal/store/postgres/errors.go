package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosuda/bazaar/internal/domain"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation   = "23505"
	codeDuplicateDatabase = "42P04"
	codeDuplicateSchema   = "42P06"
	codeUndefinedTable    = "42P01"
	codeInvalidCatalog    = "3D000" // database does not exist
	codeInvalidSchema     = "3F000" // schema does not exist
	codeTooManyConns      = "53300"
	codeObjectInUse       = "55006"
)

// classify maps a pgx error onto the domain taxonomy. The original error stays
// in the chain for logging; callers decide what to expose.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation,
			pgErr.Code == codeDuplicateDatabase,
			pgErr.Code == codeDuplicateSchema:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case pgErr.Code == codeInvalidCatalog,
			pgErr.Code == codeInvalidSchema,
			pgErr.Code == codeUndefinedTable:
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "28"),
			pgErr.Code == codeTooManyConns:
			return fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	return err
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
