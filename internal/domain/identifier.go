package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultStoragePrefix namespaces every tenant database and schema so they can
// never collide with system databases such as "postgres" or "template1".
const DefaultStoragePrefix = "me_"

const (
	// MaxIdentifierBody bounds the part of a storage identifier after the prefix.
	MaxIdentifierBody = 50
	// MaxIdentifierLen is the PostgreSQL limit on identifier length (NAMEDATALEN-1).
	MaxIdentifierLen = 63

	maxRawIdentifierLen = 255
)

var (
	identifierPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	disallowedRunes   = regexp.MustCompile(`[^a-z0-9_]`)
)

// SanitizeIdentifier turns raw user input into a storage identifier: lowercased,
// stripped of everything outside [a-z0-9_], and carrying prefix exactly once.
// It is idempotent: feeding its output back in returns the same value.
func SanitizeIdentifier(prefix, raw string) (string, error) {
	if !ValidIdentifier(prefix) {
		return "", invalid("storage_prefix", "must match ^[a-z0-9_]+$")
	}
	if utf8.RuneCountInString(raw) > maxRawIdentifierLen {
		return "", invalid("storage_identifier", "is too long")
	}

	cleaned := disallowedRunes.ReplaceAllString(strings.ToLower(raw), "")
	body := strings.TrimPrefix(cleaned, prefix)
	if body == "" {
		return "", invalid("storage_identifier", "is empty after sanitization")
	}
	if len(body) > MaxIdentifierBody {
		return "", invalid("storage_identifier", "exceeds 50 characters")
	}

	id := prefix + body
	if len(id) > MaxIdentifierLen {
		return "", invalid("storage_identifier", "exceeds 63 characters with prefix")
	}

	return id, nil
}

// ValidIdentifier reports whether id may be interpolated into SQL as a
// database or schema name. Only sanitized identifiers pass.
func ValidIdentifier(id string) bool {
	return id != "" && len(id) <= MaxIdentifierLen && identifierPattern.MatchString(id)
}
