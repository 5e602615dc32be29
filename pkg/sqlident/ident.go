// Package sqlident validates and escapes SQL identifiers used in DDL.
//
// Schema and role names cannot be bind parameters, so every identifier that
// originates from tenant input must pass Validate before it is interpolated
// into a statement, and Quote when it is.
package sqlident

import (
	"fmt"
	"strings"
)

// Kind describes what the identifier names, for error messages only.
type Kind string

const (
	KindSchema Kind = "schema"
	KindTable  Kind = "table"
	KindRole   Kind = "role"
)

// MaxLength is the PostgreSQL identifier length limit.
const MaxLength = 63

// ErrInvalidIdentifier is wrapped by all Validate failures.
var ErrInvalidIdentifier = fmt.Errorf("invalid identifier")

// Validate checks that name is a safe SQL identifier: non-empty, at most 63
// characters, `[A-Za-z_][A-Za-z0-9_]*`.
func Validate(name string, kind Kind) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is empty", ErrInvalidIdentifier, kind)
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%w: %s name %q exceeds %d characters", ErrInvalidIdentifier, kind, name, MaxLength)
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("%w: %s name %q starts with a digit", ErrInvalidIdentifier, kind, name)
			}
		default:
			return fmt.Errorf("%w: %s name %q contains disallowed character %q", ErrInvalidIdentifier, kind, name, r)
		}
	}
	return nil
}

// Escape doubles any embedded double quotes so the result is safe inside a
// quoted identifier. Validated names never contain quotes; Escape is the
// second line of defense for DDL built from stored names.
func Escape(name string) string {
	return strings.ReplaceAll(name, `"`, `""`)
}

// Quote returns the identifier escaped and wrapped in double quotes, ready
// for interpolation into DDL text.
func Quote(name string) string {
	return `"` + Escape(name) + `"`
}
