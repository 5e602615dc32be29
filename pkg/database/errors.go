package database

import (
	"errors"

	"github.com/lib/pq"
	apperrors "github.com/schemaplane/schemaplane-backend/pkg/errors"
)

// PostgreSQL error codes relevant to schema lifecycle DDL.
const (
	pqDuplicateSchema   = "42P06"
	pqInvalidSchemaName = "3F000"
	pqUndefinedTable    = "42P01"
	pqUniqueViolation   = "23505"
	pqQueryCanceled     = "57014"
)

// IsDuplicateSchema reports whether err is a CREATE SCHEMA conflict.
func IsDuplicateSchema(err error) bool {
	return hasPQCode(err, pqDuplicateSchema)
}

// IsInvalidSchema reports whether err references a schema that does not exist.
func IsInvalidSchema(err error) bool {
	return hasPQCode(err, pqInvalidSchemaName)
}

// IsUndefinedTable reports whether err references a table that does not exist.
func IsUndefinedTable(err error) bool {
	return hasPQCode(err, pqUndefinedTable)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasPQCode(err, pqUniqueViolation)
}

func hasPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	return false
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no dedicated mapping.
func MapPQError(err error) *apperrors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case pqDuplicateSchema:
		return apperrors.Conflict("schema already exists")

	case pqInvalidSchemaName:
		return apperrors.NotFound("schema")

	case pqUndefinedTable:
		return apperrors.NotFound("table")

	case pqUniqueViolation:
		return apperrors.Conflict("a record with these values already exists")

	case pqQueryCanceled:
		return apperrors.Wrap(err, "TIMEOUT", "statement canceled", 504)

	default:
		return nil
	}
}
