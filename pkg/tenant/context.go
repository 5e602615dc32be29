// Package tenant carries the ambient tenant identity through a logical
// operation (HTTP request, migration task, background job).
//
// The tenant context is an immutable value attached to a context.Context.
// It is set once at the start of an operation and travels with the operation's
// context; when the operation's context is done the tenant identity goes with
// it, so nothing can leak into the next operation sharing a pooled connection.
package tenant

import (
	"context"
	"errors"
)

// Context identifies the tenant an operation runs as. Immutable once created.
type Context struct {
	ID     string
	Schema string
}

type ctxKey struct{}

// ErrNoTenantInContext is returned when tenant context is missing
var ErrNoTenantInContext = errors.New("no tenant in context")

// WithContext attaches a tenant context to ctx. The returned context is what
// every database call for this operation must use.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// Detach returns a context with no tenant attached. Control-plane operations
// (registry reads, schema DDL) use it so they run against the default search
// path rather than whichever tenant happens to be ambient.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, Context{})
}

// FromContext extracts the tenant context.
// Returns ErrNoTenantInContext if none is set.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	if !ok || tc.Schema == "" {
		return Context{}, ErrNoTenantInContext
	}
	return tc, nil
}

// Schema extracts the tenant schema name from ctx.
// This is what the connection router reads before every command.
func Schema(ctx context.Context) (string, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return tc.Schema, nil
}

// SchemaOrDefault returns the ambient tenant schema, or def when no tenant is
// set. Never fails; used on the command hot path.
func SchemaOrDefault(ctx context.Context, def string) string {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	if !ok || tc.Schema == "" {
		return def
	}
	return tc.Schema
}

// ID extracts the tenant ID from ctx.
func ID(ctx context.Context) (string, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return tc.ID, nil
}
