package migration

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
)

// lockKeyFor derives a stable advisory lock key from a schema name.
func lockKeyFor(schemaName string) int64 {
	h := fnv.New64a()
	h.Write([]byte("schemaplane:migrate:" + schemaName))
	return int64(h.Sum64())
}

// acquireSchemaLock takes a session-level advisory lock keyed by the schema
// name, serializing migration runs for one tenant across callers. The lock is
// held on a dedicated connection so pool reuse cannot hand it to another
// session; the returned release func unlocks and returns the connection.
func acquireSchemaLock(ctx context.Context, db *database.DB, schemaName string) (release func(), err error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for migration lock: %w", err)
	}

	key := lockKeyFor(schemaName)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire migration lock for schema %s: %w", schemaName, err)
	}

	return func() {
		// Unlock with a fresh context: the caller's may already be canceled.
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Close()
	}, nil
}
