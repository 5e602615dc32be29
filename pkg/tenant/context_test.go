package tenant_test

import (
	"context"
	"testing"

	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_Missing(t *testing.T) {
	_, err := tenant.FromContext(context.Background())
	assert.ErrorIs(t, err, tenant.ErrNoTenantInContext)
}

func TestWithContext_RoundTrip(t *testing.T) {
	ctx := tenant.WithContext(context.Background(), tenant.Context{
		ID:     "t1",
		Schema: "tenant_t1",
	})

	tc, err := tenant.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", tc.ID)
	assert.Equal(t, "tenant_t1", tc.Schema)

	schema, err := tenant.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant_t1", schema)

	id, err := tenant.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestDetach_RemovesTenant(t *testing.T) {
	ctx := tenant.WithContext(context.Background(), tenant.Context{ID: "t1", Schema: "tenant_t1"})
	ctx = tenant.Detach(ctx)

	_, err := tenant.FromContext(ctx)
	assert.ErrorIs(t, err, tenant.ErrNoTenantInContext)
	assert.Equal(t, "public", tenant.SchemaOrDefault(ctx, "public"))
}

func TestSchemaOrDefault(t *testing.T) {
	assert.Equal(t, "public", tenant.SchemaOrDefault(context.Background(), "public"))

	ctx := tenant.WithContext(context.Background(), tenant.Context{ID: "t2", Schema: "tenant_t2"})
	assert.Equal(t, "tenant_t2", tenant.SchemaOrDefault(ctx, "public"))
}
