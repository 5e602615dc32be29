package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRewriter(t *testing.T) *Rewriter {
	t.Helper()
	r, err := NewRewriter("public", "schema_migrations")
	require.NoError(t, err)
	return r
}

func TestRewrite_PrependsSearchPath(t *testing.T) {
	r := newTestRewriter(t)

	out, err := r.Rewrite(`CREATE TABLE items (id uuid PRIMARY KEY);`, "tenant_acme")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `SET LOCAL search_path TO "tenant_acme";`),
		"rewritten script must start with the tenant search path, got: %s", out)
	assert.Contains(t, out, "CREATE TABLE items")
}

func TestRewrite_StripsCreateSchemaBlocks(t *testing.T) {
	r := newTestRewriter(t)

	script := `CREATE SCHEMA IF NOT EXISTS "public";
CREATE TABLE items (id uuid PRIMARY KEY);
`
	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.NotContains(t, out, "CREATE SCHEMA")
	assert.Contains(t, out, "CREATE TABLE items")
}

func TestRewrite_StripsUnquotedCreateSchema(t *testing.T) {
	r := newTestRewriter(t)

	script := "CREATE SCHEMA public;\nCREATE TABLE items (id uuid PRIMARY KEY);"
	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.NotContains(t, out, "CREATE SCHEMA")
}

func TestRewrite_QualifiesHistoryTable(t *testing.T) {
	r := newTestRewriter(t)

	script := `CREATE TABLE items (id uuid PRIMARY KEY);
INSERT INTO "schema_migrations" (migration_id, product_version) VALUES ('001_init', '1.0');`

	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.Contains(t, out, `INSERT INTO "tenant_acme"."schema_migrations"`)
	assert.NotContains(t, out, `INSERT INTO "schema_migrations"`)
}

func TestRewrite_RetargetsPlaceholderQualifiedHistory(t *testing.T) {
	r := newTestRewriter(t)

	script := `INSERT INTO "public"."schema_migrations" (migration_id, product_version) VALUES ('001_init', '1.0');`

	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.Contains(t, out, `"tenant_acme"."schema_migrations"`)
	assert.NotContains(t, out, `"public"."schema_migrations"`)
}

func TestRewrite_RetargetsPlaceholderQualifiedObjects(t *testing.T) {
	r := newTestRewriter(t)

	script := `ALTER TABLE "public"."items" ADD COLUMN sku text;`

	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.Contains(t, out, `ALTER TABLE "tenant_acme"."items"`)
	assert.NotContains(t, out, `"public".`)
}

func TestRewrite_LeavesUnrelatedSQLAlone(t *testing.T) {
	r := newTestRewriter(t)

	// Identifiers that merely contain the history table name must not change.
	script := `CREATE TABLE "schema_migrations_audit" (id int);
COMMENT ON TABLE "schema_migrations_audit" IS 'not the history table';`

	out, err := r.Rewrite(script, "tenant_acme")
	require.NoError(t, err)

	assert.Contains(t, out, `"schema_migrations_audit"`)
	assert.NotContains(t, out, `"tenant_acme"."schema_migrations_audit"`)
}

func TestRewrite_RejectsInvalidTargetSchema(t *testing.T) {
	r := newTestRewriter(t)

	_, err := r.Rewrite("SELECT 1;", `x"; DROP SCHEMA public; --`)
	assert.Error(t, err)
}

func TestRewrite_RejectsEmptyScript(t *testing.T) {
	r := newTestRewriter(t)

	_, err := r.Rewrite("   \n", "tenant_acme")
	assert.Error(t, err)
}

// Contract test: the full generated-script shape the generator emits today.
// If the generator changes shape, this must fail loudly rather than let a
// half-rewritten script reach a tenant schema.
func TestRewrite_GeneratedScriptContract(t *testing.T) {
	r := newTestRewriter(t)

	script := `CREATE SCHEMA IF NOT EXISTS "public";
CREATE TABLE "public"."items" (
	id uuid PRIMARY KEY,
	name text NOT NULL
);
CREATE INDEX idx_items_name ON "public"."items" (name);
INSERT INTO "public"."schema_migrations" (migration_id, product_version)
VALUES ('001_create_items', '1.0');
`

	out, err := r.Rewrite(script, "tenant_t1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `SET LOCAL search_path TO "tenant_t1";`))
	assert.NotContains(t, out, "CREATE SCHEMA")
	assert.NotContains(t, out, `"public"`)
	assert.Contains(t, out, `CREATE TABLE "tenant_t1"."items"`)
	assert.Contains(t, out, `ON "tenant_t1"."items"`)
	assert.Contains(t, out, `INSERT INTO "tenant_t1"."schema_migrations"`)
}
