package secrets_test

import (
	"testing"

	"github.com/schemaplane/schemaplane-backend/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtect_RoundTrip(t *testing.T) {
	p, err := secrets.NewAESProtector("test-key")
	require.NoError(t, err)

	sealed, err := p.Protect("db-password-123")
	require.NoError(t, err)
	assert.NotEqual(t, "db-password-123", sealed)

	plain, err := p.Unprotect(sealed)
	require.NoError(t, err)
	assert.Equal(t, "db-password-123", plain)
}

func TestProtect_RandomNonce(t *testing.T) {
	p, err := secrets.NewAESProtector("test-key")
	require.NoError(t, err)

	a, err := p.Protect("same")
	require.NoError(t, err)
	b, err := p.Protect("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two encryptions of the same value must differ")
}

func TestUnprotect_WrongKey(t *testing.T) {
	p1, err := secrets.NewAESProtector("key-one")
	require.NoError(t, err)
	p2, err := secrets.NewAESProtector("key-two")
	require.NoError(t, err)

	sealed, err := p1.Protect("secret")
	require.NoError(t, err)

	_, err = p2.Unprotect(sealed)
	assert.Error(t, err)
}

func TestUnprotect_Malformed(t *testing.T) {
	p, err := secrets.NewAESProtector("test-key")
	require.NoError(t, err)

	_, err = p.Unprotect("not base64!!!")
	assert.Error(t, err)

	_, err = p.Unprotect("c2hvcnQ=")
	assert.Error(t, err)
}

func TestNewAESProtector_EmptyKey(t *testing.T) {
	_, err := secrets.NewAESProtector("")
	assert.Error(t, err)
}
