package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	credential, err := Hash("correct horse battery staple")
	require.NoError(t, err)

	ok, err := Verify("correct horse battery staple", credential)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("wrong password", credential)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashFreshSalt(t *testing.T) {
	t.Parallel()

	first, err := Hash("s3cret")
	require.NoError(t, err)

	second, err := Hash("s3cret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	ok, err := Verify("s3cret", first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("s3cret", second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCredentialFormat(t *testing.T) {
	t.Parallel()

	credential, err := Hash("pass")
	require.NoError(t, err)

	parts := strings.Split(credential, ":")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 128) // 64-byte key, hex encoded
	assert.Len(t, parts[1], 32)  // 16-byte salt, hex encoded
}

func TestVerifyMalformedCredential(t *testing.T) {
	t.Parallel()

	_, err := Verify("pass", "no-separator")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	_, err = Verify("pass", "deadbeef:not-hex!")
	assert.ErrorIs(t, err, ErrMalformedCredential)
}
