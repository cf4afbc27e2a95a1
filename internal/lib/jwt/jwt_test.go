package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify_HS256(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256("test-secret", time.Hour)
	require.NoError(t, err)

	payload := Payload{UserID: "user-123", SessionID: "session-456"}

	token, err := signer.Sign(payload)
	require.NoError(t, err)

	got, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSignAndVerify_RS256(t *testing.T) {
	t.Parallel()

	privatePEM, publicPEM := generateKeyPair(t)

	signer, err := NewRS256(privatePEM, publicPEM, time.Hour)
	require.NoError(t, err)

	payload := Payload{UserID: "user-123", SessionID: "session-456"}

	token, err := signer.Sign(payload)
	require.NoError(t, err)

	got, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256("test-secret", -time.Minute)
	require.NoError(t, err)

	token, err := signer.Sign(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256("right-secret", time.Hour)
	require.NoError(t, err)

	other, err := NewHS256("wrong-secret", time.Hour)
	require.NoError(t, err)

	token, err := signer.Sign(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256("secret", time.Hour)
	require.NoError(t, err)

	_, err = signer.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_AlgorithmConfusion(t *testing.T) {
	t.Parallel()

	privatePEM, publicPEM := generateKeyPair(t)

	rsaSigner, err := NewRS256(privatePEM, publicPEM, time.Hour)
	require.NoError(t, err)

	hsSigner, err := NewHS256("secret", time.Hour)
	require.NoError(t, err)

	token, err := hsSigner.Sign(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = rsaSigner.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	ttl := time.Hour
	signer, err := NewHS256("secret", ttl)
	require.NoError(t, err)

	before := time.Now()
	token, err := signer.Sign(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	decoded, err := signer.Decode(token)
	require.NoError(t, err)

	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, "s1", decoded.SessionID)
	assert.GreaterOrEqual(t, decoded.IssuedAt, before.Unix())
	assert.Equal(t, decoded.IssuedAt+int64(ttl.Seconds()), decoded.ExpiresAt)
}

func TestNew_MissingKeyMaterial(t *testing.T) {
	t.Parallel()

	_, err := NewHS256("", time.Hour)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)

	_, err = NewRS256(nil, nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func generateKeyPair(t *testing.T) (privatePEM, publicPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	publicPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	return privatePEM, publicPEM
}
