// Package jwt signs, verifies and decodes the service's access and refresh
// tokens. Access and refresh are two independently configured Signer values:
// access signs with RSA when a key pair is configured and falls back to a
// shared secret, refresh always uses a shared secret. The algorithm is fixed
// once per Signer, never per call.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoKeyMaterial = errors.New("signer key material is missing")
	ErrSigningFailed = errors.New("failed to sign token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Payload is what callers sign and what a verified token yields.
type Payload struct {
	UserID    string
	SessionID string
}

// DecodedPayload is a Payload with the timestamps the signer put into the
// token, in seconds since epoch.
type DecodedPayload struct {
	Payload
	IssuedAt  int64
	ExpiresAt int64
}

type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sessionId"`
}

type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
}

// NewHS256 builds a symmetric signer over a shared secret.
func NewHS256(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoKeyMaterial
	}

	key := []byte(secret)

	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   key,
		verifyKey: key,
		ttl:       ttl,
	}, nil
}

// NewRS256 builds an asymmetric signer: the private key signs, the public
// key verifies.
func NewRS256(privateKeyPEM, publicKeyPEM []byte, ttl time.Duration) (*Signer, error) {
	const op = "jwt.NewRS256"

	if len(privateKeyPEM) == 0 || len(publicKeyPEM) == 0 {
		return nil, ErrNoKeyMaterial
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse private key: %w", op, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse public key: %w", op, err)
	}

	return &Signer{
		method:    jwt.SigningMethodRS256,
		signKey:   privateKey,
		verifyKey: publicKey,
		ttl:       ttl,
	}, nil
}

func (s *Signer) Sign(payload Payload) (string, error) {
	const op = "jwt.Sign"

	if s.signKey == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNoKeyMaterial)
	}

	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SessionID: payload.SessionID,
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrSigningFailed, err)
	}

	return signed, nil
}

// Verify checks the signature and expiry of a token and returns its payload.
// Any failure is reported as ErrInvalidToken.
func (s *Signer) Verify(token string) (Payload, error) {
	const op = "jwt.Verify"

	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}

		return s.verifyKey, nil
	})
	if err != nil {
		return Payload{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	if !parsed.Valid {
		return Payload{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return Payload{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
	}, nil
}

// Decode parses a token without checking its signature or expiry. Only for
// tokens this signer just produced, never for untrusted input.
func (s *Signer) Decode(token string) (DecodedPayload, error) {
	const op = "jwt.Decode"

	claims := &Claims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return DecodedPayload{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	decoded := DecodedPayload{
		Payload: Payload{
			UserID:    claims.Subject,
			SessionID: claims.SessionID,
		},
	}

	if claims.IssuedAt != nil {
		decoded.IssuedAt = claims.IssuedAt.Unix()
	}

	if claims.ExpiresAt != nil {
		decoded.ExpiresAt = claims.ExpiresAt.Unix()
	}

	return decoded, nil
}
