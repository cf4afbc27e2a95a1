// Package jwtauth gates routes behind a verified token. The access variant
// additionally checks that the token's session still exists, so logging out
// invalidates access tokens that have not yet expired by signature. The
// refresh variant checks the presented token against the session ledger
// before the rotation handler runs.
package jwtauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	resp "books_service/internal/lib/api/response"
	"books_service/internal/lib/jwt"
	sl "books_service/internal/lib/logger"

	"github.com/go-chi/render"
)

type payloadKey struct{}

type rawTokenKey struct{}

// PayloadFromContext returns the verified token payload stored by the
// middleware.
func PayloadFromContext(ctx context.Context) (jwt.Payload, bool) {
	payload, ok := ctx.Value(payloadKey{}).(jwt.Payload)
	return payload, ok
}

// RawTokenFromContext returns the raw bearer token as presented. Set only by
// the refresh variant, which needs it for the hash lookup.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(rawTokenKey{}).(string)
	return token, ok
}

type SessionValidator interface {
	ValidateSession(ctx context.Context, userID, sessionID string) error
}

type RefreshTokenValidator interface {
	ValidateRefreshToken(ctx context.Context, userID, refreshToken string) (bool, error)
}

// New verifies the access token and the liveness of its session.
func New(log *slog.Logger, signer *jwt.Signer, sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.jwtauth.New"

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r)
				return
			}

			payload, err := signer.Verify(token)
			if err != nil {
				log.Warn("invalid access token", slog.String("op", op), sl.Err(err))
				unauthorized(w, r)
				return
			}

			if err := sessions.ValidateSession(r.Context(), payload.UserID, payload.SessionID); err != nil {
				log.Warn("session revoked", slog.String("op", op), slog.String("uid", payload.UserID))
				unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), payloadKey{}, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRefresh verifies the refresh token and gates on the session ledger
// before the rotation handler runs.
func NewRefresh(log *slog.Logger, signer *jwt.Signer, refreshTokens RefreshTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.jwtauth.NewRefresh"

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r)
				return
			}

			payload, err := signer.Verify(token)
			if err != nil {
				log.Warn("invalid refresh token", slog.String("op", op), sl.Err(err))
				unauthorized(w, r)
				return
			}

			valid, err := refreshTokens.ValidateRefreshToken(r.Context(), payload.UserID, token)
			if err != nil {
				log.Error("failed to validate refresh token", slog.String("op", op), sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			if !valid {
				unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), payloadKey{}, payload)
			ctx = context.WithValue(ctx, rawTokenKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return "", false
	}

	token, found := strings.CutPrefix(authorization, "Bearer ")
	if !found || token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp.Error("Unauthorized"))
}
