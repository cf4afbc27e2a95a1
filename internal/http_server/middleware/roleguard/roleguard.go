// Package roleguard forbids a route unless the caller's persisted role
// carries the required bit. The role is re-fetched per request, so a
// revocation takes effect on the very next call.
package roleguard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"books_service/internal/auth"
	"books_service/internal/http_server/middleware/jwtauth"
	resp "books_service/internal/lib/api/response"
	sl "books_service/internal/lib/logger"
	"books_service/internal/roles"

	"github.com/go-chi/render"
)

type RoleChecker interface {
	IsRole(ctx context.Context, userID string, needle roles.Role) (bool, error)
}

func New(log *slog.Logger, checker RoleChecker, needle roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.roleguard.New"

			payload, ok := jwtauth.PayloadFromContext(r.Context())
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Unauthorized"))

				return
			}

			hasRole, err := checker.IsRole(r.Context(), payload.UserID, needle)
			if err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("Unauthorized"))

					return
				}

				log.Error("failed to check role", slog.String("op", op), sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			if !hasRole {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Forbidden"))

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
