package logout

import (
	"log/slog"
	"net/http"

	"books_service/internal/auth"
	"books_service/internal/http_server/middleware/jwtauth"
	resp "books_service/internal/lib/api/response"
	sl "books_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// New deletes the caller's current session. Deleting an already-deleted
// session still answers 204.
func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		payload, ok := jwtauth.PayloadFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		if err := authService.Logout(r.Context(), payload.UserID, payload.SessionID); err != nil {
			log.Error("failed to logout user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("user logged out")

		render.NoContent(w, r)
	}
}

// NewAll deletes every session of the caller.
func NewAll(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.NewAll"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		payload, ok := jwtauth.PayloadFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		if err := authService.LogoutAll(r.Context(), payload.UserID); err != nil {
			log.Error("failed to logout user from all sessions", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("user logged out everywhere")

		render.NoContent(w, r)
	}
}
