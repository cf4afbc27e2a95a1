package refresh

import (
	"errors"
	"log/slog"
	"net/http"

	"books_service/internal/auth"
	"books_service/internal/http_server/middleware/jwtauth"
	resp "books_service/internal/lib/api/response"
	sl "books_service/internal/lib/logger"
	"books_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	models.TokenPair
}

// New rotates the caller's session. It runs behind the refresh-token
// middleware, which has already verified the token signature and gated it
// against the session ledger.
func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

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

		rawToken, ok := jwtauth.RawTokenFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		tokens, err := authService.Refresh(r.Context(), payload.UserID, rawToken, payload.SessionID)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid credentials"))

				return
			}

			log.Error("failed to refresh tokens", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("tokens refreshed")

		render.JSON(w, r, Response{
			Response:  resp.OK(),
			TokenPair: tokens,
		})
	}
}
