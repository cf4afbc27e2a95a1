package role

import (
	"errors"
	"log/slog"
	"net/http"

	"books_service/internal/auth"
	resp "books_service/internal/lib/api/response"
	sl "books_service/internal/lib/logger"
	"books_service/internal/models"
	"books_service/internal/roles"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Request struct {
	Role roles.Role `json:"role"`
}

type Response struct {
	resp.Response
	User models.PublicUser `json:"user"`
}

// New overwrites a user's role bitmask. Admin-guarded at the router.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.role.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID := chi.URLParam(r, "id")
		if _, err := uuid.Parse(userID); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Invalid user id"))

			return
		}

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			errors.As(err, &validateErr)

			log.Error("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		user, err := authService.UpdateRole(r.Context(), userID, req.Role)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidRole):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid role"))
			case errors.Is(err, auth.ErrUserNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("User not found"))
			default:
				log.Error("failed to update role", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("role updated", slog.String("uid", user.ID))

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     user,
		})
	}
}
