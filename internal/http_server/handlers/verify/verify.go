package verify

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
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Code string `json:"code" validate:"required"`
}

type Response struct {
	resp.Response
	User models.PublicUser `json:"user"`
}

// New consumes a verification code for the authenticated user.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verify.New"

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

		user, err := authService.VerifyEmail(r.Context(), payload.UserID, req.Code)
		if err != nil {
			if errors.Is(err, auth.ErrVerificationNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Verification code not found"))

				return
			}

			log.Error("failed to verify email", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("email verified", slog.String("uid", user.ID))

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     user,
		})
	}
}

// NewResend issues a fresh verification code for the authenticated user.
func NewResend(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verify.NewResend"

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

		if err := authService.CreateVerification(r.Context(), payload.UserID); err != nil {
			switch {
			case errors.Is(err, auth.ErrUserNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("User not found"))
			case errors.Is(err, auth.ErrAlreadyVerified):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("User already verified"))
			default:
				log.Error("failed to create verification", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("verification email resent", slog.String("uid", payload.UserID))

		render.JSON(w, r, resp.OK())
	}
}
