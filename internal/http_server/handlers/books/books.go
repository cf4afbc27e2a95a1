package books

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"books_service/internal/books"
	resp "books_service/internal/lib/api/response"
	sl "books_service/internal/lib/logger"
	"books_service/internal/models"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Request struct {
	Title           string   `json:"title" validate:"required"`
	Author          string   `json:"author" validate:"required"`
	PublicationDate string   `json:"publication_date" validate:"required"`
	Genres          []string `json:"genres" validate:"required"`
}

type Response struct {
	resp.Response
	Book models.Book `json:"book"`
}

type ListResponse struct {
	resp.Response
	Books []models.Book `json:"books"`
}

func NewList(log *slog.Logger, booksService *books.Books) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.books.NewList"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		list, err := booksService.List(r.Context())
		if err != nil {
			log.Error("failed to list books", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, ListResponse{
			Response: resp.OK(),
			Books:    list,
		})
	}
}

func NewGet(log *slog.Logger, booksService *books.Books) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.books.NewGet"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		bookID, ok := bookIDParam(w, r)
		if !ok {
			return
		}

		book, err := booksService.Get(r.Context(), bookID)
		if err != nil {
			if errors.Is(err, books.ErrBookNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Book not found"))

				return
			}

			log.Error("failed to get book", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Book:     book,
		})
	}
}

func NewCreate(log *slog.Logger, validate *validator.Validate, booksService *books.Books) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.books.NewCreate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		book, ok := decodeBook(w, r, log, validate)
		if !ok {
			return
		}

		created, err := booksService.Create(r.Context(), book)
		if err != nil {
			log.Error("failed to create book", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("book created", slog.String("id", created.ID))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response: resp.OK(),
			Book:     created,
		})
	}
}

func NewUpdate(log *slog.Logger, validate *validator.Validate, booksService *books.Books) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.books.NewUpdate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		bookID, ok := bookIDParam(w, r)
		if !ok {
			return
		}

		book, ok := decodeBook(w, r, log, validate)
		if !ok {
			return
		}

		updated, err := booksService.Update(r.Context(), bookID, book)
		if err != nil {
			if errors.Is(err, books.ErrBookNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Book not found"))

				return
			}

			log.Error("failed to update book", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Book:     updated,
		})
	}
}

func NewDelete(log *slog.Logger, booksService *books.Books) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.books.NewDelete"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		bookID, ok := bookIDParam(w, r)
		if !ok {
			return
		}

		if err := booksService.Delete(r.Context(), bookID); err != nil {
			log.Error("failed to delete book", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.NoContent(w, r)
	}
}

func bookIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	bookID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(bookID); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error("Invalid book id"))

		return "", false
	}

	return bookID, true
}

func decodeBook(w http.ResponseWriter, r *http.Request, log *slog.Logger, validate *validator.Validate) (models.Book, bool) {
	var req Request

	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		log.Error("failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error("Failed to decode request"))

		return models.Book{}, false
	}

	if err := validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		errors.As(err, &validateErr)

		log.Error("invalid request", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.ValidationError(validateErr))

		return models.Book{}, false
	}

	publicationDate, err := parseDate(req.PublicationDate)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error("Invalid publication date"))

		return models.Book{}, false
	}

	return models.Book{
		Title:           req.Title,
		Author:          req.Author,
		PublicationDate: publicationDate,
		Genres:          req.Genres,
	}, true
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02", value)
}
