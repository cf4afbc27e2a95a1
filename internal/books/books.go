// Package books is plain data-access glue over the book catalog.
package books

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sl "books_service/internal/lib/logger"
	"books_service/internal/models"
	"books_service/internal/storage"
)

var ErrBookNotFound = errors.New("book not found")

type BookStore interface {
	Books(ctx context.Context) ([]models.Book, error)
	Book(ctx context.Context, id string) (models.Book, error)
	SaveBook(ctx context.Context, book models.Book) (models.Book, error)
	UpdateBook(ctx context.Context, id string, book models.Book) (models.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

type Books struct {
	log   *slog.Logger
	store BookStore
}

func New(log *slog.Logger, store BookStore) *Books {
	return &Books{log: log, store: store}
}

func (b *Books) List(ctx context.Context) ([]models.Book, error) {
	const op = "books.List"

	list, err := b.store.Books(ctx)
	if err != nil {
		b.log.Error("failed to list books", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

func (b *Books) Get(ctx context.Context, id string) (models.Book, error) {
	const op = "books.Get"

	book, err := b.store.Book(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrBookNotFound) {
			return models.Book{}, ErrBookNotFound
		}

		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return book, nil
}

func (b *Books) Create(ctx context.Context, book models.Book) (models.Book, error) {
	const op = "books.Create"

	created, err := b.store.SaveBook(ctx, book)
	if err != nil {
		b.log.Error("failed to save book", slog.String("op", op), sl.Err(err))
		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (b *Books) Update(ctx context.Context, id string, book models.Book) (models.Book, error) {
	const op = "books.Update"

	updated, err := b.store.UpdateBook(ctx, id, book)
	if err != nil {
		if errors.Is(err, storage.ErrBookNotFound) {
			return models.Book{}, ErrBookNotFound
		}

		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}

func (b *Books) Delete(ctx context.Context, id string) error {
	const op = "books.Delete"

	if err := b.store.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
