package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"books_service/internal/config"
	"books_service/internal/models"
	"books_service/internal/roles"
	"books_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func runMigrations(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	return goose.Up(db, "migrations")
}

func (r *PostgresRepo) SaveUser(ctx context.Context, email, username, passHash string) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, username, password_hash, is_verified, role, created_at;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email, username, passHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByUsername(ctx context.Context, username string) (models.User, error) {
	const op = "storage.postgres.UserByUsername"

	query := `
		SELECT id, email, username, password_hash, is_verified, role, created_at
		FROM users
		WHERE username = $1;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT id, email, username, password_hash, is_verified, role, created_at
		FROM users
		WHERE id = $1;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UpdateRole(ctx context.Context, id string, role roles.Role) (models.User, error) {
	const op = "storage.postgres.UpdateRole"

	query := `
		UPDATE users
		SET role = $2
		WHERE id = $1
		RETURNING id, email, username, password_hash, is_verified, role, created_at;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UpsertSession writes the current refresh-token hash and expiry for a
// session, inserting the row on first use and overwriting it on rotation.
// The conflict target is the unique (user_id, id) constraint, so concurrent
// rotations of the same session cannot produce two rows.
func (r *PostgresRepo) UpsertSession(ctx context.Context, session models.Session) error {
	const op = "storage.postgres.UpsertSession"

	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, id) DO UPDATE
		SET refresh_token_hash = EXCLUDED.refresh_token_hash,
		    expires_at = EXCLUDED.expires_at;
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Session(ctx context.Context, userID, sessionID, refreshTokenHash string) (models.Session, error) {
	const op = "storage.postgres.Session"

	query := `
		SELECT id, user_id, refresh_token_hash, expires_at, created_at
		FROM sessions
		WHERE user_id = $1 AND id = $2 AND refresh_token_hash = $3;
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, userID, sessionID, refreshTokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, storage.ErrSessionNotFound
		}

		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

func (r *PostgresRepo) SessionByTokenHash(ctx context.Context, userID, refreshTokenHash string) (models.Session, error) {
	const op = "storage.postgres.SessionByTokenHash"

	query := `
		SELECT id, user_id, refresh_token_hash, expires_at, created_at
		FROM sessions
		WHERE user_id = $1 AND refresh_token_hash = $2;
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, userID, refreshTokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, storage.ErrSessionNotFound
		}

		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

func (r *PostgresRepo) SessionExists(ctx context.Context, userID, sessionID string) (bool, error) {
	const op = "storage.postgres.SessionExists"

	query := `SELECT EXISTS (SELECT 1 FROM sessions WHERE user_id = $1 AND id = $2);`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

func (r *PostgresRepo) DeleteSession(ctx context.Context, userID, sessionID string) error {
	const op = "storage.postgres.DeleteSession"

	query := `DELETE FROM sessions WHERE user_id = $1 AND id = $2;`

	if _, err := r.pool.Exec(ctx, query, userID, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) DeleteUserSessions(ctx context.Context, userID string) error {
	const op = "storage.postgres.DeleteUserSessions"

	query := `DELETE FROM sessions WHERE user_id = $1;`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) CreateVerification(ctx context.Context, userID, token string) (models.EmailVerification, error) {
	const op = "storage.postgres.CreateVerification"

	query := `
		INSERT INTO email_verifications (user_id, token)
		VALUES ($1, $2)
		RETURNING id, user_id, token, created_at;
	`

	var v models.EmailVerification
	err := r.pool.QueryRow(ctx, query, userID, token).Scan(&v.ID, &v.UserID, &v.Token, &v.CreatedAt)
	if err != nil {
		return models.EmailVerification{}, fmt.Errorf("%s: %w", op, err)
	}

	return v, nil
}

// ConsumeVerification matches the presented code (case-insensitively)
// against the user's outstanding verification rows, marks the user verified
// and deletes all of the user's rows in one transaction. A concurrent
// double-submission sees the rows already gone and gets
// storage.ErrVerificationNotFound.
func (r *PostgresRepo) ConsumeVerification(ctx context.Context, userID, token string) (models.User, error) {
	const op = "storage.postgres.ConsumeVerification"

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updateQuery := `
		UPDATE users
		SET is_verified = TRUE
		FROM email_verifications
		WHERE users.id = $1
		  AND email_verifications.user_id = users.id
		  AND lower(email_verifications.token) = lower($2)
		RETURNING users.id, users.email, users.username, users.password_hash,
		          users.is_verified, users.role, users.created_at;
	`

	u, err := scanUser(tx.QueryRow(ctx, updateQuery, userID, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrVerificationNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	deleteQuery := `DELETE FROM email_verifications WHERE user_id = $1;`

	tag, err := tx.Exec(ctx, deleteQuery, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return models.User{}, storage.ErrVerificationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) Books(ctx context.Context) ([]models.Book, error) {
	const op = "storage.postgres.Books"

	query := `
		SELECT id, title, author, publication_date, genres, created_at
		FROM books
		ORDER BY created_at;
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	books := []models.Book{}

	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		books = append(books, b)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}

	return books, nil
}

func (r *PostgresRepo) Book(ctx context.Context, id string) (models.Book, error) {
	const op = "storage.postgres.Book"

	query := `
		SELECT id, title, author, publication_date, genres, created_at
		FROM books
		WHERE id = $1;
	`

	b, err := scanBook(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Book{}, storage.ErrBookNotFound
		}

		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (r *PostgresRepo) SaveBook(ctx context.Context, book models.Book) (models.Book, error) {
	const op = "storage.postgres.SaveBook"

	query := `
		INSERT INTO books (title, author, publication_date, genres)
		VALUES ($1, $2, $3, $4)
		RETURNING id, title, author, publication_date, genres, created_at;
	`

	b, err := scanBook(r.pool.QueryRow(ctx, query, book.Title, book.Author, book.PublicationDate, book.Genres))
	if err != nil {
		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (r *PostgresRepo) UpdateBook(ctx context.Context, id string, book models.Book) (models.Book, error) {
	const op = "storage.postgres.UpdateBook"

	query := `
		UPDATE books
		SET title = $2, author = $3, publication_date = $4, genres = $5
		WHERE id = $1
		RETURNING id, title, author, publication_date, genres, created_at;
	`

	b, err := scanBook(r.pool.QueryRow(ctx, query, id, book.Title, book.Author, book.PublicationDate, book.Genres))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Book{}, storage.ErrBookNotFound
		}

		return models.Book{}, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (r *PostgresRepo) DeleteBook(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteBook"

	query := `DELETE FROM books WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PassHash,
		&u.IsVerified,
		&u.Role,
		&u.CreatedAt,
	)

	return u, err
}

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.ExpiresAt,
		&s.CreatedAt,
	)

	return s, err
}

func scanBook(row pgx.Row) (models.Book, error) {
	var b models.Book

	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.PublicationDate,
		&b.Genres,
		&b.CreatedAt,
	)

	return b, err
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
