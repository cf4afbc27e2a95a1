package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"books_service/internal/auth"
	"books_service/internal/books"
	"books_service/internal/config"
	bookshandler "books_service/internal/http_server/handlers/books"
	"books_service/internal/http_server/handlers/login"
	"books_service/internal/http_server/handlers/logout"
	"books_service/internal/http_server/handlers/me"
	"books_service/internal/http_server/handlers/refresh"
	"books_service/internal/http_server/handlers/register"
	"books_service/internal/http_server/handlers/role"
	"books_service/internal/http_server/handlers/verify"
	"books_service/internal/http_server/middleware/jwtauth"
	"books_service/internal/http_server/middleware/ratelimit"
	"books_service/internal/http_server/middleware/roleguard"
	jwtlib "books_service/internal/lib/jwt"
	sl "books_service/internal/lib/logger"
	"books_service/internal/rabbitmq"
	"books_service/internal/roles"
	"books_service/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting books service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer msgBroker.Close()

	accessSigner, err := newAccessSigner(cfg)
	if err != nil {
		log.Error("failed to build access signer", sl.Err(err))
		os.Exit(1)
	}

	refreshSigner, err := jwtlib.NewHS256(cfg.Tokens.RefreshTokenSecret, cfg.Tokens.RefreshTokenTTL)
	if err != nil {
		log.Error("failed to build refresh signer", sl.Err(err))
		os.Exit(1)
	}

	authService := auth.New(log, storage, storage, storage, storage, msgBroker, accessSigner, refreshSigner)
	booksService := books.New(log, storage)

	router := setupRouter(log, authService, booksService, accessSigner, refreshSigner)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", sl.Err(err))
	} else {
		log.Info("server stopped gracefully")
	}
}

// newAccessSigner is asymmetric when both key files are configured and
// falls back to the shared secret otherwise. Decided once, not per call.
func newAccessSigner(cfg *config.Config) (*jwtlib.Signer, error) {
	if cfg.Tokens.AccessPrivateKeyFile != "" && cfg.Tokens.AccessPublicKeyFile != "" {
		privateKey, err := os.ReadFile(cfg.Tokens.AccessPrivateKeyFile)
		if err != nil {
			return nil, err
		}

		publicKey, err := os.ReadFile(cfg.Tokens.AccessPublicKeyFile)
		if err != nil {
			return nil, err
		}

		return jwtlib.NewRS256(privateKey, publicKey, cfg.Tokens.AccessTokenTTL)
	}

	return jwtlib.NewHS256(cfg.Tokens.AccessTokenSecret, cfg.Tokens.AccessTokenTTL)
}

func setupRouter(
	log *slog.Logger,
	authService *auth.Auth,
	booksService *books.Books,
	accessSigner *jwtlib.Signer,
	refreshSigner *jwtlib.Signer,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()

	authMW := jwtauth.New(log, accessSigner, authService)
	refreshMW := jwtauth.NewRefresh(log, refreshSigner, authService)
	adminMW := roleguard.New(log, authService, roles.Admin)

	r.Route("/users", func(r chi.Router) {
		r.With(ratelimit.Register()).Post("/register", register.New(log, validate, authService))
		r.With(ratelimit.Login()).Post("/login", login.New(log, validate, authService))
		r.With(ratelimit.Refresh(), refreshMW).Post("/refresh", refresh.New(log, authService))
		r.With(ratelimit.Verify(), authMW).Post("/verify", verify.New(log, validate, authService))
		r.With(ratelimit.ResendVerification(), authMW).Post("/verify/resend", verify.NewResend(log, authService))
		r.With(ratelimit.Logout(), authMW).Post("/logout", logout.New(log, authService))
		r.With(ratelimit.Logout(), authMW).Post("/logout-all", logout.NewAll(log, authService))
		r.With(authMW).Get("/me", me.New(log, authService))
		r.With(authMW, adminMW).Put("/{id}/role", role.New(log, validate, authService))
	})

	r.Route("/books", func(r chi.Router) {
		r.Get("/", bookshandler.NewList(log, booksService))
		r.Get("/{id}", bookshandler.NewGet(log, booksService))
		r.With(authMW, adminMW).Post("/", bookshandler.NewCreate(log, validate, booksService))
		r.With(authMW, adminMW).Put("/{id}", bookshandler.NewUpdate(log, validate, booksService))
		r.With(authMW, adminMW).Delete("/{id}", bookshandler.NewDelete(log, booksService))
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
