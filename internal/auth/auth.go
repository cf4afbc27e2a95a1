package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"books_service/internal/lib/jwt"
	sl "books_service/internal/lib/logger"
	"books_service/internal/lib/password"
	"books_service/internal/models"
	"books_service/internal/roles"
	"books_service/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyVerified      = errors.New("user already verified")
	ErrVerificationNotFound = errors.New("verification code not found")
	ErrInvalidRole          = errors.New("invalid role")
)

type UserSaver interface {
	SaveUser(ctx context.Context, email, username, passHash string) (models.User, error)
	UpdateRole(ctx context.Context, id string, role roles.Role) (models.User, error)
}

type UserProvider interface {
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
}

type SessionStore interface {
	UpsertSession(ctx context.Context, session models.Session) error
	Session(ctx context.Context, userID, sessionID, refreshTokenHash string) (models.Session, error)
	SessionByTokenHash(ctx context.Context, userID, refreshTokenHash string) (models.Session, error)
	SessionExists(ctx context.Context, userID, sessionID string) (bool, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

type VerificationStore interface {
	CreateVerification(ctx context.Context, userID, token string) (models.EmailVerification, error)
	ConsumeVerification(ctx context.Context, userID, token string) (models.User, error)
}

type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
}

// Auth composes the stores, the password hasher and the two token signers
// into the register / login / refresh / logout / verify use cases. It is
// stateless between calls; all durable state lives in the stores.
type Auth struct {
	log           *slog.Logger
	usrSaver      UserSaver
	usrProvider   UserProvider
	sessions      SessionStore
	verifications VerificationStore
	emailSender   EmailSender
	accessSigner  *jwt.Signer
	refreshSigner *jwt.Signer
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessions SessionStore,
	verifications VerificationStore,
	emailSender EmailSender,
	accessSigner *jwt.Signer,
	refreshSigner *jwt.Signer,
) *Auth {
	return &Auth{
		log:           log,
		usrSaver:      userSaver,
		usrProvider:   userProvider,
		sessions:      sessions,
		verifications: verifications,
		emailSender:   emailSender,
		accessSigner:  accessSigner,
		refreshSigner: refreshSigner,
	}
}

// Register creates a user with the default role and an unverified email,
// then issues a verification code. The uniqueness of email and username is
// enforced by the store's constraints, not by a pre-check.
func (a *Auth) Register(ctx context.Context, email, username, pass string) (models.PublicUser, error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	passHash, err := password.Hash(pass)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrSaver.SaveUser(ctx, email, username, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return models.PublicUser{}, ErrUserExists
		}

		log.Error("failed to save user", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.CreateVerification(ctx, user.ID); err != nil {
		log.Error("failed to create verification", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("uid", user.ID))

	return user.Public(), nil
}

// CreateVerification issues a fresh verification code for an unverified
// user and hands it to the email collaborator. A delivery failure is logged
// but does not fail the operation: the code row already exists.
func (a *Auth) CreateVerification(ctx context.Context, userID string) error {
	const op = "auth.CreateVerification"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}

		log.Error("failed to load user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsVerified {
		return ErrAlreadyVerified
	}

	code, err := verificationCode()
	if err != nil {
		log.Error("failed to generate verification code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	verification, err := a.verifications.CreateVerification(ctx, userID, code)
	if err != nil {
		log.Error("failed to save verification code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.emailSender.SendVerificationEmail(ctx, user.Email, verification.Token); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
	}

	return nil
}

// VerifyEmail consumes the presented code: the user becomes verified and
// every outstanding code of that user is deleted in the same logical step.
func (a *Auth) VerifyEmail(ctx context.Context, userID, token string) (models.PublicUser, error) {
	const op = "auth.VerifyEmail"

	log := a.log.With(slog.String("op", op))

	user, err := a.verifications.ConsumeVerification(ctx, userID, token)
	if err != nil {
		if errors.Is(err, storage.ErrVerificationNotFound) {
			log.Warn("verification code not found", slog.String("uid", userID))
			return models.PublicUser{}, ErrVerificationNotFound
		}

		log.Error("failed to consume verification", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.String("uid", user.ID))

	return user.Public(), nil
}

// Login checks the credentials and mints a token pair under a new session.
// A missing user and a wrong password are indistinguishable to the caller.
func (a *Auth) Login(ctx context.Context, username, pass string) (models.TokenPair, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return models.TokenPair{}, ErrInvalidCredentials
		}

		log.Error("failed to load user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := password.Verify(pass, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		log.Info("invalid credentials")
		return models.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := a.GenerateTokens(ctx, user.ID, "")
	if err != nil {
		return models.TokenPair{}, err
	}

	log.Info("user logged in", slog.String("uid", user.ID))

	return pair, nil
}

// GenerateTokens signs an access/refresh pair over (user, session) and
// upserts the session row with the hash of the new refresh token. An empty
// sessionID mints a fresh one. The returned expiry is read back from the
// signed access token, so it always matches what verification will see.
func (a *Auth) GenerateTokens(ctx context.Context, userID, sessionID string) (models.TokenPair, error) {
	const op = "auth.GenerateTokens"

	log := a.log.With(slog.String("op", op))

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	payload := jwt.Payload{UserID: userID, SessionID: sessionID}

	accessToken, err := a.accessSigner.Sign(payload)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := a.refreshSigner.Sign(payload)
	if err != nil {
		log.Error("failed to sign refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	decodedAccess, err := a.accessSigner.Decode(accessToken)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	decodedRefresh, err := a.refreshSigner.Decode(refreshToken)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	session := models.Session{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: hashRefreshToken(refreshToken),
		ExpiresAt:        time.Unix(decodedRefresh.ExpiresAt, 0),
	}

	if err := a.sessions.UpsertSession(ctx, session); err != nil {
		log.Error("failed to upsert session", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    decodedAccess.ExpiresAt,
	}, nil
}

// Refresh rotates the session: the presented refresh token must hash to the
// session's current stored hash, and on success the stored hash and expiry
// are overwritten by a fresh pair under the same session id. The old token
// is unusable afterwards. An expired session row is deleted on presentation.
func (a *Auth) Refresh(ctx context.Context, userID, refreshToken, sessionID string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	session, err := a.sessions.Session(ctx, userID, sessionID, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Warn("session not found", slog.String("uid", userID))
			return models.TokenPair{}, ErrInvalidCredentials
		}

		log.Error("failed to load session", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if time.Now().After(session.ExpiresAt) {
		log.Warn("session expired", slog.String("uid", userID))

		if err := a.sessions.DeleteSession(ctx, userID, sessionID); err != nil {
			log.Error("failed to delete expired session", sl.Err(err))
		}

		return models.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := a.GenerateTokens(ctx, userID, session.ID)
	if err != nil {
		return models.TokenPair{}, err
	}

	log.Info("tokens rotated", slog.String("uid", userID))

	return pair, nil
}

// ValidateRefreshToken is the read-only gate used before rotation. It never
// rotates; expired rows are still lazily deleted.
func (a *Auth) ValidateRefreshToken(ctx context.Context, userID, refreshToken string) (bool, error) {
	const op = "auth.ValidateRefreshToken"

	log := a.log.With(slog.String("op", op))

	session, err := a.sessions.SessionByTokenHash(ctx, userID, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}

		log.Error("failed to load session", sl.Err(err))
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if time.Now().After(session.ExpiresAt) {
		if err := a.sessions.DeleteSession(ctx, userID, session.ID); err != nil {
			log.Error("failed to delete expired session", sl.Err(err))
		}

		return false, nil
	}

	return true, nil
}

// ValidateSession authorizes use of an access token: a logged-out session
// invalidates every access token carrying its id, even before they expire
// by signature.
func (a *Auth) ValidateSession(ctx context.Context, userID, sessionID string) error {
	const op = "auth.ValidateSession"

	exists, err := a.sessions.SessionExists(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return ErrInvalidCredentials
	}

	return nil
}

// Logout deletes one session. Deleting a session that does not exist is not
// an error.
func (a *Auth) Logout(ctx context.Context, userID, sessionID string) error {
	const op = "auth.Logout"

	if err := a.sessions.DeleteSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged out", slog.String("op", op), slog.String("uid", userID))

	return nil
}

// LogoutAll deletes every session of the user.
func (a *Auth) LogoutAll(ctx context.Context, userID string) error {
	const op = "auth.LogoutAll"

	if err := a.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged out everywhere", slog.String("op", op), slog.String("uid", userID))

	return nil
}

// Me returns the public profile projection.
func (a *Auth) Me(ctx context.Context, userID string) (models.PublicUser, error) {
	const op = "auth.Me"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.PublicUser{}, ErrUserNotFound
		}

		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Public(), nil
}

// UpdateRole overwrites the user's role bitmask after validating it against
// the defined role bits.
func (a *Auth) UpdateRole(ctx context.Context, userID string, role roles.Role) (models.PublicUser, error) {
	const op = "auth.UpdateRole"

	log := a.log.With(slog.String("op", op))

	if !role.Valid() {
		return models.PublicUser{}, ErrInvalidRole
	}

	user, err := a.usrSaver.UpdateRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.PublicUser{}, ErrUserNotFound
		}

		log.Error("failed to update role", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("role updated", slog.String("uid", userID), slog.Int("role", int(role)))

	return user.Public(), nil
}

// IsRole re-checks the persisted role against a required bit. Roles are
// never trusted from token claims, so revocation takes effect on the next
// authorized call.
func (a *Auth) IsRole(ctx context.Context, userID string, needle roles.Role) (bool, error) {
	const op = "auth.IsRole"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return false, ErrUserNotFound
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return user.Role.Has(needle), nil
}

// hashRefreshToken is a one-way digest of the raw refresh token; only this
// digest is ever persisted.
func hashRefreshToken(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// verificationCode returns a short random hex code, lower-cased so
// comparison is case-insensitive.
func verificationCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
