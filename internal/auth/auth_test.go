package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"books_service/internal/lib/jwt"
	"books_service/internal/models"
	"books_service/internal/roles"
	"books_service/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu            sync.Mutex
	users         map[string]models.User
	sessions      map[string]models.Session
	verifications []models.EmailVerification
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]models.User{},
		sessions: map[string]models.Session{},
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

func (f *fakeStore) SaveUser(_ context.Context, email, username, passHash string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email || u.Username == username {
			return models.User{}, storage.ErrUserExists
		}
	}

	u := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  username,
		PassHash:  passHash,
		Role:      roles.User,
		CreatedAt: time.Now(),
	}
	f.users[u.ID] = u

	return u, nil
}

func (f *fakeStore) UpdateRole(_ context.Context, id string, role roles.Role) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	u.Role = role
	f.users[id] = u

	return u, nil
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeStore) UserByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, nil
}

func (f *fakeStore) UpsertSession(_ context.Context, session models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[sessionKey(session.UserID, session.ID)] = session

	return nil
}

func (f *fakeStore) Session(_ context.Context, userID, sessionID, refreshTokenHash string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[sessionKey(userID, sessionID)]
	if !ok || s.RefreshTokenHash != refreshTokenHash {
		return models.Session{}, storage.ErrSessionNotFound
	}

	return s, nil
}

func (f *fakeStore) SessionByTokenHash(_ context.Context, userID, refreshTokenHash string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.UserID == userID && s.RefreshTokenHash == refreshTokenHash {
			return s, nil
		}
	}

	return models.Session{}, storage.ErrSessionNotFound
}

func (f *fakeStore) SessionExists(_ context.Context, userID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.sessions[sessionKey(userID, sessionID)]

	return ok, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.sessions, sessionKey(userID, sessionID))

	return nil
}

func (f *fakeStore) DeleteUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, key)
		}
	}

	return nil
}

func (f *fakeStore) CreateVerification(_ context.Context, userID, token string) (models.EmailVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := models.EmailVerification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		CreatedAt: time.Now(),
	}
	f.verifications = append(f.verifications, v)

	return v, nil
}

func (f *fakeStore) ConsumeVerification(_ context.Context, userID, token string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := false
	for _, v := range f.verifications {
		if v.UserID == userID && strings.EqualFold(v.Token, token) {
			matched = true
			break
		}
	}

	if !matched {
		return models.User{}, storage.ErrVerificationNotFound
	}

	u, ok := f.users[userID]
	if !ok {
		return models.User{}, storage.ErrVerificationNotFound
	}

	u.IsVerified = true
	f.users[userID] = u

	remaining := f.verifications[:0]
	for _, v := range f.verifications {
		if v.UserID != userID {
			remaining = append(remaining, v)
		}
	}
	f.verifications = remaining

	return u, nil
}

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []models.EmailMessage
}

func (f *fakeEmailSender) SendVerificationEmail(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, models.EmailMessage{Email: email, Token: token})

	return nil
}

func (f *fakeEmailSender) last(t *testing.T) models.EmailMessage {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.sent)

	return f.sent[len(f.sent)-1]
}

type testEnv struct {
	auth          *Auth
	store         *fakeStore
	emails        *fakeEmailSender
	refreshSigner *jwt.Signer
}

func newTestEnv(t *testing.T, refreshTTL time.Duration) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	accessSigner, err := jwt.NewHS256("access-secret", 15*time.Minute)
	require.NoError(t, err)

	refreshSigner, err := jwt.NewHS256("refresh-secret", refreshTTL)
	require.NoError(t, err)

	store := newFakeStore()
	emails := &fakeEmailSender{}

	return &testEnv{
		auth:          New(log, store, store, store, store, emails, accessSigner, refreshSigner),
		store:         store,
		emails:        emails,
		refreshSigner: refreshSigner,
	}
}

func (e *testEnv) register(t *testing.T, username string) models.PublicUser {
	t.Helper()

	user, err := e.auth.Register(context.Background(), username+"@example.com", username, "password-"+username)
	require.NoError(t, err)

	return user
}

func TestRegister(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)

	user := env.register(t, "alice")

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, roles.User, user.Role)
	assert.False(t, user.IsVerified)

	msg := env.emails.last(t)
	assert.Equal(t, "alice@example.com", msg.Email)
	assert.Len(t, msg.Token, 6)
	assert.Equal(t, strings.ToLower(msg.Token), msg.Token)
}

func TestRegister_Duplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)

	env.register(t, "alice")

	_, err := env.auth.Register(context.Background(), "alice@example.com", "alice", "other-password")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Greater(t, pair.ExpiresAt, time.Now().Unix())
}

func TestLogin_FailuresIndistinguishable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	env.register(t, "alice")

	_, wrongPass := env.auth.Login(context.Background(), "alice", "wrong-password")
	_, noUser := env.auth.Login(context.Background(), "nobody", "password-alice")

	assert.ErrorIs(t, wrongPass, ErrInvalidCredentials)
	assert.ErrorIs(t, noUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPass, noUser)
}

func TestGenerateTokens_ExpiryMatchesToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	pair, err := env.auth.GenerateTokens(context.Background(), user.ID, "")
	require.NoError(t, err)

	decoded, err := env.refreshSigner.Decode(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, decoded.ExpiresAt, pair.ExpiresAt)

	// the session row holds the hash of the refresh token, never the raw one
	decodedRefresh, err := env.refreshSigner.Decode(pair.RefreshToken)
	require.NoError(t, err)

	session, err := env.store.SessionByTokenHash(context.Background(), user.ID, hashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, decodedRefresh.SessionID, session.ID)
	assert.NotContains(t, session.RefreshTokenHash, pair.RefreshToken)
}

func TestRefresh_RotationIsSingleUse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	decoded, err := env.refreshSigner.Decode(pair.RefreshToken)
	require.NoError(t, err)
	sessionID := decoded.SessionID

	rotated, err := env.auth.Refresh(context.Background(), user.ID, pair.RefreshToken, sessionID)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// the rotated pair stays bound to the same session
	decodedRotated, err := env.refreshSigner.Decode(rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sessionID, decodedRotated.SessionID)

	// the original token is now unusable
	_, err = env.auth.Refresh(context.Background(), user.ID, pair.RefreshToken, sessionID)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// the fresh one still works
	_, err = env.auth.Refresh(context.Background(), user.ID, rotated.RefreshToken, sessionID)
	assert.NoError(t, err)
}

func TestRefresh_ExpiredSessionIsDeleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, -time.Minute)
	user := env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	decoded, err := env.refreshSigner.Decode(pair.RefreshToken)
	require.NoError(t, err)

	_, err = env.auth.Refresh(context.Background(), user.ID, pair.RefreshToken, decoded.SessionID)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	exists, err := env.store.SessionExists(context.Background(), user.ID, decoded.SessionID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidateRefreshToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	valid, err := env.auth.ValidateRefreshToken(context.Background(), user.ID, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = env.auth.ValidateRefreshToken(context.Background(), user.ID, "garbage")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateRefreshToken_ExpiredSessionIsDeleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, -time.Minute)
	user := env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	valid, err := env.auth.ValidateRefreshToken(context.Background(), user.ID, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, valid)

	decoded, err := env.refreshSigner.Decode(pair.RefreshToken)
	require.NoError(t, err)

	exists, err := env.store.SessionExists(context.Background(), user.ID, decoded.SessionID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	pair, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)

	decoded, err := env.refreshSigner.Decode(pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, env.auth.ValidateSession(context.Background(), user.ID, decoded.SessionID))

	require.NoError(t, env.auth.Logout(context.Background(), user.ID, decoded.SessionID))

	err = env.auth.ValidateSession(context.Background(), user.ID, decoded.SessionID)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// logging out an already-deleted session is not an error
	assert.NoError(t, env.auth.Logout(context.Background(), user.ID, decoded.SessionID))
}

func TestLogoutAll_KeepsOtherUsers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	alicePair1, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)
	alicePair2, err := env.auth.Login(context.Background(), "alice", "password-alice")
	require.NoError(t, err)
	bobPair, err := env.auth.Login(context.Background(), "bob", "password-bob")
	require.NoError(t, err)

	require.NoError(t, env.auth.LogoutAll(context.Background(), alice.ID))

	for _, token := range []string{alicePair1.RefreshToken, alicePair2.RefreshToken} {
		decoded, err := env.refreshSigner.Decode(token)
		require.NoError(t, err)

		err = env.auth.ValidateSession(context.Background(), alice.ID, decoded.SessionID)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	decodedBob, err := env.refreshSigner.Decode(bobPair.RefreshToken)
	require.NoError(t, err)
	assert.NoError(t, env.auth.ValidateSession(context.Background(), bob.ID, decodedBob.SessionID))
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	code := env.emails.last(t).Token

	// codes match case-insensitively
	verified, err := env.auth.VerifyEmail(context.Background(), user.ID, strings.ToUpper(code))
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	// all outstanding codes were consumed
	_, err = env.auth.VerifyEmail(context.Background(), user.ID, code)
	assert.ErrorIs(t, err, ErrVerificationNotFound)
}

func TestCreateVerification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	require.NoError(t, env.auth.CreateVerification(context.Background(), user.ID))

	code := env.emails.last(t).Token
	_, err := env.auth.VerifyEmail(context.Background(), user.ID, code)
	require.NoError(t, err)

	err = env.auth.CreateVerification(context.Background(), user.ID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	err = env.auth.CreateVerification(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateRole(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	updated, err := env.auth.UpdateRole(context.Background(), user.ID, roles.Admin|roles.User)
	require.NoError(t, err)
	assert.Equal(t, roles.Admin|roles.User, updated.Role)

	isAdmin, err := env.auth.IsRole(context.Background(), user.ID, roles.Admin)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isUser, err := env.auth.IsRole(context.Background(), user.ID, roles.User)
	require.NoError(t, err)
	assert.True(t, isUser)

	_, err = env.auth.UpdateRole(context.Background(), user.ID, 0b100)
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.auth.UpdateRole(context.Background(), uuid.NewString(), roles.Admin)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMe(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, time.Hour)
	user := env.register(t, "alice")

	got, err := env.auth.Me(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = env.auth.Me(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
