package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkucukkoc/google-auth-sub004/internal/limiters"
	"github.com/mkucukkoc/google-auth-sub004/internal/password"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/store"
	"github.com/mkucukkoc/google-auth-sub004/internal/token"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

type authFixture struct {
	svc      *Service
	users    *user.Directory
	sessions *session.Store
	tokens   *token.Service
	clock    *fakeClock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newAuthFixture(t *testing.T, limiter *limiters.Limiter) *authFixture {
	t.Helper()

	st := store.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	p := password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	hasher, err := password.NewHasher(p, p)
	require.NoError(t, err)

	tokens, err := token.NewService(token.Config{
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "authd",
		Audience:  "api",
		AccessTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	users := user.NewDirectory(st, nil, nil, user.Config{
		LockoutThreshold: 3,
		LockoutDuration:  30 * time.Minute,
	}).WithClock(clock.Now)
	sessions := session.NewStore(st, time.Hour).WithClock(clock.Now)

	svc := NewService(users, sessions, tokens, hasher, limiter, nil, nil, Config{
		MinPasswordLength: 8,
	}).WithClock(clock.Now)

	return &authFixture{svc: svc, users: users, sessions: sessions, tokens: tokens, clock: clock}
}

func (f *authFixture) register(t *testing.T, email, pw string) (*user.User, *TokenPair) {
	t.Helper()

	u, pair, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: pw,
		Name:     "Test User",
	})
	require.NoError(t, err)
	return u, pair
}

func TestRegisterIssuesWorkingTokens(t *testing.T) {
	f := newAuthFixture(t, nil)

	u, pair := f.register(t, "alice@example.com", "strong-password")
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := f.tokens.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID())

	sess, err := f.sessions.FindByID(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.IsLive(f.clock.Now()))
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "strong-password"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, err = f.svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	f.register(t, "bob@example.com", "strong-password")
	_, _, err = f.svc.Register(ctx, RegisterInput{Email: "BOB@example.com", Password: "strong-password"})
	assert.ErrorIs(t, err, user.ErrEmailTaken)
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.register(t, "carol@example.com", "strong-password")

	u, pair, err := f.svc.Login(context.Background(), LoginInput{
		Email:    "Carol@Example.com",
		Password: "strong-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", u.Email)
	assert.NotEmpty(t, pair.AccessToken)

	got, err := f.users.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.register(t, "dave@example.com", "strong-password")
	ctx := context.Background()

	_, _, errWrongPassword := f.svc.Login(ctx, LoginInput{Email: "dave@example.com", Password: "wrong-password"})
	_, _, errUnknownEmail := f.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever-pass"})

	assert.ErrorIs(t, errWrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknownEmail, ErrInvalidCredentials)
	assert.Equal(t, errWrongPassword.Error(), errUnknownEmail.Error())
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, _ := f.register(t, "erin@example.com", "strong-password")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The correct password is rejected while the window is active.
	_, _, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: "strong-password"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	got, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)

	// After the window lapses the account recovers on its own.
	f.clock.Advance(31 * time.Minute)
	_, _, err = f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: "strong-password"})
	require.NoError(t, err)

	got, err = f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
}

func TestLoginSuccessResetsAttemptCounter(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, _ := f.register(t, "frank@example.com", "strong-password")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		f.svc.Login(ctx, LoginInput{Email: "frank@example.com", Password: "wrong-password"})
	}
	_, _, err := f.svc.Login(ctx, LoginInput{Email: "frank@example.com", Password: "strong-password"})
	require.NoError(t, err)

	got, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
}

func TestLoginThrottle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := limiters.New(rdb, "login", nil, limiters.Config{
		EnableIdentifierThrottle: true,
		MaxAttempts:              2,
		Cooldown:                 time.Minute,
	})

	f := newAuthFixture(t, limiter)
	f.register(t, "grace@example.com", "strong-password")
	ctx := context.Background()

	f.svc.Login(ctx, LoginInput{Email: "grace@example.com", Password: "wrong-password"})
	f.svc.Login(ctx, LoginInput{Email: "grace@example.com", Password: "wrong-password"})

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "grace@example.com", Password: "strong-password"})
	assert.ErrorIs(t, err, ErrRateLimited)

	// A successful login inside a fresh window clears the budget.
	mr.FastForward(2 * time.Minute)
	_, _, err = f.svc.Login(ctx, LoginInput{Email: "grace@example.com", Password: "strong-password"})
	require.NoError(t, err)
}

func TestFederatedLogin(t *testing.T) {
	f := newAuthFixture(t, nil)
	ctx := context.Background()

	u, pair, err := f.svc.FederatedLogin(ctx, "google", "heidi@example.com", "Heidi", "", "")
	require.NoError(t, err)
	assert.True(t, u.IsEmailVerified)
	assert.NotEmpty(t, pair.AccessToken)

	// A repeat assertion reuses the account but opens a new session.
	again, pair2, err := f.svc.FederatedLogin(ctx, "google", "heidi@example.com", "Heidi", "", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.NotEqual(t, pair.RefreshToken, pair2.RefreshToken)

	active, err := f.sessions.ActiveSessionsForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRefreshRotatesSecret(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, pair := f.register(t, "ivan@example.com", "strong-password")
	ctx := context.Background()

	next, err := f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	claims, err := f.tokens.Verify(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID())

	// The consumed token is dead; the rotated one still works.
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	_, err = f.svc.Refresh(ctx, next.RefreshToken, "", "")
	require.NoError(t, err)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	f := newAuthFixture(t, nil)
	_, pair := f.register(t, "judy@example.com", "strong-password")
	ctx := context.Background()

	sid, _, ok := splitRefreshToken(pair.RefreshToken)
	require.True(t, ok)

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing separator", "justonepart"},
		{"unknown session", "no-such-session.secret"},
		{"wrong secret", sid + ".wrong-secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Refresh(ctx, tc.raw, "", "")
			assert.ErrorIs(t, err, ErrRefreshInvalid)
		})
	}
}

func TestRefreshRejectsRevokedSession(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, pair := f.register(t, "kate@example.com", "strong-password")
	ctx := context.Background()

	_, err := f.sessions.RevokeAllForUser(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

func TestRefreshRejectsExpiredSession(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.register(t, "leo@example.com", "strong-password")
	ctx := context.Background()

	_, pair, err := f.svc.Login(ctx, LoginInput{Email: "leo@example.com", Password: "strong-password"})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

func TestLogoutRevokesOnlyOneSession(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, _ := f.register(t, "mallory@example.com", "strong-password")
	ctx := context.Background()

	_, pair, err := f.svc.Login(ctx, LoginInput{Email: "mallory@example.com", Password: "strong-password"})
	require.NoError(t, err)
	claims, err := f.tokens.Verify(pair.AccessToken)
	require.NoError(t, err)

	id := Identity{UserID: u.ID, SessionID: claims.SessionID}
	require.NoError(t, f.svc.Logout(ctx, id))
	// Logout is retry-safe.
	require.NoError(t, f.svc.Logout(ctx, id))

	active, err := f.sessions.ActiveSessionsForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newAuthFixture(t, nil)
	u, _ := f.register(t, "nina@example.com", "strong-password")
	ctx := context.Background()

	f.svc.Login(ctx, LoginInput{Email: "nina@example.com", Password: "strong-password"})
	f.svc.Login(ctx, LoginInput{Email: "nina@example.com", Password: "strong-password"})

	n, err := f.svc.LogoutAll(ctx, Identity{UserID: u.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	active, err := f.sessions.ActiveSessionsForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRefreshTokenShape(t *testing.T) {
	f := newAuthFixture(t, nil)
	_, pair := f.register(t, "oscar@example.com", "strong-password")

	sid, secret, ok := splitRefreshToken(pair.RefreshToken)
	require.True(t, ok)
	assert.NotEmpty(t, sid)
	assert.NotEmpty(t, secret)
	assert.NotContains(t, secret, ".")

	sess, err := f.sessions.FindByID(context.Background(), sid)
	require.NoError(t, err)
	assert.NotEqual(t, secret, sess.RefreshTokenHash)
	assert.True(t, strings.HasPrefix(sess.RefreshTokenHash, "$argon2id$"))
}
