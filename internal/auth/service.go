package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/audit"
	"github.com/mkucukkoc/google-auth-sub004/internal/limiters"
	"github.com/mkucukkoc/google-auth-sub004/internal/password"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/token"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password
	// alike, so responses do not reveal which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is returned when the login throttle trips.
	ErrRateLimited = errors.New("too many attempts")
	// ErrRefreshInvalid is the uniform rejection for refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrWeakPassword is returned when a registration password fails
	// the minimum-length policy.
	ErrWeakPassword = errors.New("password does not meet minimum requirements")
	// ErrInvalidEmail is returned for syntactically hopeless addresses.
	ErrInvalidEmail = errors.New("invalid email address")
)

const refreshSecretBytes = 32

// Identity is the minimal authenticated identity attached to a
// request after middleware checks pass.
type Identity struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	SessionID string `json:"-"`
}

// TokenPair is issued at login and on refresh. The refresh token is
// opaque: session id and secret joined by a dot, with only the
// argon2 hash of the secret stored server-side.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Config holds auth policy knobs.
type Config struct {
	MinPasswordLength int
}

// Service orchestrates registration, login, refresh, and logout across
// the user directory, session store, token service, and audit trail.
type Service struct {
	users        *user.Directory
	sessions     *session.Store
	tokens       *token.Service
	hasher       *password.Hasher
	loginLimiter *limiters.Limiter
	auditor      *audit.Recorder
	log          *zap.Logger
	cfg          Config
	now          func() time.Time
}

// NewService wires the auth service. loginLimiter may be nil when no
// Redis is configured.
func NewService(
	users *user.Directory,
	sessions *session.Store,
	tokens *token.Service,
	hasher *password.Hasher,
	loginLimiter *limiters.Limiter,
	auditor *audit.Recorder,
	log *zap.Logger,
	cfg Config,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	return &Service{
		users:        users,
		sessions:     sessions,
		tokens:       tokens,
		hasher:       hasher,
		loginLimiter: loginLimiter,
		auditor:      auditor,
		log:          log,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterInput is the input for Register.
type RegisterInput struct {
	Email     string
	Password  string
	Name      string
	IP        string
	UserAgent string
}

// Register creates a local-credential account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, *TokenPair, error) {
	email := user.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, nil, ErrInvalidEmail
	}
	if len(in.Password) < s.cfg.MinPasswordLength {
		return nil, nil, ErrWeakPassword
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateInput{
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
	})
	if err != nil {
		return nil, nil, err
	}

	pair, _, err := s.openSession(ctx, u, in.IP, in.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventRegister,
		UserID:    u.ID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Success:   true,
	})

	return u, pair, nil
}

// LoginInput is the input for Login.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Login verifies credentials and issues a session plus token pair.
// The lockout check runs before password verification, so a correct
// password is still rejected while the window is active.
func (s *Service) Login(ctx context.Context, in LoginInput) (*user.User, *TokenPair, error) {
	email := user.NormalizeEmail(in.Email)

	if err := s.loginLimiter.Allow(ctx, email, in.IP); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			return nil, nil, ErrRateLimited
		}
		return nil, nil, err
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Burn a hash anyway so unknown emails cost the same as
			// wrong passwords.
			_ = s.hasher.VerifyPassword(in.Password, "")
			s.failAudit(ctx, "", in, "unknown_email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if u.IsLocked(s.now()) {
		s.auditor.Record(ctx, audit.Event{
			EventType: audit.EventAccountLocked,
			UserID:    u.ID,
			IP:        in.IP,
			UserAgent: in.UserAgent,
			Success:   false,
			Metadata:  map[string]string{"locked_until": u.LockedUntil.UTC().Format(time.RFC3339)},
		})
		return nil, nil, ErrAccountLocked
	}

	if u.PasswordHash == "" || !s.hasher.VerifyPassword(in.Password, u.PasswordHash) {
		updated, incErr := s.users.IncrementFailedAttempts(ctx, u.ID)
		if incErr != nil {
			s.log.Error("failed-attempt accounting failed",
				zap.String("user_id", u.ID),
				zap.Error(incErr),
			)
		} else if updated.LockedUntil != nil {
			s.auditor.Record(ctx, audit.Event{
				EventType: audit.EventAccountLocked,
				UserID:    u.ID,
				IP:        in.IP,
				UserAgent: in.UserAgent,
				Success:   false,
				Metadata:  map[string]string{"attempts": fmt.Sprintf("%d", updated.FailedLoginAttempts)},
			})
		}
		s.failAudit(ctx, u.ID, in, "wrong_password")
		return nil, nil, ErrInvalidCredentials
	}

	if err := s.users.ResetFailedAttempts(ctx, u.ID); err != nil {
		s.log.Error("failed-attempt reset failed",
			zap.String("user_id", u.ID),
			zap.Error(err),
		)
	}
	s.loginLimiter.Reset(ctx, email)

	pair, sess, err := s.openSession(ctx, u, in.IP, in.UserAgent)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		UserID:    u.ID,
		SessionID: sess.ID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Success:   true,
	})

	return u, pair, nil
}

// FederatedLogin completes an upstream-verified identity assertion
// (Google/Apple). Protocol handling happens upstream; only account
// linking and session issuance live here.
func (s *Service) FederatedLogin(ctx context.Context, provider, email, name, ip, userAgent string) (*user.User, *TokenPair, error) {
	if provider == "" {
		return nil, nil, errors.New("provider is required")
	}

	u, err := s.users.CreateFederated(ctx, provider, email, name)
	if err != nil {
		return nil, nil, err
	}

	pair, sess, err := s.openSession(ctx, u, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventFederatedLink,
		UserID:    u.ID,
		SessionID: sess.ID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   true,
		Metadata:  map[string]string{"provider": provider},
	})

	return u, pair, nil
}

// Refresh consumes a refresh token, rotates the stored secret, and
// issues a fresh token pair. Every failure maps to ErrRefreshInvalid.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*TokenPair, error) {
	sid, secret, ok := splitRefreshToken(refreshToken)
	if !ok {
		return nil, ErrRefreshInvalid
	}

	sess, err := s.sessions.FindByID(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if !sess.IsLive(s.now()) {
		return nil, ErrRefreshInvalid
	}
	if sess.RefreshTokenHash == "" || !s.hasher.VerifyToken(secret, sess.RefreshTokenHash) {
		s.auditor.Record(ctx, audit.Event{
			EventType: audit.EventTokenRefresh,
			UserID:    sess.UserID,
			SessionID: sess.ID,
			IP:        ip,
			UserAgent: userAgent,
			Success:   false,
			Metadata:  map[string]string{"reason": "secret_mismatch"},
		})
		return nil, ErrRefreshInvalid
	}

	u, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	if u.IsLocked(s.now()) {
		return nil, ErrAccountLocked
	}

	newSecret, newHash, err := s.mintRefreshSecret()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RotateRefreshHash(ctx, sess.ID, newHash); err != nil {
		return nil, err
	}

	access, err := s.tokens.Issue(u.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventTokenRefresh,
		UserID:    u.ID,
		SessionID: sess.ID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: joinRefreshToken(sess.ID, newSecret),
	}, nil
}

// Logout revokes the session named by the identity. Idempotent.
func (s *Service) Logout(ctx context.Context, id Identity) error {
	if err := s.sessions.Revoke(ctx, id.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventLogout,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every live session of the user.
func (s *Service) LogoutAll(ctx context.Context, id Identity) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, id.UserID)
	if err != nil {
		return 0, err
	}
	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventLogoutAll,
		UserID:    id.UserID,
		Success:   true,
		Metadata:  map[string]string{"revoked": fmt.Sprintf("%d", n)},
	})
	return n, nil
}

func (s *Service) openSession(ctx context.Context, u *user.User, ip, userAgent string) (*TokenPair, *session.Session, error) {
	secret, hash, err := s.mintRefreshSecret()
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.sessions.Create(ctx, u.ID, session.CreateInput{
		IP:               ip,
		UserAgent:        userAgent,
		RefreshTokenHash: hash,
	})
	if err != nil {
		return nil, nil, err
	}

	access, err := s.tokens.Issue(u.ID, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: joinRefreshToken(sess.ID, secret),
	}, sess, nil
}

func (s *Service) mintRefreshSecret() (secret, hash string, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", "", fmt.Errorf("mint refresh secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	hash, err = s.hasher.HashToken(secret)
	if err != nil {
		return "", "", fmt.Errorf("hash refresh secret: %w", err)
	}
	return secret, hash, nil
}

func (s *Service) failAudit(ctx context.Context, userID string, in LoginInput, reason string) {
	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventLoginFailure,
		UserID:    userID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Success:   false,
		Metadata:  map[string]string{"reason": reason},
	})
}

func joinRefreshToken(sessionID, secret string) string {
	return sessionID + "." + secret
}

func splitRefreshToken(raw string) (sessionID, secret string, ok bool) {
	idx := strings.IndexByte(raw, '.')
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}
