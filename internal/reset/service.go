package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/audit"
	"github.com/mkucukkoc/google-auth-sub004/internal/password"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/store"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

// CollectionName is the reset token collection in the document store.
const CollectionName = "passwordResetTokens"

const rawTokenBytes = 32

// ErrWeakPassword is returned when the replacement password fails the
// minimum-length policy.
var ErrWeakPassword = errors.New("password does not meet minimum requirements")

// Token is a single-use password reset record. Only the SHA-256 hash
// of the raw token is stored; the hash doubles as the lookup key on
// consumption, which is why it is deterministic rather than salted.
type Token struct {
	ID        string     `bson:"_id" json:"id"`
	UserID    string     `bson:"userId" json:"userId"`
	TokenHash string     `bson:"tokenHash" json:"-"`
	ExpiresAt time.Time  `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	UsedAt    *time.Time `bson:"usedAt" json:"usedAt,omitempty"`
	IPAddress string     `bson:"ipAddress,omitempty" json:"-"`
	UserAgent string     `bson:"userAgent,omitempty" json:"-"`
}

// Config holds the reset token policy.
type Config struct {
	TokenTTL          time.Duration
	MinPasswordLength int
}

// Service owns the reset token lifecycle: issued → consumed | expired,
// both terminal. Consumption revokes every session of the user so a
// stolen-credential attacker is logged out everywhere.
type Service struct {
	col      store.Collection
	users    *user.Directory
	sessions *session.Store
	hasher   *password.Hasher
	auditor  *audit.Recorder
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

// NewService wires the reset service.
func NewService(
	st store.Store,
	users *user.Directory,
	sessions *session.Store,
	hasher *password.Hasher,
	auditor *audit.Recorder,
	log *zap.Logger,
	cfg Config,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	return &Service{
		col:      st.Collection(CollectionName),
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		auditor:  auditor,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate issues a reset token for the account behind email. For an
// unknown address it returns an empty token and no error: the caller
// must answer with the same shape either way so the endpoint cannot
// be used to probe which emails have accounts. The raw token is
// returned once for out-of-band delivery and never persisted.
func (s *Service) Generate(ctx context.Context, email, ip, userAgent string) (string, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.auditor.Record(ctx, audit.Event{
				EventType: audit.EventResetRequested,
				IP:        ip,
				UserAgent: userAgent,
				Success:   false,
				Metadata:  map[string]string{"reason": "unknown_email"},
			})
			return "", nil
		}
		return "", err
	}

	raw, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now().UTC()
	tok := Token{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: hashRawToken(raw),
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}

	if err := s.col.Set(ctx, tok.ID, tok); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventResetRequested,
		UserID:    u.ID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   true,
		Metadata:  map[string]string{"token_id": tok.ID},
	})

	return raw, nil
}

// VerifyAndConsume validates the presented token and, when valid,
// installs the new password. The token is marked used before the
// password write: if the process dies in between, the worst case is a
// wasted token the user must re-request, never a replay-usable one.
// A used or expired token fails with no side effects.
func (s *Service) VerifyAndConsume(ctx context.Context, rawToken, newPassword, ip, userAgent string) (bool, error) {
	if len(newPassword) < s.cfg.MinPasswordLength {
		return false, ErrWeakPassword
	}

	var tok Token
	err := s.col.FindOne(ctx, store.Query{
		Filters: []store.Filter{
			store.Eq("tokenHash", hashRawToken(rawToken)),
			store.Eq("usedAt", nil),
		},
	}, &tok)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.rejectAudit(ctx, "", ip, userAgent, "unknown_or_used_token")
			return false, nil
		}
		return false, fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now().UTC()
	if !tok.ExpiresAt.After(now) {
		s.rejectAudit(ctx, tok.UserID, ip, userAgent, "expired_token")
		return false, nil
	}

	// Claim the token with a compare-and-set on usedAt so two
	// presenters of the same raw token can never both consume it.
	claimed, err := s.col.UpdateMany(ctx, store.Query{
		Filters: []store.Filter{
			store.Eq("_id", tok.ID),
			store.Eq("usedAt", nil),
		},
	}, map[string]any{"usedAt": now})
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	if claimed == 0 {
		s.rejectAudit(ctx, tok.UserID, ip, userAgent, "unknown_or_used_token")
		return false, nil
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return false, fmt.Errorf("hash new password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, tok.UserID, hash); err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}

	revoked, err := s.sessions.RevokeAllForUser(ctx, tok.UserID)
	if err != nil {
		// The password already changed; the caller still gets success,
		// and the stale sessions are surfaced loudly for follow-up.
		s.log.Error("session revocation after password reset failed",
			zap.String("user_id", tok.UserID),
			zap.Error(err),
		)
	}

	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventResetCompleted,
		UserID:    tok.UserID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   true,
		Metadata: map[string]string{
			"token_id":         tok.ID,
			"sessions_revoked": fmt.Sprintf("%d", revoked),
		},
	})

	return true, nil
}

// CleanupExpired deletes every token past its expiry and returns the
// count removed. Idempotent; intended for a periodic sweep.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.col.DeleteMany(ctx, store.Query{
		Filters: []store.Filter{
			{Field: "expiresAt", Op: store.OpLt, Value: s.now().UTC()},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup reset tokens: %w", err)
	}
	if n > 0 {
		s.auditor.Record(ctx, audit.Event{
			EventType: audit.EventResetTokensPurged,
			Success:   true,
			Metadata:  map[string]string{"removed": fmt.Sprintf("%d", n)},
		})
	}
	return n, nil
}

// ActiveTokensForUser lists unconsumed, unexpired tokens for
// diagnostics and request throttling. Never use it for a security
// decision; consumption goes through VerifyAndConsume only.
func (s *Service) ActiveTokensForUser(ctx context.Context, userID string) ([]Token, error) {
	var tokens []Token
	err := s.col.Find(ctx, store.Query{
		Filters: []store.Filter{
			store.Eq("userId", userID),
			store.Eq("usedAt", nil),
			{Field: "expiresAt", Op: store.OpGt, Value: s.now().UTC()},
		},
		OrderBy: "createdAt",
		Desc:    true,
	}, &tokens)
	if err != nil {
		return nil, fmt.Errorf("list reset tokens: %w", err)
	}
	return tokens, nil
}

func (s *Service) rejectAudit(ctx context.Context, userID, ip, userAgent, reason string) {
	s.auditor.Record(ctx, audit.Event{
		EventType: audit.EventResetRejected,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   false,
		Metadata:  map[string]string{"reason": reason},
	})
}

func randomToken() (string, error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRawToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
