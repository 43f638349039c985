package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkucukkoc/google-auth-sub004/internal/store"
)

// CollectionName is the sessions collection in the document store.
const CollectionName = "sessions"

// ErrNotFound is returned when no session matches the lookup.
var ErrNotFound = errors.New("session not found")

// Store tracks issued sessions. Revocation marks the record instead
// of deleting it so the audit trail survives; physical removal only
// happens through the retention sweep after expiry.
type Store struct {
	col store.Collection
	ttl time.Duration
	now func() time.Time
}

// NewStore wires a Store over the given document store. ttl is the
// session lifetime applied at creation.
func NewStore(st store.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{
		col: st.Collection(CollectionName),
		ttl: ttl,
		now: time.Now,
	}
}

// WithClock overrides the store clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateInput carries optional metadata recorded on a new session.
type CreateInput struct {
	IP               string
	UserAgent        string
	RefreshTokenHash string
}

// Create issues a new session for the user.
func (s *Store) Create(ctx context.Context, userID string, in CreateInput) (*Session, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	now := s.now().UTC()
	sess := Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: in.RefreshTokenHash,
		IP:               in.IP,
		UserAgent:        in.UserAgent,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	if err := s.col.Set(ctx, sess.ID, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// FindByID loads a session regardless of its live state; callers
// decide with IsLive.
func (s *Store) FindByID(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.col.Get(ctx, id, &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

// Revoke marks a single session dead. Revoking an already-revoked
// session is a no-op, which keeps logout retry-safe.
func (s *Store) Revoke(ctx context.Context, id string) error {
	sess, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if sess.RevokedAt != nil {
		return nil
	}

	if err := s.col.Update(ctx, id, map[string]any{"revokedAt": s.now().UTC()}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every unrevoked session the user had at
// call time and returns how many were touched. Sessions created
// strictly after the call completes are allowed to survive; the
// operation only has to be complete over sessions that existed when
// it started.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.col.UpdateMany(ctx, store.Query{
		Filters: []store.Filter{
			store.Eq("userId", userID),
			store.Eq("revokedAt", nil),
		},
	}, map[string]any{"revokedAt": s.now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}
	return n, nil
}

// RotateRefreshHash replaces the stored refresh token hash, used when
// a refresh token is consumed and reissued.
func (s *Store) RotateRefreshHash(ctx context.Context, id, newHash string) error {
	if err := s.col.Update(ctx, id, map[string]any{"refreshTokenHash": newHash}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("rotate refresh hash: %w", err)
	}
	return nil
}

// ActiveSessionsForUser lists the user's live sessions, newest first.
func (s *Store) ActiveSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.col.Find(ctx, store.Query{
		Filters: []store.Filter{
			store.Eq("userId", userID),
			store.Eq("revokedAt", nil),
			{Field: "expiresAt", Op: store.OpGt, Value: s.now().UTC()},
		},
		OrderBy: "createdAt",
		Desc:    true,
	}, &sessions)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// PurgeExpired is the retention sweep: it deletes sessions whose
// expiry has passed, revoked or not, and returns the count removed.
// Safe to run repeatedly.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.col.DeleteMany(ctx, store.Query{
		Filters: []store.Filter{
			{Field: "expiresAt", Op: store.OpLt, Value: s.now().UTC()},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
