package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/store"
)

// CollectionName is the users collection in the document store.
const CollectionName = "users"

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when creation would duplicate an email.
	ErrEmailTaken = errors.New("email already registered")
)

// IdentityMirror pushes identity state to an external identity
// provider. The internal directory stays authoritative: a mirror
// failure is logged and tolerated, never propagated.
type IdentityMirror interface {
	Mirror(ctx context.Context, u User) error
}

// NoopMirror discards mirror calls.
type NoopMirror struct{}

func (NoopMirror) Mirror(context.Context, User) error { return nil }

// Config holds the lockout policy. Both values are an explicit
// configuration surface rather than baked-in constants.
type Config struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// Directory owns CRUD and lockout accounting for user records.
// All mutations of a User go through it.
type Directory struct {
	col    store.Collection
	mirror IdentityMirror
	log    *zap.Logger
	cfg    Config
	now    func() time.Time
}

// NewDirectory wires a Directory over the given document store.
func NewDirectory(st store.Store, mirror IdentityMirror, log *zap.Logger, cfg Config) *Directory {
	if mirror == nil {
		mirror = NoopMirror{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	return &Directory{
		col:    st.Collection(CollectionName),
		mirror: mirror,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the directory clock, for tests.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// CreateInput is the input for Create.
type CreateInput struct {
	Email        string
	PasswordHash string
	Name         string
	AvatarURL    string
}

// Create mints a new local-credential user. Email uniqueness is
// enforced by pre-checking the normalized address.
func (d *Directory) Create(ctx context.Context, in CreateInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	if _, err := d.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := d.now().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: in.PasswordHash,
		Name:         in.Name,
		AvatarURL:    in.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := d.col.Set(ctx, u.ID, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	d.mirrorBestEffort(ctx, u)
	return &u, nil
}

// CreateFederated links or creates an account for a federated
// identity assertion. It is idempotent: repeated federated logins for
// the same email reuse the existing record instead of minting a new
// internal id.
func (d *Directory) CreateFederated(ctx context.Context, provider, email, name string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, errors.New("email is required")
	}

	existing, err := d.FindByEmail(ctx, normalized)
	if err == nil {
		if existing.Provider != provider {
			if err := d.update(ctx, existing.ID, map[string]any{"provider": provider}); err != nil {
				return nil, err
			}
			existing.Provider = provider
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := d.now().UTC()
	u := User{
		ID:              uuid.NewString(),
		Email:           normalized,
		Name:            name,
		Provider:        provider,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := d.col.Set(ctx, u.ID, u); err != nil {
		return nil, fmt.Errorf("create federated user: %w", err)
	}

	d.mirrorBestEffort(ctx, u)
	return &u, nil
}

// FindByEmail looks up a user by normalized email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.col.FindOne(ctx, store.Query{
		Filters: []store.Filter{store.Eq("email", NormalizeEmail(email))},
	}, &u)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &u, nil
}

// FindByID looks up a user by id.
func (d *Directory) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := d.col.Get(ctx, id, &u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

// UpdateInput carries the mutable profile fields for Update. Nil
// pointers leave the field unchanged.
type UpdateInput struct {
	Name            *string
	AvatarURL       *string
	PasswordHash    *string
	IsEmailVerified *bool
}

// Update applies a partial profile update and mirrors the result.
func (d *Directory) Update(ctx context.Context, id string, in UpdateInput) (*User, error) {
	fields := map[string]any{}
	if in.Name != nil {
		fields["name"] = *in.Name
	}
	if in.AvatarURL != nil {
		fields["avatarUrl"] = *in.AvatarURL
	}
	if in.PasswordHash != nil {
		fields["passwordHash"] = *in.PasswordHash
	}
	if in.IsEmailVerified != nil {
		fields["isEmailVerified"] = *in.IsEmailVerified
	}
	if len(fields) == 0 {
		return d.FindByID(ctx, id)
	}

	if err := d.update(ctx, id, fields); err != nil {
		return nil, err
	}

	u, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mirrorBestEffort(ctx, *u)
	return u, nil
}

// SetPasswordHash replaces the stored credential hash.
func (d *Directory) SetPasswordHash(ctx context.Context, id, hash string) error {
	return d.update(ctx, id, map[string]any{"passwordHash": hash})
}

// IncrementFailedAttempts bumps the failed-login counter and, once it
// reaches the configured threshold, arms the lockout window. The read
// and write are not atomic; a lost increment under a concurrent race
// is tolerated because the lockout is coarse brute-force mitigation,
// not an exact count.
func (d *Directory) IncrementFailedAttempts(ctx context.Context, id string) (*User, error) {
	u, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	u.FailedLoginAttempts++
	fields := map[string]any{"failedLoginAttempts": u.FailedLoginAttempts}
	if u.FailedLoginAttempts >= d.cfg.LockoutThreshold {
		lockedUntil := d.now().UTC().Add(d.cfg.LockoutDuration)
		u.LockedUntil = &lockedUntil
		fields["lockedUntil"] = lockedUntil
	}

	if err := d.update(ctx, id, fields); err != nil {
		return nil, err
	}
	return u, nil
}

// ResetFailedAttempts clears the counter and any lock, and stamps the
// successful login time.
func (d *Directory) ResetFailedAttempts(ctx context.Context, id string) error {
	return d.update(ctx, id, map[string]any{
		"failedLoginAttempts": 0,
		"lockedUntil":         nil,
		"lastLoginAt":         d.now().UTC(),
	})
}

func (d *Directory) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updatedAt"] = d.now().UTC()
	if err := d.col.Update(ctx, id, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (d *Directory) mirrorBestEffort(ctx context.Context, u User) {
	if err := d.mirror.Mirror(ctx, u); err != nil {
		d.log.Warn("identity mirror failed",
			zap.String("user_id", u.ID),
			zap.Error(err),
		)
	}
}
