package reset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkucukkoc/google-auth-sub004/internal/password"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/store"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

type resetFixture struct {
	svc      *Service
	users    *user.Directory
	sessions *session.Store
	hasher   *password.Hasher
	clock    *fakeClock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()

	st := store.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	p := password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	hasher, err := password.NewHasher(p, p)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	users := user.NewDirectory(st, nil, nil, user.Config{}).WithClock(clock.Now)
	sessions := session.NewStore(st, time.Hour).WithClock(clock.Now)
	svc := NewService(st, users, sessions, hasher, nil, nil, Config{
		TokenTTL:          time.Hour,
		MinPasswordLength: 8,
	}).WithClock(clock.Now)

	return &resetFixture{svc: svc, users: users, sessions: sessions, hasher: hasher, clock: clock}
}

func (f *resetFixture) seedUser(t *testing.T, email, pw string) *user.User {
	t.Helper()

	hash, err := f.hasher.HashPassword(pw)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	u, err := f.users.Create(context.Background(), user.CreateInput{Email: email, PasswordHash: hash})
	if err != nil {
		t.Fatalf("Create user failed: %v", err)
	}
	return u
}

func TestGenerateUnknownEmailIsNeutral(t *testing.T) {
	f := newResetFixture(t)

	raw, err := f.svc.Generate(context.Background(), "nobody@example.com", "1.2.3.4", "cli")
	if err != nil {
		t.Fatalf("Generate must not error for unknown email: %v", err)
	}
	if raw != "" {
		t.Fatalf("unknown email must yield an empty token, got %q", raw)
	}
}

func TestGenerateStoresHashNotToken(t *testing.T) {
	f := newResetFixture(t)
	u := f.seedUser(t, "alice@example.com", "old-password")
	ctx := context.Background()

	raw, err := f.svc.Generate(ctx, "alice@example.com", "1.2.3.4", "cli")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a raw token for a known email")
	}

	tokens, err := f.svc.ActiveTokensForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ActiveTokensForUser failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 active token, got %d", len(tokens))
	}
	if tokens[0].TokenHash == raw {
		t.Fatal("raw token must never be stored")
	}
	if tokens[0].TokenHash != hashRawToken(raw) {
		t.Fatal("stored hash must match the raw token digest")
	}
	if !tokens[0].ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", tokens[0].ExpiresAt)
	}
}

func TestConsumeHappyPath(t *testing.T) {
	f := newResetFixture(t)
	u := f.seedUser(t, "bob@example.com", "old-password")
	ctx := context.Background()

	s1, _ := f.sessions.Create(ctx, u.ID, session.CreateInput{})
	s2, _ := f.sessions.Create(ctx, u.ID, session.CreateInput{})

	raw, err := f.svc.Generate(ctx, "bob@example.com", "", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	ok, err := f.svc.VerifyAndConsume(ctx, raw, "new-password-1", "", "")
	if err != nil {
		t.Fatalf("VerifyAndConsume failed: %v", err)
	}
	if !ok {
		t.Fatal("expected consumption to succeed")
	}

	got, _ := f.users.FindByID(ctx, u.ID)
	if !f.hasher.VerifyPassword("new-password-1", got.PasswordHash) {
		t.Fatal("new password must verify")
	}
	if f.hasher.VerifyPassword("old-password", got.PasswordHash) {
		t.Fatal("old password must no longer verify")
	}

	for _, id := range []string{s1.ID, s2.ID} {
		sess, err := f.sessions.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if sess.IsLive(f.clock.Now()) {
			t.Fatalf("session %s must be revoked after reset", id)
		}
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	f := newResetFixture(t)
	f.seedUser(t, "carol@example.com", "old-password")
	ctx := context.Background()

	raw, _ := f.svc.Generate(ctx, "carol@example.com", "", "")

	ok, err := f.svc.VerifyAndConsume(ctx, raw, "new-password-1", "", "")
	if err != nil || !ok {
		t.Fatalf("first consumption must succeed: ok=%v err=%v", ok, err)
	}

	ok, err = f.svc.VerifyAndConsume(ctx, raw, "another-password", "", "")
	if err != nil {
		t.Fatalf("replay must fail without error: %v", err)
	}
	if ok {
		t.Fatal("a consumed token must never work twice")
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	f := newResetFixture(t)
	u := f.seedUser(t, "dave@example.com", "old-password")
	ctx := context.Background()

	raw, _ := f.svc.Generate(ctx, "dave@example.com", "", "")
	f.clock.Advance(2 * time.Hour)

	ok, err := f.svc.VerifyAndConsume(ctx, raw, "new-password-1", "", "")
	if err != nil {
		t.Fatalf("expired consumption must fail without error: %v", err)
	}
	if ok {
		t.Fatal("an expired token must be rejected")
	}

	got, _ := f.users.FindByID(ctx, u.ID)
	if !f.hasher.VerifyPassword("old-password", got.PasswordHash) {
		t.Fatal("a rejected reset must leave the password untouched")
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	f := newResetFixture(t)
	f.seedUser(t, "erin@example.com", "old-password")

	ok, err := f.svc.VerifyAndConsume(context.Background(), "made-up-token", "new-password-1", "", "")
	if err != nil {
		t.Fatalf("unknown token must fail without error: %v", err)
	}
	if ok {
		t.Fatal("an unknown token must be rejected")
	}
}

func TestConsumeRejectsWeakPassword(t *testing.T) {
	f := newResetFixture(t)
	f.seedUser(t, "frank@example.com", "old-password")
	ctx := context.Background()

	raw, _ := f.svc.Generate(ctx, "frank@example.com", "", "")

	ok, err := f.svc.VerifyAndConsume(ctx, raw, "short", "", "")
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if ok {
		t.Fatal("weak password must be rejected")
	}

	// The rejection must not burn the token.
	ok, err = f.svc.VerifyAndConsume(ctx, raw, "long-enough-password", "", "")
	if err != nil || !ok {
		t.Fatalf("token must survive a policy rejection: ok=%v err=%v", ok, err)
	}
}

func TestMultipleOutstandingTokensEachSingleUse(t *testing.T) {
	f := newResetFixture(t)
	u := f.seedUser(t, "grace@example.com", "old-password")
	ctx := context.Background()

	first, _ := f.svc.Generate(ctx, "grace@example.com", "", "")
	second, _ := f.svc.Generate(ctx, "grace@example.com", "", "")
	if first == second {
		t.Fatal("tokens must be unique")
	}

	tokens, _ := f.svc.ActiveTokensForUser(ctx, u.ID)
	if len(tokens) != 2 {
		t.Fatalf("expected 2 outstanding tokens, got %d", len(tokens))
	}

	if ok, err := f.svc.VerifyAndConsume(ctx, second, "new-password-1", "", ""); err != nil || !ok {
		t.Fatalf("second token must consume: ok=%v err=%v", ok, err)
	}
	if ok, err := f.svc.VerifyAndConsume(ctx, first, "new-password-2", "", ""); err != nil || !ok {
		t.Fatalf("first token must still consume: ok=%v err=%v", ok, err)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newResetFixture(t)
	u := f.seedUser(t, "heidi@example.com", "old-password")
	ctx := context.Background()

	f.svc.Generate(ctx, "heidi@example.com", "", "")
	f.clock.Advance(2 * time.Hour)
	f.svc.Generate(ctx, "heidi@example.com", "", "")

	n, err := f.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged token, got %d", n)
	}

	tokens, _ := f.svc.ActiveTokensForUser(ctx, u.ID)
	if len(tokens) != 1 {
		t.Fatalf("expected the fresh token to survive, got %d", len(tokens))
	}
}

func TestConsumeIsExclusiveUnderContention(t *testing.T) {
	f := newResetFixture(t)
	f.seedUser(t, "alice@example.com", "old-password")
	ctx := context.Background()

	for trial := 0; trial < 20; trial++ {
		raw, err := f.svc.Generate(ctx, "alice@example.com", "1.2.3.4", "cli")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}

		start := make(chan struct{})
		results := make(chan bool, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := f.svc.VerifyAndConsume(ctx, raw, "brand-new-password", "1.2.3.4", "cli")
				if err != nil {
					t.Errorf("VerifyAndConsume failed: %v", err)
					return
				}
				results <- ok
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		wins := 0
		for ok := range results {
			if ok {
				wins++
			}
		}
		if wins != 1 {
			t.Fatalf("trial %d: expected exactly one consumer to win, got %d", trial, wins)
		}
	}
}
