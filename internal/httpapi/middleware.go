package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/auth"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/token"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity attached by Require or
// Optional, if any.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(auth.Identity)
	return id, ok
}

// AuthMiddleware is the per-request gate composing the token service,
// user directory, and session store. The token proves identity; the
// session record is the authority for early revocation the token's
// own expiry cannot express.
type AuthMiddleware struct {
	tokens        *token.Service
	users         *user.Directory
	sessions      *session.Store
	log           *zap.Logger
	lookupTimeout time.Duration
	now           func() time.Time
}

// NewAuthMiddleware wires the middleware. lookupTimeout bounds the
// directory and session lookups for one request.
func NewAuthMiddleware(
	tokens *token.Service,
	users *user.Directory,
	sessions *session.Store,
	log *zap.Logger,
	lookupTimeout time.Duration,
) *AuthMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &AuthMiddleware{
		tokens:        tokens,
		users:         users,
		sessions:      sessions,
		log:           log,
		lookupTimeout: lookupTimeout,
		now:           time.Now,
	}
}

type authRejection struct {
	status  int
	code    string
	message string
}

// authenticate runs the verification pipeline and returns either an
// identity or a rejection. An infrastructure failure comes back as
// err: never authenticated, never silently anonymous (fail closed).
func (m *AuthMiddleware) authenticate(r *http.Request) (auth.Identity, *authRejection, error) {
	none := auth.Identity{}

	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return none, &authRejection{http.StatusUnauthorized, CodeAccessDenied, "missing bearer token"}, nil
	}

	claims, err := m.tokens.Verify(raw)
	if err != nil {
		m.log.Debug("token rejected", zap.Error(err))
		return none, &authRejection{http.StatusUnauthorized, CodeInvalidToken, "token is invalid or expired"}, nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.lookupTimeout)
	defer cancel()

	u, err := m.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return none, &authRejection{http.StatusUnauthorized, CodeUserNotFound, "user no longer exists"}, nil
		}
		return none, nil, err
	}

	if u.IsLocked(m.now()) {
		return none, &authRejection{http.StatusLocked, CodeAccountLocked, "account is temporarily locked"}, nil
	}

	sess, err := m.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return none, &authRejection{http.StatusUnauthorized, CodeSessionExpired, "session is no longer valid"}, nil
		}
		return none, nil, err
	}
	if !sess.IsLive(m.now()) {
		return none, &authRejection{http.StatusUnauthorized, CodeSessionExpired, "session is no longer valid"}, nil
	}

	return auth.Identity{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		SessionID: sess.ID,
	}, nil, nil
}

// Require rejects the request unless the full pipeline passes:
// 401 for missing/invalid token, unknown user, or dead session;
// 423 for an active lockout; 500 for a dependency failure.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, rejection, err := m.authenticate(r)
		if err != nil {
			m.log.Error("auth dependency failure", zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternal, "authentication backend unavailable")
			return
		}
		if rejection != nil {
			writeError(w, rejection.status, rejection.code, rejection.message)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional runs the same pipeline but never rejects: on any failure
// the request proceeds with no identity attached. For endpoints that
// personalize but do not require login.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, rejection, err := m.authenticate(r)
		if err != nil {
			m.log.Warn("auth dependency failure on optional route", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if rejection != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	tok := strings.TrimSpace(value[len(bearer):])
	if tok == "" {
		return "", false
	}
	return tok, true
}
