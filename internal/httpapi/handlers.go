package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/auth"
	"github.com/mkucukkoc/google-auth-sub004/internal/limiters"
	"github.com/mkucukkoc/google-auth-sub004/internal/reset"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

// Handlers carries the services behind the HTTP surface.
type Handlers struct {
	auth         *auth.Service
	reset        *reset.Service
	resetLimiter *limiters.Limiter
	collab       Collaborators
	log          *zap.Logger
}

// NewHandlers wires the handler set. resetLimiter may be nil.
func NewHandlers(
	authSvc *auth.Service,
	resetSvc *reset.Service,
	resetLimiter *limiters.Limiter,
	collab Collaborators,
	log *zap.Logger,
) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		auth:         authSvc,
		reset:        resetSvc,
		resetLimiter: resetLimiter,
		collab:       collab,
		log:          log,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, pair, err := h.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			writeError(w, http.StatusConflict, CodeEmailTaken, "email is already registered")
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		default:
			h.internal(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": u, "tokens": pair})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, pair, err := h.auth.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "email or password is incorrect")
		case errors.Is(err, auth.ErrAccountLocked):
			writeError(w, http.StatusLocked, CodeAccountLocked, "account is temporarily locked")
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many login attempts")
		default:
			h.internal(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u, "tokens": pair})
}

type federatedRequest struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

func (h *Handlers) handleFederated(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, pair, err := h.auth.FederatedLogin(r.Context(), req.Provider, req.Email, req.Name, clientIP(r), r.UserAgent())
	if err != nil {
		h.internal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u, "tokens": pair})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshInvalid):
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "refresh token is invalid or expired")
		case errors.Is(err, auth.ErrAccountLocked):
			writeError(w, http.StatusLocked, CodeAccountLocked, "account is temporarily locked")
		default:
			h.internal(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	if err := h.auth.Logout(r.Context(), id); err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (h *Handlers) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	n, err := h.auth.LogoutAll(r.Context(), id)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out everywhere", "revoked": n})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword responds with the exact same body whether or
// not the email has an account; the endpoint must not be usable to
// probe for registered addresses.
func (h *Handlers) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ip := clientIP(r)
	switch err := h.resetLimiter.Allow(r.Context(), user.NormalizeEmail(req.Email), ip); {
	case errors.Is(err, limiters.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many reset requests")
		return
	case err != nil:
		// The throttle is advisory; an unexpected failure is logged and
		// the request proceeds.
		h.log.Warn("reset throttle check failed", zap.Error(err))
	}

	rawToken, err := h.reset.Generate(r.Context(), req.Email, ip, r.UserAgent())
	if err != nil {
		h.internal(w, r, err)
		return
	}

	// The raw token goes out through the email delivery collaborator,
	// never in the HTTP response.
	if rawToken != "" && h.collab.ResetMailer != nil {
		if err := h.collab.ResetMailer.SendResetToken(r.Context(), user.NormalizeEmail(req.Email), rawToken); err != nil {
			h.log.Error("reset token delivery failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "if that email is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handlers) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ok, err := h.reset.VerifyAndConsume(r.Context(), req.Token, req.NewPassword, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, reset.ErrWeakPassword) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		h.internal(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "reset token is invalid, used, or expired")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated; please sign in again"})
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

func (h *Handlers) internal(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// maxBodyBytes bounds request bodies; every payload the API accepts
// is far below 1 MiB.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed request body")
		return false
	}
	return true
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
