package httpapi

import (
	"context"
	"net/http"
)

// The chat and document features are thin proxies over external
// services. The core consumes them through these interfaces only;
// concrete clients live outside this module's scope.

// ChatCompleter proxies a chat completion request to the upstream AI
// provider.
type ChatCompleter interface {
	Complete(ctx context.Context, userID string, messages []ChatMessage) (string, error)
}

// ChatMessage is one turn in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DocumentConverter proxies a document conversion request to the
// upstream conversion service.
type DocumentConverter interface {
	Convert(ctx context.Context, sourceURL, targetFormat string) (resultURL string, err error)
}

// ResetMailer delivers a password reset token out of band.
type ResetMailer interface {
	SendResetToken(ctx context.Context, email, rawToken string) error
}

// Collaborators bundles the optional upstream services. Nil fields
// disable the corresponding routes.
type Collaborators struct {
	Chat        ChatCompleter
	Converter   DocumentConverter
	ResetMailer ResetMailer
}

type chatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

func (h *Handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, _ := IdentityFromContext(r.Context())
	answer, err := h.collab.Chat.Complete(r.Context(), id.UserID, req.Messages)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

type convertRequest struct {
	SourceURL    string `json:"sourceUrl"`
	TargetFormat string `json:"targetFormat"`
}

// handleConvert sits behind optional auth: anonymous callers get the
// conversion, authenticated ones get it associated with their account
// upstream.
func (h *Handlers) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourceURL == "" || req.TargetFormat == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceUrl and targetFormat are required")
		return
	}

	resultURL, err := h.collab.Converter.Convert(r.Context(), req.SourceURL, req.TargetFormat)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resultUrl": resultURL})
}
