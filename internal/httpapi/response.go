package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the response body. Clients branch on these,
// so they are part of the contract.
const (
	CodeAccessDenied       = "access_denied"
	CodeInvalidToken       = "invalid_token"
	CodeUserNotFound       = "user_not_found"
	CodeAccountLocked      = "account_locked"
	CodeSessionExpired     = "session_expired"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidRequest     = "invalid_request"
	CodeEmailTaken         = "email_taken"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}
