package response

import (
	"encoding/json"
	"net/http"

	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

// Envelope is the response shape used throughout the portal API:
// {data: <payload>|null, error: <string>|null}. Staff endpoints add a
// human-readable message.
type Envelope struct {
	Data    interface{} `json:"data"`
	Error   *string     `json:"error"`
	Message string      `json:"message,omitempty"`
}

// Common error codes
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeUnauthorized  = "Unauthorized"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeInternalError = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func OK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Data: data})
}

func OKMessage(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, Envelope{Data: data, Message: message})
}

func Created(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, Envelope{Data: data})
}

func Error(w http.ResponseWriter, statusCode int, code string) {
	writeJSON(w, statusCode, Envelope{Error: &code})
}

func ErrorMessage(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, Envelope{Error: &code, Message: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	msg := CodeValidation
	if message != "" {
		msg = CodeValidation + ": " + message
	}
	writeJSON(w, http.StatusBadRequest, Envelope{Error: &msg})
}

// Unauthorized is deliberately uniform: missing header, malformed header,
// bad signature and expired token all produce the same body.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, CodeUnauthorized)
}

func NotFound(w http.ResponseWriter, message string) {
	ErrorMessage(w, http.StatusNotFound, CodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	ErrorMessage(w, http.StatusConflict, CodeConflict, message)
}

func RateLimit(w http.ResponseWriter) {
	ErrorMessage(w, http.StatusTooManyRequests, CodeRateLimit, "Too many requests. Try again later.")
}

func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternalError)
}

// InvalidCredentials is the single wording for every login failure path.
func InvalidCredentials(w http.ResponseWriter) {
	msg := "Invalid credentials"
	writeJSON(w, http.StatusUnauthorized, Envelope{Error: &msg})
}

// HTML writes a browser-facing landing page (email links, payment
// redirects). These favor a readable page over API error codes.
func HTML(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}

// Text writes a plain-text browser response.
func Text(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}
