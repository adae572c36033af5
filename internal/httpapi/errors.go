package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/abctrading/tradeauth"
)

const (
	codeInvalidInput = "invalid_input"
	codeUnauthorized = "unauthorized"
	codeRateLimited  = "rate_limited"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeBodyError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    codeInvalidInput,
			Message: verr.Error(),
			Fields:  verr.Fields(),
		}})
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusBadRequest, codeInvalidInput, errBodyTooLarge.Error())
	default:
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid request body")
	}
}

// errorWriter maps Engine errors to responses. Authentication failures and
// refresh reuse share one 401 body so a client cannot tell them apart.
type errorWriter struct {
	logger     *slog.Logger
	retryAfter time.Duration
}

func (ew errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Checked first: a reuse whose revocation failed carries both errors and
	// must stay retryable.
	case errors.Is(err, tradeauth.ErrStoreUnavailable):
		ew.setRetryAfter(w)
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "service temporarily unavailable")
	case errors.Is(err, tradeauth.ErrAuthenticationFailed),
		errors.Is(err, tradeauth.ErrRefreshReuseDetected),
		errors.Is(err, tradeauth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication failed")
	case errors.Is(err, tradeauth.ErrLoginRateLimited):
		ew.setRetryAfter(w)
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many attempts")
	default:
		ew.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
	}
}

func (ew errorWriter) setRetryAfter(w http.ResponseWriter) {
	secs := int(ew.retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
