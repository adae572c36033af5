package tradeauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventPasswordRehashNeeded = "password_rehash_needed"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogout               = "logout"
	auditEventTokensSwept          = "tokens_swept"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrAuthenticationFailed AuditErrorCode = "authentication_failed"
	auditErrInvalidCredentials   AuditErrorCode = "invalid_credentials"
	auditErrRateLimited          AuditErrorCode = "rate_limited"
	auditErrRefreshReuse         AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken         AuditErrorCode = "invalid_token"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrSigning              AuditErrorCode = "signing_failed"
	auditErrConflict             AuditErrorCode = "conflict"
	auditErrInternal             AuditErrorCode = "internal_error"
)

// auditFields carries the token identifiers of an event.
type auditFields struct {
	userID   string
	familyID string
	tokenID  string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC().Truncate(time.Millisecond),
		EventType: eventType,
		UserID:    fields.userID,
		FamilyID:  fields.familyID,
		TokenID:   fields.tokenID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// Reuse wins over unavailability when revocation itself failed.
	switch {
	case errors.Is(err, ErrRefreshReuseDetected):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrAuthenticationFailed
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrSigning):
		return auditErrSigning
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	default:
		return auditErrInternal
	}
}
