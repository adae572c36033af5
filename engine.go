package tradeauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/internal/audit"
	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/refresh"
	"github.com/abctrading/tradeauth/token"
)

// Engine orchestrates login and refresh-token rotation. It is safe for
// concurrent use once built; all shared mutable state lives in the stores.
type Engine struct {
	config      Config
	verifier    *credential.Verifier
	credentials credential.Store
	issuer      *token.Issuer
	jwtManager  *jwt.Manager
	store       refresh.Store
	limiter     LoginLimiter
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	UserID           string
	FamilyID         string
}

// AuthResult describes a verified access token.
type AuthResult struct {
	UserID    string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// Login verifies username and password and starts a new token family.
//
// Every credential failure returns ErrAuthenticationFailed. Backend failures
// return ErrStoreUnavailable, key failures ErrSigning.
func (e *Engine) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if e == nil || e.verifier == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricLoginLatency, start)

	ctx, span := e.tracer.Start(ctx, "tradeauth.Login")
	defer span.End()

	ip := clientIPFromContext(ctx)
	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, username, ip); err != nil {
			if errors.Is(err, ErrLoginRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, auditFields{}, ErrLoginRateLimited, func() map[string]string {
					return map[string]string{"identifier": username}
				})
				endSpan(span, ErrLoginRateLimited)
				return nil, ErrLoginRateLimited
			}
			e.logger.WarnContext(ctx, "login limiter unavailable, allowing attempt",
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := e.verifier.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, credential.ErrUnavailable) {
			e.metricInc(MetricStoreUnavailable)
			e.logger.ErrorContext(ctx, "credential store unavailable", slog.String("error", err.Error()))
			e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{}, ErrStoreUnavailable, nil)
			wrapped := fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			endSpan(span, wrapped)
			return nil, wrapped
		}

		reason := "invalid_credentials"
		if errors.Is(err, credential.ErrNotFound) {
			reason = "user_not_found"
		}
		e.metricInc(MetricLoginFailure)
		e.logger.InfoContext(ctx, "login failed",
			slog.String("reason", reason),
			slog.String("client_ip", ip),
		)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{}, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": username, "reason": reason}
		})
		if e.limiter != nil {
			if lerr := e.limiter.RecordFailure(ctx, username, ip); lerr != nil && !errors.Is(lerr, ErrLoginRateLimited) {
				e.logger.WarnContext(ctx, "login limiter record failed", slog.String("error", lerr.Error()))
			}
		}
		endSpan(span, ErrAuthenticationFailed)
		return nil, ErrAuthenticationFailed
	}

	if res.NeedsRehash {
		e.metricInc(MetricPasswordRehashNeeded)
		e.emitAudit(ctx, auditEventPasswordRehashNeeded, true, auditFields{userID: res.UserID}, nil, func() map[string]string {
			return map[string]string{"algorithm": res.Algorithm}
		})
	}

	access, err := e.issueAccess(ctx, res.UserID)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	next, err := e.issuer.IssueRefreshToken(res.UserID, "", time.Time{}, "")
	if err != nil {
		err = e.signingFailure(ctx, "issue refresh token", err)
		endSpan(span, err)
		return nil, err
	}

	if err := e.store.Save(ctx, next.Record); err != nil {
		err = e.storeFailure(ctx, "save refresh token", err)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: res.UserID}, err, nil)
		endSpan(span, err)
		return nil, err
	}

	if e.limiter != nil {
		if lerr := e.limiter.RecordSuccess(ctx, username, ip); lerr != nil {
			e.logger.WarnContext(ctx, "login limiter reset failed", slog.String("error", lerr.Error()))
		}
	}

	e.metricInc(MetricLoginSuccess)
	fields := auditFields{userID: res.UserID, familyID: next.Record.FamilyID, tokenID: next.Record.TokenID}
	e.emitAudit(ctx, auditEventLoginSuccess, true, fields, nil, nil)
	span.SetAttributes(
		attribute.String("tradeauth.user_id", res.UserID),
		attribute.String("tradeauth.family_id", next.Record.FamilyID),
	)

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     next.Token,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: next.Record.ExpiresAt,
		UserID:           res.UserID,
		FamilyID:         next.Record.FamilyID,
	}, nil
}

// Refresh rotates a refresh token.
//
// Presenting a token that was already consumed, or losing the consume race
// to a concurrent call with the same token, revokes the whole family and
// returns ErrRefreshReuseDetected. Unknown, expired or tampered tokens return
// ErrAuthenticationFailed.
func (e *Engine) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricRefreshLatency, start)

	ctx, span := e.tracer.Start(ctx, "tradeauth.Refresh")
	defer span.End()

	rec, err := e.lookup(ctx, presented)
	if err != nil {
		if errors.Is(err, refresh.ErrAlreadyConsumed) {
			err = e.handleReuse(ctx, rec, "consumed_token_presented")
		}
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("tradeauth.user_id", rec.UserID),
		attribute.String("tradeauth.family_id", rec.FamilyID),
	)

	access, err := e.issueAccess(ctx, rec.UserID)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	next, err := e.issuer.IssueRefreshToken(rec.UserID, rec.FamilyID, rec.AbsoluteExpiresAt, rec.TokenID)
	if err != nil {
		if errors.Is(err, token.ErrLineageExpired) {
			err = e.refreshRejected(ctx, rec, "absolute_lifetime_exceeded")
		} else {
			err = e.signingFailure(ctx, "issue refresh token", err)
		}
		endSpan(span, err)
		return nil, err
	}

	if err := refresh.Rotate(ctx, e.store, rec.TokenID, next.Record); err != nil {
		switch {
		case errors.Is(err, refresh.ErrAlreadyConsumed):
			err = e.handleReuse(ctx, rec, "consume_race_lost")
		case errors.Is(err, refresh.ErrExpired), errors.Is(err, refresh.ErrNotFound):
			err = e.refreshRejected(ctx, rec, "expired_during_rotation")
		default:
			err = e.storeFailure(ctx, "rotate refresh token", err)
		}
		endSpan(span, err)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, auditFields{
		userID:   rec.UserID,
		familyID: rec.FamilyID,
		tokenID:  next.Record.TokenID,
	}, nil, func() map[string]string {
		return map[string]string{"predecessor_id": rec.TokenID}
	})

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     next.Token,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: next.Record.ExpiresAt,
		UserID:           rec.UserID,
		FamilyID:         rec.FamilyID,
	}, nil
}

// Logout revokes the family of a refresh token. Logging out with an already
// revoked token succeeds; a rotated-away token is treated as reuse.
func (e *Engine) Logout(ctx context.Context, presented string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.tracer.Start(ctx, "tradeauth.Logout")
	defer span.End()

	rec, err := e.lookup(ctx, presented)
	switch {
	case err == nil:
	case errors.Is(err, refresh.ErrAlreadyConsumed) && rec.Revoked:
		return nil
	case errors.Is(err, refresh.ErrAlreadyConsumed):
		err = e.handleReuse(ctx, rec, "consumed_token_logout")
		endSpan(span, err)
		return err
	default:
		endSpan(span, err)
		return err
	}

	n, err := e.store.RevokeFamily(ctx, rec.FamilyID)
	if err != nil {
		err = e.storeFailure(ctx, "revoke family on logout", err)
		endSpan(span, err)
		return err
	}

	e.metricInc(MetricLogout)
	e.metrics.Add(MetricFamilyRevoked, uint64(n))
	e.emitAudit(ctx, auditEventLogout, true, auditFields{
		userID:   rec.UserID,
		familyID: rec.FamilyID,
		tokenID:  rec.TokenID,
	}, nil, nil)
	return nil
}

// ValidateAccess checks an access token's signature, expiry, issuer and
// audience. It never touches a store.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		e.logger.DebugContext(ctx, "access token rejected", slog.String("error", err.Error()))
		return nil, ErrTokenInvalid
	}
	e.metricInc(MetricValidateSuccess)

	res := &AuthResult{UserID: claims.UID, Scope: claims.Scope}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// SweepExpired deletes refresh records past their expiry plus the configured
// retention. Records inside the retention window keep detecting reuse.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	ctx, span := e.tracer.Start(ctx, "tradeauth.SweepExpired")
	defer span.End()

	n, err := e.store.SweepExpired(ctx, e.config.Refresh.Retention)
	if err != nil {
		err = e.storeFailure(ctx, "sweep expired refresh tokens", err)
		endSpan(span, err)
		return n, err
	}
	e.metrics.Add(MetricTokensSwept, uint64(n))
	if n > 0 {
		e.logger.InfoContext(ctx, "swept expired refresh tokens", slog.Int("removed", n))
		e.emitAudit(ctx, auditEventTokensSwept, true, auditFields{}, nil, func() map[string]string {
			return map[string]string{"removed": fmt.Sprint(n)}
		})
	}
	span.SetAttributes(attribute.Int("tradeauth.swept", n))
	return n, nil
}

// Ping reports whether the refresh store and, when it supports it, the
// credential store are reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if p, ok := e.store.(refresh.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: refresh store: %v", ErrStoreUnavailable, err)
		}
	}
	if p, ok := e.credentials.(refresh.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: credential store: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// lookup decodes presented and loads its record. On ErrAlreadyConsumed the
// record is returned with the error; every other failure is already mapped
// to an Engine error.
func (e *Engine) lookup(ctx context.Context, presented string) (*refresh.Record, error) {
	tok, err := refresh.Decode(presented)
	if err != nil {
		return nil, e.refreshRejected(ctx, nil, "malformed")
	}

	rec, err := e.store.FindLive(ctx, tok.TokenID())
	switch {
	case err == nil, errors.Is(err, refresh.ErrAlreadyConsumed):
		// A wrong secret means the caller never held this token, so it
		// cannot signal reuse.
		if rec == nil || !rec.MatchesSecret(tok.Secret) {
			return nil, e.refreshRejected(ctx, nil, "secret_mismatch")
		}
		return rec, err
	case errors.Is(err, refresh.ErrExpired):
		return nil, e.refreshRejected(ctx, rec, "expired")
	case errors.Is(err, refresh.ErrNotFound):
		return nil, e.refreshRejected(ctx, nil, "not_found")
	default:
		return nil, e.storeFailure(ctx, "find refresh token", err)
	}
}

// handleReuse revokes rec's family. If revocation fails the returned error
// matches both ErrRefreshReuseDetected and ErrStoreUnavailable so the client
// can retry and re-trigger revocation.
func (e *Engine) handleReuse(ctx context.Context, rec *refresh.Record, trigger string) error {
	e.metricInc(MetricRefreshReuseDetected)
	fields := auditFields{userID: rec.UserID, familyID: rec.FamilyID, tokenID: rec.TokenID}

	n, err := e.store.RevokeFamily(ctx, rec.FamilyID)
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "refresh token reuse detected, family revocation failed",
			slog.String("trigger", trigger),
			slog.String("user_id", rec.UserID),
			slog.String("family_id", rec.FamilyID),
			slog.String("token_id", rec.TokenID),
			slog.String("error", err.Error()),
		)
		joined := errors.Join(ErrRefreshReuseDetected, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, fields, joined, func() map[string]string {
			return map[string]string{"trigger": trigger, "revocation": "failed"}
		})
		return joined
	}

	e.metrics.Add(MetricFamilyRevoked, uint64(n))
	e.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
		slog.String("trigger", trigger),
		slog.String("user_id", rec.UserID),
		slog.String("family_id", rec.FamilyID),
		slog.String("token_id", rec.TokenID),
		slog.String("predecessor_id", rec.PredecessorID),
		slog.Int("revoked", n),
		slog.String("client_ip", clientIPFromContext(ctx)),
		slog.String("user_agent", userAgentFromContext(ctx)),
	)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, fields, ErrRefreshReuseDetected, func() map[string]string {
		return map[string]string{"trigger": trigger, "revoked": fmt.Sprint(n)}
	})
	return ErrRefreshReuseDetected
}

// refreshRejected records a refresh failure that is not reuse. rec may be nil.
func (e *Engine) refreshRejected(ctx context.Context, rec *refresh.Record, reason string) error {
	e.metricInc(MetricRefreshFailure)
	var fields auditFields
	if rec != nil {
		fields = auditFields{userID: rec.UserID, familyID: rec.FamilyID, tokenID: rec.TokenID}
	}
	e.logger.InfoContext(ctx, "refresh rejected",
		slog.String("reason", reason),
		slog.String("family_id", fields.familyID),
	)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, ErrAuthenticationFailed, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrAuthenticationFailed
}

func (e *Engine) issueAccess(ctx context.Context, userID string) (token.AccessToken, error) {
	access, err := e.issuer.IssueAccessToken(userID, e.config.JWT.DefaultScope)
	if err != nil {
		return token.AccessToken{}, e.signingFailure(ctx, "issue access token", err)
	}
	return access, nil
}

func (e *Engine) signingFailure(ctx context.Context, op string, err error) error {
	e.metricInc(MetricSigningFailure)
	e.logger.ErrorContext(ctx, "token issuance failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %v", ErrSigning, err)
}

// storeFailure maps refresh store errors. A conflict is a defect, not an
// outage, and is reported as ErrConflict.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	if errors.Is(err, refresh.ErrConflict) {
		e.metricInc(MetricConflict)
		e.logger.ErrorContext(ctx, "refresh token id conflict", slog.String("op", op))
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	e.metricInc(MetricStoreUnavailable)
	e.logger.ErrorContext(ctx, "refresh store unavailable",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
