package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abctrading/tradeauth"
	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/internal/logging"
	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/password"
	"github.com/abctrading/tradeauth/refresh/memstore"
)

// ============================================================================
// Test Helpers
// ============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *tradeauth.Engine {
	t.Helper()

	cfg := tradeauth.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.JWT.Issuer = "tradeauth-test"
	cfg.JWT.Audience = "trading-api"
	cfg.Store.BreakerEnabled = false

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	require.NoError(t, err)
	hash, err := hasher.Hash("correct-pw")
	require.NoError(t, err)

	creds, err := credential.NewMemoryStore(credential.Record{
		UserID:               "user-alice",
		Username:             "alice",
		PasswordHash:         hash,
		HashAlgorithmVersion: password.AlgorithmArgon2id,
	})
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ks, err := jwt.NewKeySet(jwt.KeyConfig{SigningMethod: jwt.MethodEd25519, KeyID: "http-test", PrivateKey: priv})
	require.NoError(t, err)

	engine, err := tradeauth.New().
		WithConfig(cfg).
		WithCredentialStore(creds).
		WithRefreshStore(memstore.New()).
		WithKeyProvider(jwt.StaticKeys{Set: ks}).
		WithLogger(discardLogger()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func newTestRouter(t *testing.T, auth Authenticator) http.Handler {
	t.Helper()
	h, err := NewRouter(Config{MaxBodyBytes: 1024, RetryAfter: 2 * time.Second}, Deps{
		Auth:   auth,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	return h
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Error
}

type stubAuth struct {
	err    error
	result *tradeauth.AuthResult
}

func (s stubAuth) Login(context.Context, string, string) (*tradeauth.TokenPair, error) {
	return nil, s.err
}

func (s stubAuth) Refresh(context.Context, string) (*tradeauth.TokenPair, error) {
	return nil, s.err
}

func (s stubAuth) Logout(context.Context, string) error { return s.err }

func (s stubAuth) ValidateAccess(context.Context, string) (*tradeauth.AuthResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// ============================================================================
// End-to-end flow
// ============================================================================

func TestAliceScenario(t *testing.T) {
	h := newTestRouter(t, newTestEngine(t))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "correct-pw"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	first := decodeTokens(t, rec)
	require.NotEmpty(t, first.AccessToken)
	require.NotEmpty(t, first.RefreshToken)
	assert.Equal(t, "Bearer", first.TokenType)
	assert.True(t, first.ExpiresAt.After(time.Now()))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, http.Header{"Authorization": {"Bearer " + first.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "user-alice", me.UserID)
	assert.Equal(t, "user", me.Scope)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeTokens(t, rec)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	wrong := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)

	// Replaying the first token revokes the family and looks exactly like a
	// bad password to the client.
	reuse := doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, reuse.Code)
	assert.Equal(t, wrong.Body.String(), reuse.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": second.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailuresShareOneBody(t *testing.T) {
	h := newTestRouter(t, newTestEngine(t))

	unknown := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "mallory", "password": "x"}, nil)
	wrong := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "x"}, nil)

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
	assert.Equal(t, codeUnauthorized, decodeError(t, wrong).Code)
}

func TestLogout(t *testing.T) {
	h := newTestRouter(t, newTestEngine(t))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "correct-pw"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeTokens(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	h := newTestRouter(t, newTestEngine(t))

	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, http.Header{"Authorization": {"Bearer not.a.jwt"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeEnforcesScopes(t *testing.T) {
	auth := stubAuth{result: &tradeauth.AuthResult{
		UserID:    "user-alice",
		Scope:     "user",
		ExpiresAt: time.Now().Add(time.Minute),
	}}
	bearer := http.Header{"Authorization": {"Bearer token"}}

	newRouter := func(scopes ...string) http.Handler {
		h, err := NewRouter(Config{MeScopes: scopes}, Deps{Auth: auth, Logger: discardLogger()})
		require.NoError(t, err)
		return h
	}

	rec := doJSON(t, newRouter("user"), http.MethodGet, "/api/v1/auth/me", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, newRouter("admin"), http.MethodGet, "/api/v1/auth/me", nil, bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Code)
}

// ============================================================================
// Request validation and error mapping
// ============================================================================

func TestBadRequests(t *testing.T) {
	h := newTestRouter(t, stubAuth{err: errors.New("must not be called")})

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "not json", path: "/api/v1/auth/login", body: "username=alice"},
		{name: "missing password", path: "/api/v1/auth/login", body: `{"username":"alice"}`},
		{name: "unknown field", path: "/api/v1/auth/login", body: `{"username":"alice","password":"x","otp":"1"}`},
		{name: "trailing data", path: "/api/v1/auth/login", body: `{"username":"alice","password":"x"} {}`},
		{name: "empty refresh token", path: "/api/v1/auth/refresh", body: `{"refreshToken":""}`},
		{name: "non ascii refresh token", path: "/api/v1/auth/refresh", body: `{"refreshToken":"tøken"}`},
		{name: "oversized body", path: "/api/v1/auth/logout", body: `{"refreshToken":"` + strings.Repeat("a", 2048) + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, codeInvalidInput, decodeError(t, rec).Code)
		})
	}
}

func TestValidationErrorNamesJSONFields(t *testing.T) {
	h := newTestRouter(t, stubAuth{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "is required", detail.Fields["password"])
}

const unauthorizedBody = `{"error":{"code":"unauthorized","message":"authentication failed"}}`

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter string
	}{
		{name: "auth failed", err: tradeauth.ErrAuthenticationFailed, wantStatus: http.StatusUnauthorized, wantCode: codeUnauthorized},
		{name: "reuse", err: tradeauth.ErrRefreshReuseDetected, wantStatus: http.StatusUnauthorized, wantCode: codeUnauthorized},
		{name: "rate limited", err: tradeauth.ErrLoginRateLimited, wantStatus: http.StatusTooManyRequests, wantCode: codeRateLimited, retryAfter: "2"},
		{name: "store unavailable", err: tradeauth.ErrStoreUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: codeUnavailable, retryAfter: "2"},
		{
			name:       "reuse with failed revocation",
			err:        errors.Join(tradeauth.ErrRefreshReuseDetected, tradeauth.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   codeUnavailable,
			retryAfter: "2",
		},
		{name: "signing", err: tradeauth.ErrSigning, wantStatus: http.StatusInternalServerError, wantCode: codeInternal},
		{name: "conflict", err: tradeauth.ErrConflict, wantStatus: http.StatusInternalServerError, wantCode: codeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, stubAuth{err: tc.err})
			rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": "abc"}, nil)

			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rec).Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			if tc.wantStatus == http.StatusUnauthorized {
				// Every 401 carries the one public body, whatever the cause.
				assert.JSONEq(t, unauthorizedBody, rec.Body.String())
				return
			}
			assert.NotContains(t, rec.Body.String(), tc.err.Error())
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, stubAuth{})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/auth/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ============================================================================
// Middleware
// ============================================================================

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeInternal, decodeError(t, rec).Code)
}

func TestRequestLoggingCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("tradeauth", "info", &buf)
	h := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(correlationHeader, "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get(correlationHeader))
	assert.Contains(t, buf.String(), `"correlation_id":"corr-123"`)
	assert.Contains(t, buf.String(), `"status":418`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, rec.Header().Get(correlationHeader), 36)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.7", clientIP(req, false))
	assert.Equal(t, "203.0.113.9", clientIP(req, true))

	req.Header.Set("X-Forwarded-For", "garbage")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req, true))
}

// ============================================================================
// Health and metrics
// ============================================================================

func TestHealth(t *testing.T) {
	health := NewHealth(time.Second)
	health.Register("refresh_store", func(context.Context) error { return nil })

	h, err := NewRouter(Config{}, Deps{Auth: stubAuth{}, Health: health, Logger: discardLogger()})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health.Register("credential_store", func(context.Context) error { return errors.New("connection refused") })
	rec = doJSON(t, h, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, statusDown, resp.Status)
	assert.Equal(t, statusUp, resp.Checks["refresh_store"].Status)
	assert.Equal(t, "connection refused", resp.Checks["credential_store"].Error)
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics("tradeauth")
	require.NoError(t, reg.Register(m))

	h, err := NewRouter(Config{}, Deps{
		Auth:           stubAuth{err: tradeauth.ErrAuthenticationFailed},
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         discardLogger(),
	})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "a", "password": "b"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="POST",path="/api/v1/auth/login",service="tradeauth",status="401"} 1`)
	assert.Contains(t, body, "http_request_duration_seconds_bucket")

	assert.Error(t, reg.Register(NewHTTPMetrics("tradeauth")))
}
