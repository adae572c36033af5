package tradeauth

import "errors"

var (
	// ErrInvalidCredentials is the verifier's mismatch outcome. It is logged
	// and audited but never returned from Login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthenticationFailed is the single caller-facing failure for login
	// and refresh. It does not reveal whether a user exists.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrRefreshReuseDetected is returned when a consumed refresh token is
	// presented again. The token family has been revoked.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable is returned when a backing store fails or times
	// out. No partial state is written; the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSigning is returned when no usable signing key is available.
	ErrSigning = errors.New("token signing failed")
	// ErrConflict is returned when a freshly minted token id already exists.
	ErrConflict = errors.New("token id conflict")
	// ErrTokenInvalid is returned by ValidateAccess.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrLoginRateLimited is returned when the login limiter rejects a call.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
