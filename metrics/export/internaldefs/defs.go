package internaldefs

import (
	"github.com/abctrading/tradeauth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   tradeauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   tradeauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: tradeauth.MetricLoginSuccess, Name: "tradeauth_login_success_total", Help: "Successful login attempts."},
	{ID: tradeauth.MetricLoginFailure, Name: "tradeauth_login_failure_total", Help: "Failed login attempts."},
	{ID: tradeauth.MetricLoginRateLimited, Name: "tradeauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: tradeauth.MetricRefreshSuccess, Name: "tradeauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tradeauth.MetricRefreshFailure, Name: "tradeauth_refresh_failure_total", Help: "Refresh attempts rejected as unknown, expired or malformed."},
	{ID: tradeauth.MetricRefreshReuseDetected, Name: "tradeauth_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: tradeauth.MetricFamilyRevoked, Name: "tradeauth_family_tokens_revoked_total", Help: "Refresh tokens revoked by reuse detection or logout."},
	{ID: tradeauth.MetricLogout, Name: "tradeauth_logout_total", Help: "Logout operations."},
	{ID: tradeauth.MetricStoreUnavailable, Name: "tradeauth_store_unavailable_total", Help: "Operations failed because a store was unavailable."},
	{ID: tradeauth.MetricSigningFailure, Name: "tradeauth_signing_failure_total", Help: "Token issuance failures."},
	{ID: tradeauth.MetricConflict, Name: "tradeauth_token_conflict_total", Help: "Refresh token id collisions on save."},
	{ID: tradeauth.MetricPasswordRehashNeeded, Name: "tradeauth_password_rehash_needed_total", Help: "Logins with a hash below current parameters."},
	{ID: tradeauth.MetricValidateSuccess, Name: "tradeauth_validate_success_total", Help: "Accepted access tokens."},
	{ID: tradeauth.MetricValidateFailure, Name: "tradeauth_validate_failure_total", Help: "Rejected access tokens."},
	{ID: tradeauth.MetricTokensSwept, Name: "tradeauth_tokens_swept_total", Help: "Refresh records removed by the sweeper."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: tradeauth.MetricLoginLatency, Name: "tradeauth_login_latency_seconds", Help: "Login latency histogram."},
	{ID: tradeauth.MetricRefreshLatency, Name: "tradeauth_refresh_latency_seconds", Help: "Refresh latency histogram."},
	{ID: tradeauth.MetricValidateLatency, Name: "tradeauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "tradeauth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix is the instrument-name suffix per bucket, +Inf last.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
