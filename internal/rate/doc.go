// Package rate implements Redis fixed-window counters for failed logins.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys:
//   - {prefix}:al:{sha256(username)}  failed logins per user
//   - {prefix}:ali:{ip}               failed logins per client IP
//
// The package returns its own sentinels; the root package maps them onto
// the Engine's errors.
package rate
