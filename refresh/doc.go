// Package refresh defines refresh-token records, their opaque wire format and
// the storage contract used for rotation and reuse detection.
//
// # Token format
//
// A refresh token handed to a client is base64url(id[16] || secret[32]). The id
// is the lookup key; only sha256(secret) is stored, so a leaked database does
// not yield usable tokens.
//
// # Lifecycle
//
// A record is LIVE until it is either consumed by rotation or revoked together
// with its family. Both transitions are terminal and set ConsumedAt. Presenting
// a record that is no longer live is the reuse signal the caller acts on.
//
// # Backends
//
// memstore, redisstore and pgstore implement [Store] and [Rotator]. [Guard]
// wraps any of them with per-operation timeouts and a circuit breaker.
package refresh
