// Package tradeauth authenticates users by password and issues short-lived
// JWT access tokens together with rotating opaque refresh tokens.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Token model
//
// Access tokens are self-contained and never looked up in a store. Refresh
// tokens belong to a family started at login. Each refresh consumes the
// presented token and issues its successor in the same family. Presenting a
// consumed token again revokes the whole family.
//
// # Architecture boundaries
//
// tradeauth is the public surface: [Engine], [Builder], [Config] and value
// types. Password hashing lives in password, credential lookup in
// credential, signing in jwt and keys, refresh persistence in refresh and its
// backend subpackages. Service plumbing (HTTP, config, logging, sweeping)
// lives under internal/ and cmd/.
//
// # Errors
//
// Login and Refresh return [ErrAuthenticationFailed] for every credential or
// token problem so callers cannot probe for accounts. Refresh returns
// [ErrRefreshReuseDetected] after revoking a family; HTTP handlers render it
// exactly like ErrAuthenticationFailed. [ErrStoreUnavailable] is transient.
package tradeauth
