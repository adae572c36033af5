// Package credential verifies a username and password against stored
// credential records.
//
// The [Verifier] performs a full hash comparison on every path, including
// unknown usernames and malformed records, so response timing does not reveal
// whether an account exists. [ErrNotFound] and [ErrInvalidCredentials] are
// distinguished for logging and audit only; callers facing the network must
// collapse them into a single failure.
//
// Records are read-only here. Provisioning happens out of band (see
// cmd/tradeauth-hash) or through [PostgresStore.Upsert] during bootstrap.
package credential
