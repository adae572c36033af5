// Package redisstore implements refresh.Store on Redis.
//
// # Key layout
//
//	<prefix>:rt:<tokenId>    hash  uid fid sh iat exp aexp pid [cat rev]
//	<prefix>:rtf:<familyId>  set   token ids of the family
//	<prefix>:rtx             zset  "<tokenId>:<familyId>" scored by exp (unix ms)
//
// Token hashes expire natively at ExpiresAt+retention. The zset index lets
// SweepExpired remove records and family memberships deterministically even
// when native expiry has already dropped the hash.
//
// Every state transition runs as a single Lua script, so consume, rotate and
// family revocation are atomic with respect to each other on one Redis node.
// Scripts derive member keys from the prefix, which requires all keys of a
// prefix to live on the same node when Redis Cluster is used.
package redisstore
