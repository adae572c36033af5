// Package password hashes and verifies user passwords.
//
// # Algorithms
//
// Two hashers are provided. [Argon2] is the current algorithm and emits PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] verifies legacy records ($2a$, $2b$, $2y$ prefixes) so that imported
// credentials keep working until they are re-hashed.
//
// A [Registry] resolves the hasher for a stored record by algorithm version or,
// when no version is recorded, by the hash prefix.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials. Callers supply plaintext and receive hashes.
//   - Log plaintext passwords or hash parameters at runtime.
package password
