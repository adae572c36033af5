// Package jwt issues and verifies signed access tokens.
//
// Signing material is supplied through a [KeyProvider] so that keys can be
// rotated while the process runs. A [KeySet] carries one signing key and any
// number of verification keys indexed by kid; tokens signed with a retired key
// keep verifying until they expire as long as the retired public key stays in
// the verify set.
package jwt
