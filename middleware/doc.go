// Package middleware adapts tradeauth access-token validation to net/http.
//
// [RequireAccess] reads the Bearer token from the Authorization header, calls
// Engine.ValidateAccess and stores the verified claims in the request
// context, where [AuthResultFromContext] retrieves them. [RequireScope]
// additionally checks the scope claim.
//
// The package never parses tokens itself and never touches a store.
package middleware
