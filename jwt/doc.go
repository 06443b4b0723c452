// Package jwt issues and verifies the HS256 access and refresh tokens used by
// authgate.
//
// Both kinds share one claim set (sub, exp, iat, jti, token_type) and one
// signing secret. Verification is pure: it checks the algorithm, the signature
// and the expiry, and never consults persisted state. Whether a refresh token is
// still the current one is decided by the caller.
package jwt
