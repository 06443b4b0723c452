// Package middleware exposes the HTTP authentication gate built on
// authgate.Engine token verification.
//
// # Guards
//
//   - [RequireAuth] accepts access tokens only (or any kind when the engine is
//     configured without Gate.RequireAccessKind).
//   - [RequireAnyKind] accepts any valid token kind.
//   - [Guard] is the general form over a [Verifier].
//
// Each guard reads the Authorization header, verifies the bearer token and
// injects the verified claims into the request context, where handlers read
// them with [ClaimsFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into verifier calls. It does not
// parse or create tokens itself and never touches the directory. Every
// rejection is the same 401 response; the cause is only logged.
package middleware
