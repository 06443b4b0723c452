// Package authgate issues, verifies and rotates HS256 access/refresh token
// pairs for identities held in a [directory.Directory].
//
// An identity has at most one live refresh token. Login overwrites it,
// Refresh replaces it with a compare-and-swap against the presented value,
// and Logout clears it. Access tokens are stateless: [Engine.VerifyAccess]
// never touches the directory, so an access token stays valid until it
// expires even after logout.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// the error sentinels and value types. Flow orchestration and audit dispatch
// live under internal/. Storage backends live under directory/, the HTTP
// gate under middleware/ and the JSON API under httpapi/.
//
// # Concurrency
//
// Engine methods are safe for concurrent use after [Builder.Build]. Password
// hashing is memory-hard and bounded by Config.Password.MaxConcurrent; callers
// waiting for a slot give up when their context ends.
package authgate
