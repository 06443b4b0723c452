// Package password hashes and verifies credentials with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and digest use unpadded standard base64. Verification reads the cost
// parameters from the stored string, so [Argon2.NeedsUpgrade] can report hashes
// produced with weaker settings and the caller can re-hash after a successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. It imposes no password
// length or complexity policy; request validation happens at the HTTP layer.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials.
//   - Import any other authgate package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
