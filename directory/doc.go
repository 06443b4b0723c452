// Package directory defines the identity store used by authgate and the
// errors its implementations return.
//
// # Implementations
//
//   - [github.com/MrEthical07/authgate/directory/redisdir]: one Redis hash per
//     identity, conditional writes as Lua scripts.
//   - [github.com/MrEthical07/authgate/directory/sqldir]: a bun-mapped
//     identities table on SQLite or PostgreSQL with a UNIQUE email column.
//
// Both are exercised by the shared suite in directorytest.
//
// # What this package must NOT do
//
//   - Hash passwords or interpret tokens; values are stored as opaque strings.
//   - Serialize writes in-process. Races are resolved by the store.
package directory
