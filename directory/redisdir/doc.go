// Package redisdir stores identities in Redis.
//
// Each identity is a hash at "<prefix>:<email>". Create, the refresh-token
// compare-and-swap and field updates run as Lua scripts, so each is a single
// atomic step on the server and concurrent callers never interleave.
package redisdir
