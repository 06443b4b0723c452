// Package sqldir stores identities in a SQL database through bun.
//
// SQLite (via sqliteshim) and PostgreSQL (via pgx) are supported. The schema is
// embedded and applied with goose when a store is opened. Email uniqueness is a
// table constraint; refresh rotation is a conditional UPDATE on the current value.
package sqldir
