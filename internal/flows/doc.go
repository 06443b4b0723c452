// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunRegister, RunLogin, RunRefresh, ...) accepts a typed
// dependency struct and returns results without side-effects beyond those
// dependencies. The Engine builds the dependency sets once and stays thin.
//
// # Architecture boundaries
//
// Flows coordinate the password hasher, the token manager, the identity
// directory, audit and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
