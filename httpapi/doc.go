// Package httpapi serves the authgate JSON API: registration, login, refresh,
// logout and a protected profile route, plus the service index, health
// check and OpenAPI document.
//
// Handlers decode and validate the request body, call the engine and map
// engine errors onto status codes in one place. Driver or
// hashing details never reach the client; they are logged instead.
package httpapi
