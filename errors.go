package authgate

import "errors"

var (
	// ErrEmailExists is returned by Register when the email is already taken.
	ErrEmailExists = errors.New("email already exists")
	// ErrInvalidRequest is returned when an input fails basic shape checks.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned when a token fails signature, expiry or
	// format checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongKind is returned when a token of the other kind is presented,
	// e.g. an access token to Refresh.
	ErrWrongKind = errors.New("wrong token kind")
	// ErrUnknownSubject is returned when a valid refresh token names an
	// identity the directory does not hold.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrRefreshMismatch is returned when a valid refresh token is not the
	// identity's current one: already rotated, revoked or superseded.
	ErrRefreshMismatch = errors.New("refresh token mismatch")

	// ErrPersistence wraps directory failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrHashing wraps password hashing failures.
	ErrHashing = errors.New("password hashing failure")
	// ErrTokenIssue wraps token signing failures.
	ErrTokenIssue = errors.New("token issue failure")
	// ErrEngineNotReady is returned by methods on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// IsAuthError reports whether err is one of the authentication failures that
// map to an unauthorized response.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrWrongKind) ||
		errors.Is(err, ErrUnknownSubject) ||
		errors.Is(err, ErrRefreshMismatch)
}
