package jwt

import "errors"

var (
	// ErrMalformed matches tokens that cannot be parsed or lack required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid matches tokens whose HMAC does not verify or whose alg is not HS256.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired matches tokens whose exp is not after the current time.
	ErrExpired = errors.New("token expired")
)

// Reason classifies a verification failure.
type Reason uint8

const (
	ReasonMalformed Reason = iota + 1
	ReasonSignatureInvalid
	ReasonExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonSignatureInvalid:
		return "signature_invalid"
	case ReasonExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// TokenError is returned by Manager.Verify.
type TokenError struct {
	Reason Reason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Reason.String()
	}
	return "token " + e.Reason.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error { return e.Err }

// Is lets errors.Is match a TokenError against the package sentinels.
func (e *TokenError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Reason == ReasonMalformed
	case ErrSignatureInvalid:
		return e.Reason == ReasonSignatureInvalid
	case ErrExpired:
		return e.Reason == ReasonExpired
	}
	return false
}
