package flows

import "github.com/MrEthical07/authgate/jwt"

type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureVerify
	ValidateFailureWrongKind
)

type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

// ValidateDeps captures token validation dependencies. An empty RequireKind
// accepts either kind.
type ValidateDeps struct {
	VerifyToken func(string) (*jwt.Claims, error)
	RequireKind jwt.Kind
}

// RunValidate verifies token statelessly. No directory lookup happens here.
func RunValidate(token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.VerifyToken(token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureVerify, Err: err}
	}
	if deps.RequireKind != "" && claims.Kind != deps.RequireKind {
		return ValidateResult{Failure: ValidateFailureWrongKind, Claims: claims}
	}
	return ValidateResult{Failure: ValidateFailureNone, Claims: claims}
}
