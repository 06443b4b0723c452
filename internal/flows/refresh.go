package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/jwt"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureVerify
	RefreshFailureWrongKind
	RefreshFailureLookup
	RefreshFailureUnknownSubject
	RefreshFailureMismatch
	RefreshFailureSign
	RefreshFailureRotate
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	Subject      string
	AccessToken  string
	RefreshToken string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyToken func(string) (*jwt.Claims, error)
	Issue       IssueDeps
	Directory   RefreshDirectory
}

// RunRefresh exchanges the presented refresh token for a new pair.
//
// A cryptographically valid token is accepted only while it equals the stored
// current token. The replacement is a compare-and-swap against that value, so
// of several concurrent refreshes with the same token exactly one succeeds.
func RunRefresh(ctx context.Context, presented string, deps RefreshDeps) RefreshResult {
	claims, err := deps.VerifyToken(presented)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureVerify, Err: err}
	}
	subject := claims.Subject
	if claims.Kind != jwt.KindRefresh {
		return RefreshResult{Failure: RefreshFailureWrongKind, Subject: subject}
	}

	identity, err := deps.Directory.FindByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureUnknownSubject, Err: err, Subject: subject}
		}
		return RefreshResult{Failure: RefreshFailureLookup, Err: err, Subject: subject}
	}
	if identity.RefreshToken == "" || identity.RefreshToken != presented {
		return RefreshResult{Failure: RefreshFailureMismatch, Subject: subject}
	}

	access, refresh, err := mintPair(subject, deps.Issue)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureSign, Err: err, Subject: subject}
	}

	if err := deps.Directory.CompareAndSwapRefreshToken(ctx, subject, presented, refresh); err != nil {
		switch {
		case errors.Is(err, directory.ErrRefreshConflict):
			return RefreshResult{Failure: RefreshFailureMismatch, Err: err, Subject: subject}
		case errors.Is(err, directory.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureUnknownSubject, Err: err, Subject: subject}
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err, Subject: subject}
		}
	}

	return RefreshResult{
		Failure:      RefreshFailureNone,
		Subject:      subject,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}
