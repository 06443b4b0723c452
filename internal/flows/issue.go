package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/jwt"
)

// IssueFailureKind classifies pair issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureSign
	IssueFailureUnknownSubject
	IssueFailurePersist
)

// IssueResult carries a freshly minted pair or failure metadata.
type IssueResult struct {
	Failure      IssueFailureKind
	Err          error
	AccessToken  string
	RefreshToken string
}

// IssueDeps captures pair issuance dependencies.
type IssueDeps struct {
	IssueToken func(subject string, ttl time.Duration, kind jwt.Kind) (string, error)
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Directory  IssueDirectory
}

func mintPair(subject string, deps IssueDeps) (string, string, error) {
	access, err := deps.IssueToken(subject, deps.AccessTTL, jwt.KindAccess)
	if err != nil {
		return "", "", err
	}
	refresh, err := deps.IssueToken(subject, deps.RefreshTTL, jwt.KindRefresh)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// RunIssuePair mints an access/refresh pair for subject and records the
// refresh token as the identity's current one, replacing any previous value.
func RunIssuePair(ctx context.Context, subject string, deps IssueDeps) IssueResult {
	access, refresh, err := mintPair(subject, deps)
	if err != nil {
		return IssueResult{Failure: IssueFailureSign, Err: err}
	}

	if err := deps.Directory.SetRefreshToken(ctx, subject, refresh); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return IssueResult{Failure: IssueFailureUnknownSubject, Err: err}
		}
		return IssueResult{Failure: IssueFailurePersist, Err: err}
	}

	return IssueResult{
		Failure:      IssueFailureNone,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}
