package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/directory"
	"github.com/MrEthical07/authgate/password"
)

type LoginMetrics struct {
	Success int
	Failure int
}

type LoginEvents struct {
	Success string
	Failure string
}

type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	Persistence        error
	TokenIssue         error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	VerifyPassword         func(ctx context.Context, password, encoded string) (bool, error)
	PasswordNeedsUpgrade   func(encoded string) (bool, error)
	HashPassword           func(ctx context.Context, password string) (string, error)
	PasswordUpgradeOnLogin bool

	Directory LoginDirectory
	Issue     IssueDeps

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// LoginResult carries the issued pair of a successful login.
type LoginResult struct {
	Identity     directory.Identity
	AccessToken  string
	RefreshToken string
}

// RunLogin verifies the credential and issues a new pair, overwriting any
// stored refresh token. Unknown email and wrong password are indistinguishable
// to the caller.
func RunLogin(ctx context.Context, email, secret string, deps LoginDeps) (*LoginResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.VerifyPassword == nil || deps.Directory == nil || deps.Issue.IssueToken == nil || deps.Issue.Directory == nil {
		return nil, deps.Errors.EngineNotReady
	}

	reject := func(reason string, cause error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, email, deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, deps.Errors.InvalidCredentials
	}
	fail := func(kind error, cause error, reason string) (*LoginResult, error) {
		err := errors.Join(kind, cause)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, err
	}

	identity, err := deps.Directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return reject("user_not_found", err)
		}
		return fail(deps.Errors.Persistence, err, "lookup")
	}

	ok, err := deps.VerifyPassword(ctx, secret, identity.PasswordHash)
	if err != nil && ctx.Err() != nil {
		return fail(deps.Errors.Persistence, ctx.Err(), "canceled")
	}
	if errors.Is(err, password.ErrMalformedHash) {
		deps.Warn("authgate: stored password hash unreadable", "error", err)
	}
	if err != nil || !ok {
		return reject("password_mismatch", err)
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(identity.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := deps.HashPassword(ctx, secret); err == nil {
				if err := deps.Directory.UpdatePasswordHash(ctx, email, upgradedHash); err != nil {
					deps.Warn("authgate: password hash upgrade update failed", "error", err)
				}
			} else {
				deps.Warn("authgate: password hash upgrade generation failed", "error", err)
			}
		}
	}
	secret = ""

	issued := RunIssuePair(ctx, email, deps.Issue)
	switch issued.Failure {
	case IssueFailureNone:
	case IssueFailureSign:
		return fail(deps.Errors.TokenIssue, issued.Err, "sign")
	default:
		return fail(deps.Errors.Persistence, issued.Err, "persist_refresh")
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, email, nil, nil)
	return &LoginResult{
		Identity:     identity,
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
	}, nil
}
