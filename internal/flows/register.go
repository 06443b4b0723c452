package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/directory"
)

type RegisterMetrics struct {
	Success   int
	Duplicate int
	Failure   int
}

type RegisterEvents struct {
	Success   string
	Duplicate string
	Failure   string
}

type RegisterErrors struct {
	EngineNotReady error
	EmailExists    error
	Hashing        error
	Persistence    error
}

// RegisterDeps captures registration flow dependencies.
type RegisterDeps struct {
	HashPassword func(ctx context.Context, password string) (string, error)
	Directory    RegisterDirectory

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

// RegisterInput is the validated registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RunRegister hashes the password and creates the identity.
//
// The FindByEmail pre-check only short-circuits the common case; the directory
// still rejects a concurrent duplicate at Create.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) (directory.Identity, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.HashPassword == nil || deps.Directory == nil {
		return directory.Identity{}, deps.Errors.EngineNotReady
	}

	duplicate := func() (directory.Identity, error) {
		deps.MetricInc(deps.Metrics.Duplicate)
		deps.EmitAudit(ctx, deps.Events.Duplicate, false, in.Email, deps.Errors.EmailExists, nil)
		return directory.Identity{}, deps.Errors.EmailExists
	}
	failure := func(kind error, cause error, reason string) (directory.Identity, error) {
		err := errors.Join(kind, cause)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, in.Email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return directory.Identity{}, err
	}

	_, err := deps.Directory.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return duplicate()
	case !errors.Is(err, directory.ErrNotFound):
		return failure(deps.Errors.Persistence, err, "lookup")
	}

	hash, err := deps.HashPassword(ctx, in.Password)
	if err != nil {
		return failure(deps.Errors.Hashing, err, "hash")
	}

	created, err := deps.Directory.Create(ctx, directory.Identity{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, directory.ErrDuplicateEmail) {
			return duplicate()
		}
		return failure(deps.Errors.Persistence, err, "create")
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, in.Email, nil, func() map[string]string {
		return map[string]string{"identity_id": created.ID}
	})
	return created, nil
}
