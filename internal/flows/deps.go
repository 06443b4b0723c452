package flows

import (
	"context"

	"github.com/MrEthical07/authgate/directory"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Register RegisterDeps
	Login    LoginDeps
	Issue    IssueDeps
	Refresh  RefreshDeps
	Logout   LogoutDeps
	Validate ValidateDeps
}

// AuditFunc emits one audit event. metadata is evaluated lazily.
type AuditFunc func(ctx context.Context, event string, success bool, subject string, err error, metadata func() map[string]string)

type RegisterDirectory interface {
	FindByEmail(ctx context.Context, email string) (directory.Identity, error)
	Create(ctx context.Context, identity directory.Identity) (directory.Identity, error)
}

type LoginDirectory interface {
	FindByEmail(ctx context.Context, email string) (directory.Identity, error)
	UpdatePasswordHash(ctx context.Context, email, hash string) error
}

type IssueDirectory interface {
	SetRefreshToken(ctx context.Context, email, token string) error
}

type RefreshDirectory interface {
	FindByEmail(ctx context.Context, email string) (directory.Identity, error)
	CompareAndSwapRefreshToken(ctx context.Context, email, expected, next string) error
}

type LogoutDirectory interface {
	ClearRefreshToken(ctx context.Context, email string) error
}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func noopWarn(string, ...any) {}

func noopMetric(int) {}
