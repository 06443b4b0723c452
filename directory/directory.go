package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no identity has the requested email.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicateEmail is returned by Create when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrRefreshConflict is returned by CompareAndSwapRefreshToken when the
	// stored refresh token no longer equals the expected value.
	ErrRefreshConflict = errors.New("refresh token changed concurrently")
	// ErrUnavailable wraps driver and network failures.
	ErrUnavailable = errors.New("directory unavailable")
)

// Identity is a registered account.
//
// RefreshToken holds the single live refresh token; the empty string means the
// identity has no active refresh session.
type Identity struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Directory persists identities keyed by email.
//
// Implementations must enforce email uniqueness themselves; callers may
// pre-check with FindByEmail but Create is the authority.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (Identity, error)
	// Create stores a new identity and returns it with ID and timestamps set.
	Create(ctx context.Context, identity Identity) (Identity, error)
	// SetRefreshToken overwrites the stored refresh token unconditionally.
	SetRefreshToken(ctx context.Context, email, token string) error
	// CompareAndSwapRefreshToken replaces expected with next atomically, or
	// returns ErrRefreshConflict when the stored value differs from expected.
	CompareAndSwapRefreshToken(ctx context.Context, email, expected, next string) error
	// ClearRefreshToken removes the stored refresh token.
	ClearRefreshToken(ctx context.Context, email string) error
	UpdatePasswordHash(ctx context.Context, email, hash string) error
	Close() error
}
