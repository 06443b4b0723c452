package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/directory"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Directory LogoutDirectory
}

// RunRevoke clears the stored refresh token of subject. An unknown subject is
// already revoked. Outstanding access tokens are unaffected.
func RunRevoke(ctx context.Context, subject string, deps LogoutDeps) error {
	err := deps.Directory.ClearRefreshToken(ctx, subject)
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	return err
}
