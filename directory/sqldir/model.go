package sqldir

import (
	"time"

	"github.com/MrEthical07/authgate/directory"
	"github.com/uptrace/bun"
)

type identityRow struct {
	bun.BaseModel `bun:"table:identities,alias:i"`

	ID           string    `bun:"id,pk"`
	Username     string    `bun:"username,notnull"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	RefreshToken string    `bun:"refresh_token,nullzero"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (r *identityRow) toIdentity() directory.Identity {
	return directory.Identity{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		RefreshToken: r.RefreshToken,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
