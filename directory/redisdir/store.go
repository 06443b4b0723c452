package redisdir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/directory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldID           = "id"
	fieldUsername     = "username"
	fieldEmail        = "email"
	fieldPasswordHash = "password_hash"
	fieldRefreshToken = "refresh_token"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

const (
	statusNotFound int64 = 0
	statusConflict int64 = 1
	statusApplied  int64 = 2
)

// createScript writes the identity hash only when the key is absent, which is
// what makes email uniqueness hold across concurrent registrations.
const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 1
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 2
`

var createLua = redis.NewScript(createScript)

// updateScript sets ARGV[1..] field/value pairs on an existing hash.
const updateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 2
`

var updateLua = redis.NewScript(updateScript)

const swapRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local current = redis.call("HGET", KEYS[1], "refresh_token") or ""
if current == "" or current ~= ARGV[1] then
  return 1
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[2], "updated_at", ARGV[3])
return 2
`

var swapRefreshLua = redis.NewScript(swapRefreshScript)

// Store keeps one hash per identity under "<prefix>:<email>".
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ directory.Directory = (*Store)(nil)

// New returns a Store using client. An empty prefix defaults to "agid".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "agid"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(email string) string {
	return s.prefix + ":" + email
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FindByEmail loads the identity stored for email.
func (s *Store) FindByEmail(ctx context.Context, email string) (directory.Identity, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(email)).Result()
	if err != nil {
		return directory.Identity{}, unavailable(err)
	}
	if len(fields) == 0 {
		return directory.Identity{}, directory.ErrNotFound
	}

	identity := directory.Identity{
		ID:           fields[fieldID],
		Username:     fields[fieldUsername],
		Email:        fields[fieldEmail],
		PasswordHash: fields[fieldPasswordHash],
		RefreshToken: fields[fieldRefreshToken],
	}
	if identity.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return directory.Identity{}, fmt.Errorf("redisdir: corrupt created_at for %q: %w", email, err)
	}
	if identity.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err != nil {
		return directory.Identity{}, fmt.Errorf("redisdir: corrupt updated_at for %q: %w", email, err)
	}

	return identity, nil
}

// Create inserts identity if no record exists for its email.
//
//	Performance: 1 EVALSHA.
func (s *Store) Create(ctx context.Context, identity directory.Identity) (directory.Identity, error) {
	if identity.Email == "" {
		return directory.Identity{}, errors.New("redisdir: identity email is empty")
	}
	now := s.now()
	identity.ID = uuid.NewString()
	identity.RefreshToken = ""
	identity.CreatedAt = now.UTC()
	identity.UpdatedAt = now.UTC()

	status, err := createLua.Run(ctx, s.redis, []string{s.key(identity.Email)},
		fieldID, identity.ID,
		fieldUsername, identity.Username,
		fieldEmail, identity.Email,
		fieldPasswordHash, identity.PasswordHash,
		fieldRefreshToken, "",
		fieldCreatedAt, formatTime(now),
		fieldUpdatedAt, formatTime(now),
	).Int64()
	if err != nil {
		return directory.Identity{}, unavailable(err)
	}
	if status != statusApplied {
		return directory.Identity{}, directory.ErrDuplicateEmail
	}

	return identity, nil
}

func (s *Store) update(ctx context.Context, email string, pairs ...string) error {
	args := make([]interface{}, 0, len(pairs)+2)
	for _, p := range pairs {
		args = append(args, p)
	}
	args = append(args, fieldUpdatedAt, formatTime(s.now()))

	status, err := updateLua.Run(ctx, s.redis, []string{s.key(email)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if status == statusNotFound {
		return directory.ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the stored refresh token.
func (s *Store) SetRefreshToken(ctx context.Context, email, token string) error {
	return s.update(ctx, email, fieldRefreshToken, token)
}

// CompareAndSwapRefreshToken rotates the refresh token only if it still equals expected.
//
//	Performance: 1 EVALSHA.
func (s *Store) CompareAndSwapRefreshToken(ctx context.Context, email, expected, next string) error {
	status, err := swapRefreshLua.Run(ctx, s.redis, []string{s.key(email)},
		expected, next, formatTime(s.now())).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch status {
	case statusNotFound:
		return directory.ErrNotFound
	case statusConflict:
		return directory.ErrRefreshConflict
	default:
		return nil
	}
}

// ClearRefreshToken empties the stored refresh token.
func (s *Store) ClearRefreshToken(ctx context.Context, email string) error {
	return s.update(ctx, email, fieldRefreshToken, "")
}

// UpdatePasswordHash replaces the stored credential hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	return s.update(ctx, email, fieldPasswordHash, hash)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.redis.Close()
}
