package sqldir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/directory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const pgUniqueViolation = "23505"

// Store is a bun-backed identity directory.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

var _ directory.Directory = (*Store)(nil)

// New wraps an existing bun database. The identities table must already exist.
func New(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// OpenSQLite opens dsn with the sqliteshim driver and applies migrations.
//
// SQLite serializes writers, so the pool is limited to one connection; this
// also keeps ":memory:" databases on a single handle.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldir: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	if err := Migrate(ctx, sqldb, "sqlite3", logger); err != nil {
		sqldb.Close()
		return nil, err
	}
	return New(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

// OpenPostgres opens dsn with the pgx stdlib driver and applies migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldir: open postgres: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}

	if err := Migrate(ctx, sqldb, "pgx", logger); err != nil {
		sqldb.Close()
		return nil, err
	}
	return New(bun.NewDB(sqldb, pgdialect.New())), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindByEmail loads the identity stored for email.
func (s *Store) FindByEmail(ctx context.Context, email string) (directory.Identity, error) {
	row := new(identityRow)
	err := s.db.NewSelect().Model(row).Where("email = ?", email).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return directory.Identity{}, directory.ErrNotFound
		}
		return directory.Identity{}, unavailable(err)
	}
	return row.toIdentity(), nil
}

// Create inserts identity. The UNIQUE constraint on email rejects duplicates,
// including concurrent ones.
func (s *Store) Create(ctx context.Context, identity directory.Identity) (directory.Identity, error) {
	if identity.Email == "" {
		return directory.Identity{}, errors.New("sqldir: identity email is empty")
	}
	now := s.now().UTC()
	row := &identityRow{
		ID:           uuid.NewString(),
		Username:     identity.Username,
		Email:        identity.Email,
		PasswordHash: identity.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return directory.Identity{}, directory.ErrDuplicateEmail
		}
		return directory.Identity{}, unavailable(err)
	}
	return row.toIdentity(), nil
}

func (s *Store) update(ctx context.Context, email string, set func(q *bun.UpdateQuery) *bun.UpdateQuery) error {
	q := s.db.NewUpdate().
		Model((*identityRow)(nil)).
		Set("updated_at = ?", s.now().UTC()).
		Where("email = ?", email)

	res, err := set(q).Exec(ctx)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the stored refresh token.
func (s *Store) SetRefreshToken(ctx context.Context, email, token string) error {
	return s.update(ctx, email, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("refresh_token = ?", token)
	})
}

// CompareAndSwapRefreshToken is a conditional UPDATE; when it matches no row a
// follow-up existence check tells a conflict apart from an unknown email.
func (s *Store) CompareAndSwapRefreshToken(ctx context.Context, email, expected, next string) error {
	err := s.update(ctx, email, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("refresh_token = ?", next).Where("refresh_token = ?", expected)
	})
	if !errors.Is(err, directory.ErrNotFound) {
		return err
	}

	exists, err := s.db.NewSelect().Model((*identityRow)(nil)).Where("email = ?", email).Exists(ctx)
	if err != nil {
		return unavailable(err)
	}
	if !exists {
		return directory.ErrNotFound
	}
	return directory.ErrRefreshConflict
}

// ClearRefreshToken sets refresh_token to NULL.
func (s *Store) ClearRefreshToken(ctx context.Context, email string) error {
	return s.update(ctx, email, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("refresh_token = NULL")
	})
}

// UpdatePasswordHash replaces the stored credential hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	return s.update(ctx, email, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("password_hash = ?", hash)
	})
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
