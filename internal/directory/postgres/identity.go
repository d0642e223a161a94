// Package postgres implements directory.Directory on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FebinAugustine/dirauth/internal/directory"
)

var _ directory.Directory = (*IdentityRepository)(nil)

// DBTX is the subset of a pgx pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const identityColumns = `id, name, email, phone, password_hash, fellowship_id, role, created_at, updated_at`

// IdentityRepository stores identities in the identities table.
type IdentityRepository struct {
	db  DBTX
	now func() time.Time
}

// NewIdentityRepository creates a repository over a pool or transaction.
func NewIdentityRepository(db DBTX) *IdentityRepository {
	return &IdentityRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// FindByEmail looks up an identity by normalized email.
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*directory.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`

	identity, err := scanIdentity(r.db.QueryRow(ctx, query, directory.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity by email: %w", err)
	}
	return identity, nil
}

// FindByID looks up an identity by id.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*directory.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, directory.ErrIdentityNotFound
	}

	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`

	identity, err := scanIdentity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity by id: %w", err)
	}
	return identity, nil
}

// CreateOrFetch inserts the identity, or returns the row that already owns
// its email. A conflicting insert returns no row and falls through to a read.
func (r *IdentityRepository) CreateOrFetch(ctx context.Context, identity *directory.Identity) (*directory.Identity, bool, error) {
	if err := directory.Prepare(identity); err != nil {
		return nil, false, err
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := r.now()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + identityColumns

	created, err := scanIdentity(r.db.QueryRow(ctx, query,
		identity.ID,
		identity.Name,
		identity.Email,
		identity.Phone,
		identity.PasswordHash,
		identity.FellowshipID,
		identity.Role,
		identity.CreatedAt,
		identity.UpdatedAt,
	))
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
	default:
		return nil, false, fmt.Errorf("insert identity: %w", err)
	}

	existing, err := r.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, false, fmt.Errorf("fetch conflicting identity: %w", err)
	}
	return existing, false, nil
}

// UpdatePassword replaces the stored password hash.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return directory.ErrIdentityNotFound
	}

	query := `UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, passwordHash, r.now())
	if err != nil {
		return fmt.Errorf("update identity password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (*directory.Identity, error) {
	var identity directory.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Name,
		&identity.Email,
		&identity.Phone,
		&identity.PasswordHash,
		&identity.FellowshipID,
		&identity.Role,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
