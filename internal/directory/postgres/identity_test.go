package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FebinAugustine/dirauth/internal/directory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newIdentityTestFixture(t *testing.T) (*IdentityRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewIdentityRepository(mock)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func sampleIdentity() *directory.Identity {
	return &directory.Identity{
		ID:           "5b7c1f0e-6d2a-4c59-9a77-0d9b8a2f4c11",
		Name:         "Ada Obi",
		Email:        "ada@example.com",
		Phone:        "+2348000000000",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		FellowshipID: "fellowship-7",
		Role:         directory.DefaultRole,
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
}

func identityColumnNames() []string {
	return []string{
		"id", "name", "email", "phone", "password_hash",
		"fellowship_id", "role", "created_at", "updated_at",
	}
}

func identityRow(i *directory.Identity) *pgxmock.Rows {
	return pgxmock.NewRows(identityColumnNames()).AddRow(
		i.ID, i.Name, i.Email, i.Phone, i.PasswordHash,
		i.FellowshipID, i.Role, i.CreatedAt, i.UpdatedAt,
	)
}

func insertArgs(i *directory.Identity) []any {
	return []any{
		i.ID, i.Name, i.Email, i.Phone, i.PasswordHash,
		i.FellowshipID, i.Role, i.CreatedAt, i.UpdatedAt,
	}
}

func TestIdentityRepository_CreateOrFetch_Created(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(insertArgs(in)...).
		WillReturnRows(identityRow(in))

	got, created, err := repo.CreateOrFetch(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_CreateOrFetch_ConflictReturnsExisting(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	existing := sampleIdentity()
	existing.ID = "0f0e8c7a-1111-4a2b-8c3d-9e8f7a6b5c4d"

	in := sampleIdentity()
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(insertArgs(in)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .+ FROM identities WHERE email =").
		WithArgs(in.Email).
		WillReturnRows(identityRow(existing))

	got, created, err := repo.CreateOrFetch(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_CreateOrFetch_UniqueViolationReturnsExisting(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(insertArgs(in)...).
		WillReturnError(fmt.Errorf("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))
	mock.ExpectQuery("SELECT .+ FROM identities WHERE email =").
		WithArgs(in.Email).
		WillReturnRows(identityRow(in))

	_, created, err := repo.CreateOrFetch(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_CreateOrFetch_NormalizesEmailAndDefaultsRole(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	in.Email = "  Ada@Example.COM "
	in.Role = ""

	want := sampleIdentity()
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(insertArgs(want)...).
		WillReturnRows(identityRow(want))

	_, created, err := repo.CreateOrFetch(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_CreateOrFetch_InvalidIdentity(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	_, _, err := repo.CreateOrFetch(context.Background(), &directory.Identity{Email: "x@example.com"})
	assert.ErrorIs(t, err, directory.ErrInvalidIdentity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_CreateOrFetch_DatabaseError(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(insertArgs(in)...).
		WillReturnError(errors.New("connection refused"))

	_, _, err := repo.CreateOrFetch(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert identity")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_FindByEmail(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectQuery("SELECT .+ FROM identities WHERE email =").
		WithArgs("ada@example.com").
		WillReturnRows(identityRow(in))

	got, err := repo.FindByEmail(context.Background(), "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, in.FellowshipID, got.FellowshipID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_FindByEmail_NotFound(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM identities WHERE email =").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, directory.ErrIdentityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_FindByID(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectQuery("SELECT .+ FROM identities WHERE id =").
		WithArgs(in.ID).
		WillReturnRows(identityRow(in))

	got, err := repo.FindByID(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Email, got.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_FindByID_MalformedIDSkipsQuery(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	_, err := repo.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, directory.ErrIdentityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_UpdatePassword(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectExec("UPDATE identities SET password_hash").
		WithArgs(in.ID, "new-hash", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), in.ID, "new-hash"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepository_UpdatePassword_NotFound(t *testing.T) {
	repo, mock := newIdentityTestFixture(t)
	defer mock.Close()

	in := sampleIdentity()
	mock.ExpectExec("UPDATE identities SET password_hash").
		WithArgs(in.ID, "new-hash", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdatePassword(context.Background(), in.ID, "new-hash")
	assert.ErrorIs(t, err, directory.ErrIdentityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
