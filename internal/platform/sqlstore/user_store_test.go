package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/domain"
	"github.com/phrazzld/kit/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(name, "correct-horse")
	require.NoError(t, err)
	u.HashedPassword = "$2a$10$hash"
	return u
}

func TestUserStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore(database.OpenTestEngine(t))

	bob, alice := newTestUser(t, "bob"), newTestUser(t, "alice")
	require.NoError(t, s.Create(ctx, bob))
	require.NoError(t, s.Create(ctx, alice))

	got, err := s.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.HashedPassword)
	assert.Empty(t, got.Password)

	got, err = s.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username, "Users are ordered by name")

	require.NoError(t, s.Delete(ctx, "bob"))
	_, err = s.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "bob"), store.ErrUserNotFound)
}

func TestUserStoreDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore(database.OpenTestEngine(t))
	require.NoError(t, s.Create(ctx, newTestUser(t, "bob")))

	err := s.Create(ctx, newTestUser(t, "bob"))

	assert.ErrorIs(t, err, store.ErrUsernameExists)
	assert.True(t, store.IsDuplicateError(err))
}

func TestUserStoreRequiresHash(t *testing.T) {
	s := NewUserStore(database.OpenTestEngine(t))
	u := newTestUser(t, "bob")
	u.HashedPassword = ""

	assert.ErrorIs(t, s.Create(context.Background(), u), domain.ErrEmptyPasswordHash)
}

func TestUserStoreGetByIDUnknown(t *testing.T) {
	s := NewUserStore(database.OpenTestEngine(t))

	_, err := s.GetByID(context.Background(), uuid.New())

	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestUserStoreInSession(t *testing.T) {
	ctx := context.Background()
	engine := database.OpenTestEngine(t)
	s := NewUserStore(engine)

	session := engine.NewSession()
	require.NoError(t, s.WithDB(session).Create(ctx, newTestUser(t, "carol")))
	require.NoError(t, session.Rollback())
	require.NoError(t, session.Close())

	_, err := s.GetByUsername(ctx, "carol")
	assert.ErrorIs(t, err, store.ErrUserNotFound, "Rolled back users are not stored")
}

func TestUserStoreDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewUserStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kit_users")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kit_users")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Create(context.Background(), newTestUser(t, "bob"))
	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "create", storeErr.Operation)

	_, err = s.GetByUsername(context.Background(), "bob")
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Operation)

	assert.ErrorIs(t, s.Delete(context.Background(), "bob"), store.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
