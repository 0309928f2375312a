package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/kit/internal/domain"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/store"
)

// UserStore implements store.UserStore on the kit_users table.
type UserStore struct {
	db store.DBTX
}

// NewUserStore returns a store running its statements on db, an engine or
// a session.
func NewUserStore(db store.DBTX) *UserStore {
	return &UserStore{db: db}
}

var _ store.UserStore = (*UserStore)(nil)

// WithDB implements store.UserStore.
func (s *UserStore) WithDB(db store.DBTX) store.UserStore {
	return &UserStore{db: db}
}

// Create implements store.UserStore.
func (s *UserStore) Create(ctx context.Context, user *domain.User) error {
	log := logger.FromContext(ctx)

	if user.HashedPassword == "" {
		return domain.ErrEmptyPasswordHash
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kit_users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.HashedPassword, user.CreatedAt.UTC())
	if err != nil {
		if errors.Is(MapError(err), store.ErrDuplicate) {
			log.Debug("username already taken", "username", user.Username)
			return store.ErrUsernameExists
		}
		log.Error("failed to create user", "error", err, "username", user.Username)
		return store.NewStoreError("user", "create", err)
	}

	log.Debug("user created", "user_id", user.ID, "username", user.Username)
	return nil
}

const selectUser = `SELECT id, username, password_hash, created_at FROM kit_users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u  domain.User
		id string
	)
	if err := row.Scan(&id, &u.Username, &u.HashedPassword, &u.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	u.ID = parsed
	return &u, nil
}

func (s *UserStore) get(ctx context.Context, where string, arg any) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE "+where+" = ?", arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to get user", "error", err, where, arg)
		return nil, store.NewStoreError("user", "get", err)
	}
	return u, nil
}

// GetByID implements store.UserStore.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.get(ctx, "id", id.String())
}

// GetByUsername implements store.UserStore.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.get(ctx, "username", username)
}

// List implements store.UserStore.
func (s *UserStore) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUser+" ORDER BY username")
	if err != nil {
		return nil, store.NewStoreError("user", "list", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, store.NewStoreError("user", "list", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("user", "list", err)
	}
	return users, nil
}

// Delete implements store.UserStore.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kit_users WHERE username = ?`, username)
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete user", "error", err, "username", username)
		return store.NewStoreError("user", "delete", err)
	}
	return CheckRowsAffected(result, store.ErrUserNotFound)
}
