package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/kit/internal/domain"
)

// UserStore persists dashboard and web users.
type UserStore interface {
	// Create stores a user whose HashedPassword is already set.
	// Returns ErrUsernameExists when the name is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID returns ErrUserNotFound when no user has the ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByUsername returns ErrUserNotFound when no user has the name.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// List returns every user ordered by name.
	List(ctx context.Context) ([]*domain.User, error)

	// Delete returns ErrUserNotFound when no user has the name.
	Delete(ctx context.Context, username string) error

	// WithDB returns a store running its statements on db, typically a
	// session or a transaction.
	WithDB(db DBTX) UserStore
}
