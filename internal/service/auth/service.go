package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/kit/internal/domain"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/store"
)

// Service registers users and logs them in.
type Service struct {
	users    store.UserStore
	verifier PasswordVerifier
	tokens   JWTService
}

// NewService returns an auth service. tokens may be nil when only user
// management is needed.
func NewService(users store.UserStore, verifier PasswordVerifier, tokens JWTService) *Service {
	if verifier == nil {
		verifier = NewBcryptVerifier()
	}
	return &Service{users: users, verifier: verifier, tokens: tokens}
}

// Tokens returns the token service.
func (s *Service) Tokens() JWTService { return s.tokens }

// Register validates and stores a new user.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := domain.NewUser(username, password)
	if err != nil {
		return nil, err
	}
	if u.HashedPassword, err = HashPassword(u.Password); err != nil {
		return nil, err
	}
	u.Password = ""

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("user registered", "username", u.Username, "user_id", u.ID)
	return u, nil
}

// Login checks the credentials and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if s.tokens == nil {
		return "", nil, errors.New("login requires a token service")
	}

	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := s.verifier.Compare(u.HashedPassword, password); err != nil {
		logger.FromContext(ctx).Debug("password mismatch", "username", username)
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(ctx, u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Users lists the registered users.
func (s *Service) Users(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// Remove deletes a user. Tokens already issued stay valid until they
// expire.
func (s *Service) Remove(ctx context.Context, username string) error {
	if err := s.users.Delete(ctx, username); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("user removed", "username", username)
	return nil
}
