package auth

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser(t *testing.T) *domain.User {
	t.Helper()
	u, err := domain.NewUser("gopher", "correct-horse")
	require.NoError(t, err)
	return u
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tokenLifetime := 60 * time.Minute
	user := testUser(t)
	svc := NewTestJWTService(t, tokenLifetime, func() time.Time { return fixedTime })

	token, err := svc.GenerateToken(context.Background(), user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "gopher", claims.Username)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(tokenLifetime).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	user := testUser(t)
	issuer := NewTestJWTService(t, time.Hour, func() time.Time { return fixedTime })
	token, err := issuer.GenerateToken(context.Background(), user)
	require.NoError(t, err)

	other, err := newJWTService("another-secret-that-is-long-enough-too", time.Hour, func() time.Time { return fixedTime })
	require.NoError(t, err)

	tests := []struct {
		name    string
		svc     JWTService
		token   string
		wantErr error
	}{
		{
			name:  "valid token",
			svc:   issuer,
			token: token,
		},
		{
			name:    "expired token",
			svc:     NewTestJWTService(t, time.Hour, func() time.Time { return fixedTime.Add(2 * time.Hour) }),
			token:   token,
			wantErr: ErrExpiredToken,
		},
		{
			name:  "within clock skew",
			svc:   NewTestJWTService(t, time.Hour, func() time.Time { return fixedTime.Add(time.Hour + time.Minute) }),
			token: token,
		},
		{
			name:    "wrong secret",
			svc:     other,
			token:   token,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "malformed token",
			svc:     issuer,
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := tc.svc.ValidateToken(context.Background(), tc.token)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, user.ID, claims.UserID)
		})
	}
}

func TestNewJWTService(t *testing.T) {
	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: TestSecret})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.(*hmacJWTService).tokenLifetime, "Zero lifetime defaults to one hour")
}
