package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/kit/internal/api/shared"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/redact"
	"github.com/phrazzld/kit/internal/service/auth"
)

// TokenCookie is the cookie the login handler stores the token in, for
// browsers rendering templates.
const TokenCookie = "kit_token"

// AuthMiddleware provides JWT authentication for routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// tokenFrom returns the bearer token of the request, falling back to the
// token cookie.
func tokenFrom(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", auth.ErrInvalidToken
		}
		return parts[1], nil
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", auth.ErrMissingToken
}

// Authenticate adds the claims of a valid token to the request context.
// Requests without a valid token go through anonymously.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := tokenFrom(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		if err != nil {
			logger.FromContext(r.Context()).Debug("ignoring invalid token", "error", redact.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.WithClaims(r.Context(), claims)))
	})
}

// RequireUser rejects requests without a valid token.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.GetClaims(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		token, err := tokenFrom(r)
		if err != nil {
			msg := "Authorization header required"
			if errors.Is(err, auth.ErrInvalidToken) {
				msg = "Invalid authorization format"
			}
			shared.RespondWithError(w, r, http.StatusUnauthorized, msg)
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(shared.WithClaims(r.Context(), claims)))
		case errors.Is(err, auth.ErrExpiredToken):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotYetValid):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
		}
	})
}
