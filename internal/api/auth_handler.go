package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/phrazzld/kit/internal/api/middleware"
	"github.com/phrazzld/kit/internal/api/shared"
	"github.com/phrazzld/kit/internal/service/auth"
)

// login handles POST /auth/login. The token is returned in the body and
// stored in an HTTP-only cookie so that rendered pages see the user.
func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	token, user, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
				GetSafeErrorMessage(err), err, shared.WithElevatedLogLevel())
			return
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	claims, err := a.auth.Tokens().ValidateToken(r.Context(), token)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to generate authentication token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	shared.RespondWithJSON(w, r, http.StatusOK, AuthResponse{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Format(time.RFC3339),
	})
}

// logout clears the token cookie. Tokens stay valid until they expire.
func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := shared.GetClaims(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, UserResponse{
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt,
	})
}
