package api

import (
	"time"

	"github.com/google/uuid"
)

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=1,max=72"`
}

// AuthResponse defines the successful response for the login endpoint.
type AuthResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`

	// AccessToken is the JWT token used for API authorization. Browsers
	// also receive it as a cookie.
	AccessToken string `json:"token"`

	// ExpiresAt is the ISO 8601 timestamp when the access token expires
	ExpiresAt string `json:"expires_at,omitempty"`
}

// UserResponse describes the authenticated user.
type UserResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// Route is a registered method and pattern.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}
