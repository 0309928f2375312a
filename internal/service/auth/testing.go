package auth

import (
	"testing"
	"time"
)

// TestSecret is a signing key long enough for NewJWTService.
const TestSecret = "test-jwt-secret-that-is-32-chars-long"

// NewTestJWTService returns a token service signing with TestSecret whose
// clock is now.
func NewTestJWTService(t testing.TB, lifetime time.Duration, now func() time.Time) JWTService {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	svc, err := newJWTService(TestSecret, lifetime, now)
	if err != nil {
		t.Fatalf("failed to create test JWT service: %v", err)
	}
	return svc
}
