package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/kit/internal/service/auth"
)

// ContextKey is the type of the request context keys of this package.
type ContextKey string

const (
	// ClaimsContextKey holds the *auth.Claims of an authenticated request.
	ClaimsContextKey ContextKey = "claims"

	// TraceIDKey holds the trace ID of the request.
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes of a trace ID.
	TraceIDLength = 16
)

// SetTraceID adds a fresh trace ID to ctx.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, newTraceID(rand.Reader))
}

// GetTraceID returns the trace ID of ctx, or "".
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithClaims stores the claims of an authenticated user in ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// GetClaims returns the claims of the authenticated user, if any.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// newTraceID returns 32 hex characters read from r, or derived from the
// clock when r fails.
func newTraceID(r io.Reader) string {
	b := make([]byte, TraceIDLength)
	n, err := io.ReadFull(r, b)
	if err != nil {
		slog.Error("failed to generate secure random trace ID",
			"error", err,
			"bytes_read", n,
			"fallback", "time-based generation")
		return fallbackTraceID()
	}
	return hex.EncodeToString(b)
}

func fallbackTraceID() string {
	b := make([]byte, TraceIDLength)
	now := time.Now()
	binary.BigEndian.PutUint64(b[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint32(b[8:12], uint32(now.Nanosecond()))
	binary.BigEndian.PutUint32(b[12:], fallbackCounter.next())
	return hex.EncodeToString(b)
}
