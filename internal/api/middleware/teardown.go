package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/kit/internal/api/shared"
	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/platform/logger"
)

// Teardown opens a session scope for each request and emits
// request_tearing_down when the handler returns, panics included.
// A teardown error becomes a 500 response when the handler has not
// written anything yet; otherwise it is only logged.
func Teardown(emitter events.Emitter, sender string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := database.NewScope(r.Context())
			r = r.WithContext(ctx)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var p any
			defer func() {
				event := events.NewEvent(events.RequestTearingDown, sender)
				if p != nil {
					event.Err = fmt.Errorf("panic: %v", p)
				}
				err := emitter.Emit(ctx, event)
				if err != nil {
					logger.FromContext(ctx).Error("request teardown failed", "error", err)
					if p == nil && ww.Status() == 0 {
						shared.RespondWithError(ww, r, http.StatusInternalServerError, "Internal server error")
					}
				}
				if p != nil {
					panic(p)
				}
			}()

			func() {
				defer func() { p = recover() }()
				next.ServeHTTP(ww, r)
			}()
		})
	}
}
