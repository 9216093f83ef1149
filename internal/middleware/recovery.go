package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/errors"
	"github.com/wudi/fngate/internal/logging"
)

// Recovery converts panics in downstream handlers into 500 responses.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logging.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stack", debug.Stack()),
					)
					ge := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", err))
					if id := GetRequestID(r); id != "" {
						ge = ge.WithRequestID(id)
					}
					ge.WriteJSON(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
