package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/yiwugan/sort-smart/internal/httputil"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

// RecoveryMiddleware converts handler panics into 500 responses.
type RecoveryMiddleware struct {
	log *logger.Logger
}

// NewRecoveryMiddleware creates a panic recovery middleware.
func NewRecoveryMiddleware(log *logger.Logger) *RecoveryMiddleware {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &RecoveryMiddleware{log: log}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				m.log.WithField("panic", rec).
					WithField("path", r.URL.Path).
					WithField("stack", string(debug.Stack())).
					Error("handler panicked")
				httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
