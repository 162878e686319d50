package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/reclamflow/feed/api/responses"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				err := fmt.Errorf("feed handler panicked: %v", rec)
				ctx := r.Context()
				if logg != nil {
					// RequestID runs inside this middleware, so read the id back from the response.
					ctx = logg.WithFields(ctx, map[string]any{
						"method":     r.Method,
						"path":       r.URL.Path,
						"request_id": w.Header().Get(requestIDHeader),
					})
					logg.Error(ctx, "request.panic", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
