package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davidbz/promptlift/internal/observability"
)

// Recover turns handler panics into a generic 500 response.
// http.ErrAbortHandler is re-raised so the server can tear the connection down.
func Recover() Middleware {
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

				observability.FromContext(r.Context()).Error("handler panicked",
					observability.String("panic", fmt.Sprint(rec)))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Internal server error"}` + "\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
