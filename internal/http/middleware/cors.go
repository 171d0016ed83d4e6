package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/davidbz/promptlift/internal/config"
)

// CORS answers preflight requests and decorates responses per cfg.
// The id headers set by Trace are always exposed to browser callers.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   append([]string{headerRequestID}, cfg.AllowedHeaders...),
		ExposedHeaders:   []string{headerTraceID, headerRequestID},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})

	return c.Handler
}
