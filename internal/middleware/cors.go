package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CSRFHeader is echoed by browsers on refresh calls and must survive preflight.
const CSRFHeader = "X-CSRF-Token"

// CORS allows credentialed requests from origins; cookies are only
// accepted cross-origin when origins are listed explicitly.
func CORS(origins []string) func(http.Handler) http.Handler {
	credentials := len(origins) > 0
	if !credentials {
		origins = []string{"*"}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", CSRFHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		MaxAge:           3600,
		AllowCredentials: credentials,
	})

	return handler.Handler
}
