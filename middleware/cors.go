package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists the origins a cross-domain request can be
	// executed from. "*" allows every origin.
	AllowedOrigins []string

	// AllowedMethods lists the methods the client is allowed to use.
	AllowedMethods []string

	// AllowedHeaders lists the headers the client is allowed to send.
	AllowedHeaders []string

	// ExposedHeaders lists the response headers the client may read.
	ExposedHeaders []string

	// AllowCredentials indicates whether the request can include credentials.
	AllowCredentials bool

	// MaxAge is how long, in seconds, a preflight result can be cached.
	// 0 leaves it unset.
	MaxAge int
}

// DefaultCORSConfig allows every origin and the methods and headers API
// routes use. It suits development.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	}
}

// CORS returns an HTTP middleware that answers preflight requests and sets
// CORS headers. A nil cfg means DefaultCORSConfig. Empty lists fall back to
// the defaults.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	def := DefaultCORSConfig()
	if cfg == nil {
		cfg = def
	}
	origins := orDefault(cfg.AllowedOrigins, def.AllowedOrigins)
	methods := strings.Join(orDefault(cfg.AllowedMethods, def.AllowedMethods), ", ")
	headers := strings.Join(orDefault(cfg.AllowedHeaders, def.AllowedHeaders), ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	wildcard := contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			switch {
			case wildcard && (origin == "" || !cfg.AllowCredentials):
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && (wildcard || contains(origins, origin)):
				// Credentials forbid "*": echo the origin back.
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			if cfg.AllowCredentials && h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(list, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
