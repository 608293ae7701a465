package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the booking frontend to call the API from the configured
// origins. allowedOrigins is the comma-separated list from server config;
// "*" (or an empty list) allows any origin. Requests from origins not on
// the list get no CORS headers, so the browser blocks the response.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	wildcard := false
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		origins[o] = true
	}
	if len(origins) == 0 {
		wildcard = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := ""
			switch {
			case wildcard:
				allowed = "*"
			case origin != "" && origins[origin]:
				allowed = origin
			}

			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Trace-ID")
				if !wildcard {
					w.Header().Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
