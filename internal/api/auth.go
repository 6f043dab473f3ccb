package api

import (
	"crypto/subtle"
	"net/http"
)

// apiKeyHeader carries the shared secret on every gated request.
const apiKeyHeader = "X-API-KEY"

// APIKeyAuth rejects any request whose X-API-KEY header does not match key.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
