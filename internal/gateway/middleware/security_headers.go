// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
)

// SecurityHeaders returns a middleware that adds common security headers to
// all responses. The gateway serves JSON and WebSocket upgrades only, so the
// policy is strict: nothing may be framed, embedded or cached.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}
