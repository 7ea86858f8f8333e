// Package authmw provides the bearer token middleware guarding the rescuer
// dashboard endpoints.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Rescuer returns middleware that validates the Authorization header
// carries a Bearer token matching the configured rescuer API token.
// Comparison uses constant-time equality to prevent timing side-channel
// attacks. Intake endpoints stay outside this middleware so reporters in
// the field never need credentials.
func Rescuer(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				deny(w, `{"error":"missing or malformed authorization header"}`)
				return
			}

			got := []byte(auth[len("Bearer "):])

			if subtle.ConstantTimeCompare(got, expected) != 1 {
				deny(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body + "\n"))
}
