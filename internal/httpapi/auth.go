package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/pai-elagen/internal/generation"
)

// RequireAPIKey rejects requests whose key does not match the bcrypt hash.
// The key is read from "Authorization: Bearer <key>" or "X-API-Key". An empty
// hash disables the check.
func RequireAPIKey(hash string, next http.Handler) http.Handler {
	if hash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="elagen"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or missing API key", Failure: generation.FailureInvalidRequest})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKey(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
