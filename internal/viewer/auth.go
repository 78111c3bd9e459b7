package viewer

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashToken produces a bcrypt hash suitable for viewer.token_hash in the
// config file.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// requireToken guards every route with a bearer token checked against the
// bcrypt hash. The first successful token is cached so steady-state requests
// pay a constant-time compare instead of a full bcrypt verify.
func requireToken(hash string, next http.Handler) http.Handler {
	if hash == "" {
		return next
	}

	var mu sync.RWMutex
	var known string

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		mu.RLock()
		cached := known
		mu.RUnlock()
		if cached != "" && subtle.ConstantTimeCompare([]byte(cached), []byte(token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		mu.Lock()
		known = token
		mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Websocket clients can't always set headers; allow ?token= for those.
	return r.URL.Query().Get("token")
}
