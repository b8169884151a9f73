package httpapi

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAuth guards the command endpoints with HTTP basic auth against the
// configured bcrypt hash. An empty hash disables auth entirely; the
// controller then trusts the network it runs on.
func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := h.engine.AppConfig().API.PasswordHash
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || !checkPassword(hash, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fleetlink"`)
			h.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for api.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
