// Package auth guards the status server with HTTP basic auth against a
// bcrypt hash from the environment.
package auth

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// Basic holds the single operator account of the status server.
type Basic struct {
	User         string
	PasswordHash string
	Realm        string
}

// Require rejects requests without matching credentials. With no hash
// configured every request is rejected, so an unconfigured server exposes
// nothing.
func (b Basic) Require(next http.Handler) http.Handler {
	realm := b.Realm
	if realm == "" {
		realm = "courtsched"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pw, ok := r.BasicAuth()
		if !ok || b.PasswordHash == "" || !secureEq(user, b.User) || !CheckPassword(b.PasswordHash, pw) {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
