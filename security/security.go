// Package security contains filters that guard endpoints other than the token
// endpoint. The token endpoint authenticates clients itself.
package security

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/pardot/authcode/core"
)

// Security is a filter applied to every request to an endpoint.
type Security interface {
	Filter(next http.Handler) http.Handler
}

// NoSecurity lets all traffic through.
type NoSecurity struct{}

func (NoSecurity) Filter(next http.Handler) http.Handler {
	return next
}

// KeyLookup extracts an API key from a request. ok is false if the request
// carries none.
type KeyLookup func(req *http.Request) (key string, ok bool)

// Header looks the key up in the named header.
func Header(name string) KeyLookup {
	return func(req *http.Request) (string, bool) {
		v := req.Header.Get(name)
		return v, v != ""
	}
}

// Query looks the key up in the named query parameter.
func Query(name string) KeyLookup {
	return func(req *http.Request) (string, bool) {
		v := req.URL.Query().Get(name)
		return v, v != ""
	}
}

// APIKeySecurity requires a valid API key. Requests without one, or with one
// that doesn't validate, get a 401.
type APIKeySecurity struct {
	Lookup   KeyLookup
	Validate func(key string) bool
	// AuthorizeOptionsRequests can be set to false to let CORS preflight
	// requests through unauthenticated.
	AuthorizeOptionsRequests bool
}

// NewAPIKeySecurity returns an APIKeySecurity that also authorizes OPTIONS
// requests.
func NewAPIKeySecurity(lookup KeyLookup, validate func(key string) bool) *APIKeySecurity {
	return &APIKeySecurity{
		Lookup:                   lookup,
		Validate:                 validate,
		AuthorizeOptionsRequests: true,
	}
}

// MatchesAny returns a validate function accepting any of keys. Keys may be
// stored as bcrypt hashes.
func MatchesAny(keys []string) func(string) bool {
	return func(presented string) bool {
		for _, k := range keys {
			if core.SecretMatches(k, presented) {
				return true
			}
		}
		return false
	}
}

func (a *APIKeySecurity) Filter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !a.AuthorizeOptionsRequests && req.Method == http.MethodOptions {
			next.ServeHTTP(w, req)
			return
		}

		key, ok := a.Lookup(req)
		if !ok || !a.Validate(key) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// BasicAuthSecurity requires HTTP basic credentials.
type BasicAuthSecurity struct {
	Realm    string
	Username string
	Password string
}

func (b *BasicAuthSecurity) Filter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		// evaluate both, so timing doesn't reveal which was wrong
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.Password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", b.Realm))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}
