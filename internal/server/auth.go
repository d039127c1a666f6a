package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/teng-lin/beamcode/pkg/types"
)

// Authenticator decides the identity of a connecting consumer. The default
// grants every bearer of a valid token participant rights; richer pairing
// schemes plug in here.
type Authenticator interface {
	Authenticate(r *http.Request) (types.Identity, error)
}

// TokenAuthenticator grants participant identity to any request; when a
// token is configured it must match.
type TokenAuthenticator struct {
	Token string
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (types.Identity, error) {
	if a.Token != "" {
		presented := r.URL.Query().Get("token")
		if presented == "" {
			presented = bearerToken(r)
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.Token)) != 1 {
			return types.Identity{}, fmt.Errorf("invalid token")
		}
	}
	return types.Identity{ConsumerID: "consumer-" + uuid.NewString(), Role: "participant"}, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// requireToken guards the admin API with a constant-time bearer check.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				presented := bearerToken(r)
				if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
					writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid bearer token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
