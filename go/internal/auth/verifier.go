package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned for missing or invalid tokens
var ErrUnauthenticated = errors.New("unauthenticated")

const tokenCookieKey = "token"

// Claims is the identity token payload
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 identity tokens
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewVerifier creates a verifier for tokens signed with secret
func NewVerifier(secret []byte, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: secret, clock: clock}
}

// Verify parses the token and returns the identity it carries. Tokens
// without a role claim are ordinary users.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	role := claims.Role
	if !role.Valid() {
		role = RoleUser
	}
	return Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Role:        role,
	}, nil
}

// Issue signs a token for id. Used by the dev token endpoint and tests.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Email: id.Email,
		Name:  id.DisplayName,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest finds the token in the Authorization header, the token
// query parameter or the token cookie, in that order
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie(tokenCookieKey); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token and stores the identity
// on the request context
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.Verify(TokenFromRequest(r))
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
			return
		}
		w.Header().Add("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
