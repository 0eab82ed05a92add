// Package authn validates the bearer JWTs issued to customers, providers,
// and admins, and exposes the authenticated principal to both the HTTP
// middleware chain and the realtime handshake.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fielddispatch/gateway/internal/domain"
)

// Role is the closed set of authenticated principal kinds.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated identity extracted from a validated JWT.
type Principal struct {
	UserID domain.ID
	Role   Role
}

// Verifier validates bearer tokens against the configured signing key.
type Verifier struct {
	signingKey []byte
	algorithm  string
}

// New builds a Verifier.
func New(signingKey string, algorithm string) *Verifier {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Verifier{signingKey: []byte(signingKey), algorithm: algorithm}
}

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("authn: missing bearer token")
	// ErrInvalidToken is returned when the token fails validation or lacks
	// required claims.
	ErrInvalidToken = errors.New("authn: invalid token")
)

// Verify parses and validates a raw JWT, returning the authenticated
// principal. Expected claims: sub (user id, uuid) and role.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	roleStr, _ := claims["role"].(string)
	if sub == "" || roleStr == "" {
		return nil, ErrInvalidToken
	}

	userID, err := domain.ParseID(sub)
	if err != nil {
		return nil, ErrInvalidToken
	}

	role := Role(roleStr)
	switch role {
	case RoleCustomer, RoleProvider, RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}

	return &Principal{UserID: userID, Role: role}, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type principalCtxKey struct{}

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// FromContext retrieves the authenticated principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok
}

// Middleware authenticates every request via its Authorization header and
// rejects requests without a valid token.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, `{"error":"missing authentication"}`, http.StatusUnauthorized)
			return
		}
		principal, err := v.Verify(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid authentication"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole builds a middleware that rejects requests whose authenticated
// principal does not hold one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok || !allowed[p.Role] {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
