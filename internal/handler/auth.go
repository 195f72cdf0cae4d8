package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errForbidden = errors.New("forbidden")

type hostKey struct{}

// HostAuth verifies HS256 bearer tokens whose subject is a host id. With
// an empty secret every request passes and ownership is not checked.
type HostAuth struct {
	secret []byte
	parser *jwt.Parser
}

// NewHostAuth returns a verifier for tokens signed with secret.
func NewHostAuth(secret string) *HostAuth {
	return &HostAuth{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Enabled reports whether tokens are checked.
func (a *HostAuth) Enabled() bool {
	return len(a.secret) > 0
}

// Require rejects requests without a valid host token.
func (a *HostAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}

		hostID, err := a.verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), hostKey{}, hostID)))
	})
}

func (a *HostAuth) verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// hostFromContext returns the authenticated host id, if any.
func hostFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(hostKey{}).(string)
	return id, ok
}

// authorizeHost fails with errForbidden when an authenticated caller is not hostID.
func authorizeHost(ctx context.Context, hostID string) error {
	caller, ok := hostFromContext(ctx)
	if !ok || caller == hostID {
		return nil
	}
	return errForbidden
}
