// Package auth verifies the bearer identity tokens issued by the account
// service and carries the resulting identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cory-johannsen/arena/internal/config"
	apperr "github.com/cory-johannsen/arena/internal/errors"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
)

// Identity is an authenticated player.
type Identity struct {
	PlayerID int64
	Name     string
}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	clock  clock.Clock
}

// NewVerifier creates a Verifier from the auth configuration.
//
// Precondition: cfg.JWTSecret must be non-empty; clk must be non-nil.
func NewVerifier(cfg config.AuthConfig, clk clock.Clock) *Verifier {
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		clock:  clk,
	}
}

// Verify parses a token and returns the identity it carries.
//
// Postcondition: Returns an UNAUTHENTICATED error for any invalid, expired
// or foreign token.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.Unauthenticated("missing identity token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, apperr.Unauthenticated("token subject is not a player id")
	}
	name := c.Name
	if name == "" {
		name = "Player " + c.Subject
	}
	return Identity{PlayerID: id, Name: name}, nil
}

// Issue signs a token for id valid for ttl. The server never hands tokens to
// players; this exists for development tooling and tests.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.PlayerID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: id.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.WrapWithCode(err, apperr.CodeUnauthenticated, "token expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.WrapWithCode(err, apperr.CodeUnauthenticated, "token signature invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.WrapWithCode(err, apperr.CodeUnauthenticated, "token issuer mismatch")
	default:
		return apperr.WrapWithCode(err, apperr.CodeUnauthenticated, "invalid identity token")
	}
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// TokenFromRequest returns the bearer token, falling back to the "token"
// query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request. Failures are reported through fail
// and the request goes no further.
func Middleware(v *Verifier, fail func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(TokenFromRequest(r))
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
