// Package auth resolves the identity of the voter behind a request.
//
// The service does not issue identities. It either trusts a header set by
// a gateway in front of it or verifies a bearer token minted by the
// identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultHeader carries the voter id in header mode.
const DefaultHeader = "X-Voter-Id"

var (
	// ErrUnauthenticated marks a request without a usable identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnknownMode marks an unsupported authenticator mode.
	ErrUnknownMode = errors.New("unknown auth mode")
)

// Authenticator returns the voter id of a request or an error wrapping
// ErrUnauthenticated.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuthenticator reads the voter id from a trusted header.
type HeaderAuthenticator struct {
	Header string
}

// NewHeaderAuthenticator creates a header authenticator. An empty header
// name selects DefaultHeader.
func NewHeaderAuthenticator(header string) *HeaderAuthenticator {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}
	return &HeaderAuthenticator{Header: header}
}

// Authenticate implements Authenticator.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(a.Header))
	if id == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrUnauthenticated, a.Header)
	}
	return id, nil
}

// JWTAuthenticator verifies HS256 bearer tokens and uses the subject as
// the voter id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a token verifier. When issuer is set the
// iss claim must match it.
func NewJWTAuthenticator(secret []byte, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer", ErrUnauthenticated)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return sub, nil
}

// New builds the authenticator for a mode: "header" or "jwt".
func New(mode, header string, secret []byte, issuer string) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "header":
		return NewHeaderAuthenticator(header), nil
	case "jwt":
		if len(secret) == 0 {
			return nil, fmt.Errorf("%w: jwt mode needs a secret", ErrUnknownMode)
		}
		return NewJWTAuthenticator(secret, issuer), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}

type voterKey struct{}

// WithVoter returns a context carrying the voter id.
func WithVoter(ctx context.Context, voterID string) context.Context {
	return context.WithValue(ctx, voterKey{}, voterID)
}

// VoterFrom returns the voter id stored by Middleware.
func VoterFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(voterKey{}).(string)
	return id, ok && id != ""
}

// Middleware authenticates every request and calls onFail for those
// without an identity.
func Middleware(a Authenticator, onFail func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithVoter(r.Context(), id)))
		})
	}
}
