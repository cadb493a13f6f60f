package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Credential extracts the bearer credential from the upgrade request.
// The cookie named cookieName takes priority; an "Authorization: Bearer"
// header is accepted as a fallback for non-browser clients. Frame payloads
// and query parameters are never consulted.
func Credential(r *http.Request, cookieName string) (string, error) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return "", ErrAuthMissing
	}
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: expected 'Bearer <token>' authorization header", ErrAuthInvalid)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrAuthMissing
	}
	return token, nil
}

// Identity is what a Verifier learns from a credential.
type Identity struct {
	Subject   string
	ExpiresAt time.Time
}

// Verifier checks a credential once, at accept time.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// HS256Verifier verifies HMAC-SHA256 signed JWTs, the format issued by the
// dashboard's auth service. It requires a subject and honors exp/nbf.
type HS256Verifier struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewHS256Verifier returns a verifier for tokens signed with secret.
func NewHS256Verifier(secret string) (*HS256Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &HS256Verifier{
		key:    []byte(secret),
		leeway: jwt.DefaultLeeway,
		now:    time.Now,
	}, nil
}

// Verify implements Verifier.
func (v *HS256Verifier) Verify(token string) (Identity, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}

	var claims jwt.Claims
	if err := tok.Claims(v.key, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: v.now()}, v.leeway); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrAuthInvalid)
	}

	id := Identity{Subject: claims.Subject}
	if claims.Expiry != nil {
		id.ExpiresAt = claims.Expiry.Time()
	}
	return id, nil
}
