package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/genqueue"
)

// JWTOption configures a JWT verifier.
type JWTOption func(*JWT)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) JWTOption {
	return func(v *JWT) { v.issuer = iss }
}

// WithLeeway allows for clock skew when validating exp and nbf.
func WithLeeway(d time.Duration) JWTOption {
	return func(v *JWT) { v.leeway = d }
}

// JWT verifies HMAC-signed tokens. The subject comes from the sub claim,
// falling back to user_id.
type JWT struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWT creates a JWT verifier with the shared secret.
func NewJWT(secret []byte, opts ...JWTOption) *JWT {
	v := &JWT{secret: secret}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements Verifier.
func (v *JWT) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", genqueue.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token: %w", genqueue.ErrUnauthenticated, err)
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		subject, _ = claims["user_id"].(string)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", genqueue.ErrUnauthenticated)
	}
	if subject == AnonymousSubject {
		return nil, errReservedSubject
	}
	return &Identity{Subject: subject}, nil
}

// Sign issues an HS256 token for subject, valid for ttl. It is used by
// the CLI and tests.
func (v *JWT) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
