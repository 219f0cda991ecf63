// Package auth resolves bearer tokens to principals. The HTTP layer calls
// a Verifier for every request; the resulting subject becomes the owner
// of submitted jobs and the key for ownership checks.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/genqueue"
)

// AnonymousSubject is the principal used when verification is disabled.
// Verifiers never hand it to a verified caller.
const AnonymousSubject = "anonymous"

// errReservedSubject is returned for credentials naming AnonymousSubject.
var errReservedSubject = fmt.Errorf("%w: subject %q is reserved", genqueue.ErrUnauthenticated, AnonymousSubject)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the authenticated user or service ID.
	Subject string `json:"subject"`

	// Anonymous is set when no verification took place. Ownership checks
	// are skipped for anonymous callers.
	Anonymous bool `json:"anonymous,omitempty"`
}

// Verifier validates a bearer token and returns the caller's identity.
// Failures wrap genqueue.ErrUnauthenticated.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
// It returns "" when the header is not a bearer credential.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// ── Anonymous verifier ──────────────────────────────

// Anonymous accepts every request as the anonymous principal.
type Anonymous struct{}

// Verify implements Verifier.
func (Anonymous) Verify(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: AnonymousSubject, Anonymous: true}, nil
}

// ── API key verifier ────────────────────────────────

// APIKeyEntry maps a token to a subject.
type APIKeyEntry struct {
	Token   string
	Subject string
}

// APIKeys validates tokens against a static table.
type APIKeys struct {
	keys map[string]string
}

// NewAPIKeys creates an API key verifier.
func NewAPIKeys(entries ...APIKeyEntry) *APIKeys {
	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		keys[e.Token] = e.Subject
	}
	return &APIKeys{keys: keys}
}

// ParseAPIKeys parses a comma separated list of token:subject pairs.
func ParseAPIKeys(s string) ([]APIKeyEntry, error) {
	var entries []APIKeyEntry
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, subject, ok := strings.Cut(pair, ":")
		if !ok || token == "" || subject == "" {
			return nil, fmt.Errorf("auth: invalid api key entry %q, want token:subject", pair)
		}
		if subject == AnonymousSubject {
			return nil, fmt.Errorf("auth: api key entry %q uses the reserved subject %q", pair, AnonymousSubject)
		}
		entries = append(entries, APIKeyEntry{Token: token, Subject: subject})
	}
	return entries, nil
}

// Verify implements Verifier.
func (a *APIKeys) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", genqueue.ErrUnauthenticated)
	}
	subject, ok := a.keys[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api key", genqueue.ErrUnauthenticated)
	}
	if subject == AnonymousSubject {
		return nil, errReservedSubject
	}
	return &Identity{Subject: subject}, nil
}

// ── Chain verifier ──────────────────────────────────

// Chain tries verifiers in order. The first success wins.
type Chain []Verifier

// Verify implements Verifier.
func (c Chain) Verify(ctx context.Context, token string) (*Identity, error) {
	for _, v := range c {
		if id, err := v.Verify(ctx, token); err == nil {
			return id, nil
		}
	}
	return nil, fmt.Errorf("%w: no verifier accepted the token", genqueue.ErrUnauthenticated)
}
