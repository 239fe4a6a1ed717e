// Package auth - identity.go resolves the acting user and tenant of a request from an
// ordered list of identity sources.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header names read by HeaderSource
const (
	HeaderActorUserID = "X-Actor-User-ID"
	HeaderTenantID    = "X-Tenant-ID"
)

// Actor is the authenticated principal of a request, scoped to one tenant
type Actor struct {
	UserID   string
	TenantID string
	Email    string
	Source   string // Name of the identity source that produced it
}

// IdentitySource extracts an Actor from a request. It returns (nil, nil) when the
// request carries no credentials it recognizes, and an error when it recognizes
// credentials that turn out to be invalid.
type IdentitySource interface {
	Name() string
	Identify(r *http.Request) (*Actor, error)
}

// ActorResolver tries each source in order and returns the first actor found. A source
// that rejects its credentials ends the search; later (less trusted) sources are not
// consulted for that request.
type ActorResolver struct {
	sources []IdentitySource
}

// NewActorResolver creates an ActorResolver over sources, in trust order
func NewActorResolver(sources ...IdentitySource) *ActorResolver {
	return &ActorResolver{sources: sources}
}

// Sources returns the configured source names in evaluation order
func (a *ActorResolver) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns the request's actor. Rejected or missing credentials produce an error
// matching ErrUnauthorized; any other error is an infrastructure failure of a source.
func (a *ActorResolver) Resolve(r *http.Request) (*Actor, error) {
	for _, src := range a.sources {
		actor, err := src.Identify(r)
		if err != nil {
			return nil, err
		}
		if actor != nil {
			actor.Source = src.Name()
			return actor, nil
		}
	}
	return nil, fmt.Errorf("%w: no identity presented", ErrUnauthorized)
}

// ValidateIDs checks that both ids are UUIDs
func ValidateIDs(userID, tenantID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: malformed user id", ErrUnauthorized)
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: malformed tenant id", ErrUnauthorized)
	}
	return nil
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// JWTSource reads session tokens minted by IssueSessionToken. Bearer tokens from another
// issuer are left for later sources.
type JWTSource struct {
	issuer string
}

// NewJWTSource creates a JWTSource accepting tokens with the given issuer
func NewJWTSource(issuer string) *JWTSource {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &JWTSource{issuer: issuer}
}

func (s *JWTSource) Name() string { return "jwt" }

func (s *JWTSource) Identify(r *http.Request) (*Actor, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, nil
	}
	iss, err := PeekIssuer(token)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable bearer token", ErrUnauthorized)
	}
	if iss != s.issuer {
		return nil, nil
	}

	claims, err := ParseSessionToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := ValidateIDs(claims.UserID, claims.TenantID); err != nil {
		return nil, err
	}
	return &Actor{UserID: claims.UserID, TenantID: claims.TenantID, Email: claims.Email}, nil
}

// HeaderSource trusts X-Actor-User-ID and X-Tenant-ID verbatim. The headers are not
// authenticated: only register this source behind a gateway that sets them, and never
// in production.
type HeaderSource struct{}

func (HeaderSource) Name() string { return "header" }

func (HeaderSource) Identify(r *http.Request) (*Actor, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderActorUserID))
	tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
	if userID == "" && tenantID == "" {
		return nil, nil
	}
	if err := ValidateIDs(userID, tenantID); err != nil {
		return nil, err
	}
	return &Actor{UserID: userID, TenantID: tenantID}, nil
}
