// Package oidc verifies ID tokens issued by the external identity provider and maps them
// onto internal users and tenants, acting as an identity source for the API.
package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/config"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCProvider wraps the ID token verifier of one issuer
type OIDCProvider struct {
	issuer   string
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider initializes a new OIDC provider using a background context.
func NewOIDCProvider(cfg *config.OIDCConfig) (*OIDCProvider, error) {
	return NewOIDCProviderWithContext(context.Background(), cfg)
}

// NewOIDCProviderWithContext initializes a new OIDC provider with the given context,
// allowing callers to set deadlines or cancellation for the discovery request.
func NewOIDCProviderWithContext(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}

	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCProvider{
		issuer:   cfg.IssuerURL,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// VerifyIDToken verifies and extracts claims from the ID token
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	return idToken, nil
}

// ExtractStringClaim reads a claim that may be a string or a single-element string list
// (some providers emit organization claims as arrays). Returns "" when absent.
func ExtractStringClaim(idToken *oidc.IDToken, claimName string) string {
	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return ""
	}

	switch v := raw[claimName].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// UserLookup finds internal users by identity provider id
type UserLookup interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

// TenantLookup finds internal tenants by identity provider organization id
type TenantLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Tenant, error)
}

// IdentitySource accepts ID tokens from the configured issuer. The token subject must
// belong to an internal user, and the tenant claim must name an onboarded tenant.
type IdentitySource struct {
	provider    *OIDCProvider
	users       UserLookup
	tenants     TenantLookup
	tenantClaim string
}

// NewIdentitySource creates an identity source over provider
func NewIdentitySource(provider *OIDCProvider, users UserLookup, tenants TenantLookup, tenantClaim string) *IdentitySource {
	return &IdentitySource{provider: provider, users: users, tenants: tenants, tenantClaim: tenantClaim}
}

func (s *IdentitySource) Name() string { return "oidc" }

func (s *IdentitySource) Identify(r *http.Request) (*auth.Actor, error) {
	raw := auth.BearerToken(r)
	if raw == "" {
		return nil, nil
	}
	if iss, err := auth.PeekIssuer(raw); err != nil || iss != s.provider.issuer {
		return nil, nil
	}

	ctx := r.Context()
	idToken, err := s.provider.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
	}

	orgID := ExtractStringClaim(idToken, s.tenantClaim)
	if orgID == "" {
		return nil, fmt.Errorf("%w: ID token has no %q claim", auth.ErrUnauthorized, s.tenantClaim)
	}

	user, err := s.users.GetUserByExternalID(ctx, idToken.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.IsErased() {
		return nil, fmt.Errorf("%w: unknown subject", auth.ErrUnauthorized)
	}

	tenant, err := s.tenants.GetByExternalID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}
	if tenant == nil {
		return nil, fmt.Errorf("%w: unknown organization", auth.ErrUnauthorized)
	}

	return &auth.Actor{UserID: user.ID, TenantID: tenant.ID, Email: user.Email}, nil
}
