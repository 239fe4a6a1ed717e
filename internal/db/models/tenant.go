// Package models - tenant.go defines the Tenant model (an onboarded organization) and its
// verified domains.
package models

import (
	"strings"
	"time"
)

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant represents an onboarded organization
type Tenant struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	ExternalID  *string      `json:"external_id,omitempty"` // Identity provider organization id
	Status      TenantStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsActive reports whether members of the tenant may act within it
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// TenantDomain is a domain owned by a tenant. At most one per tenant is primary.
type TenantDomain struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Domain    string    `json:"domain"`
	IsPrimary bool      `json:"is_primary"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeDomain lower-cases a domain and strips surrounding whitespace and a trailing dot.
func NormalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
