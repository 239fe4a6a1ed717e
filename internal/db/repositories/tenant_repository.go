// tenant_repository.go implements TenantRepository, providing lookups of tenants and
// their domains used by onboarding pre-checks and tenant administration.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// TenantRepository handles tenant database operations
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository creates a new TenantRepository
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `t.id, t.name, t.display_name, t.external_id, t.status, t.created_at, t.updated_at`

func scanTenant(row interface{ Scan(...interface{}) error }) (*models.Tenant, error) {
	t := &models.Tenant{}
	var status string
	err := row.Scan(&t.ID, &t.Name, &t.DisplayName, &t.ExternalID, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TenantStatus(status)
	return t, nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.id = $1`
	return scanTenant(r.db.QueryRowxContext(ctx, query, id))
}

// GetByExternalID retrieves a tenant by identity provider organization id
func (r *TenantRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.external_id = $1`
	return scanTenant(r.db.QueryRowxContext(ctx, query, externalID))
}

// GetByDomain retrieves the tenant owning a domain (case-insensitive)
func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + `
			  FROM tenants t
			  JOIN tenant_domains d ON d.tenant_id = t.id
			  WHERE LOWER(d.domain) = LOWER($1)`
	return scanTenant(r.db.QueryRowxContext(ctx, query, domain))
}

// ExistsByNameOrDomain reports whether a tenant already uses the name or owns the domain.
// The unique indexes on tenants and tenant_domains remain the final guard; this check
// only avoids touching the identity provider for an obvious duplicate.
func (r *TenantRepository) ExistsByNameOrDomain(ctx context.Context, name, domain string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM tenants WHERE LOWER(name) = LOWER($1))
			  OR EXISTS (SELECT 1 FROM tenant_domains WHERE LOWER(domain) = LOWER($2))`

	var exists bool
	if err := r.db.QueryRowxContext(ctx, query, name, domain).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListDomains returns the domains of a tenant, primary first
func (r *TenantRepository) ListDomains(ctx context.Context, tenantID string) ([]*models.TenantDomain, error) {
	query := `SELECT id, tenant_id, domain, is_primary, verified, created_at
			  FROM tenant_domains WHERE tenant_id = $1
			  ORDER BY is_primary DESC, domain`

	rows, err := r.db.QueryxContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make([]*models.TenantDomain, 0)
	for rows.Next() {
		d := &models.TenantDomain{}
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Domain, &d.IsPrimary, &d.Verified, &d.CreatedAt); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// SetStatus changes a tenant's lifecycle status. Returns false when no tenant matched.
func (r *TenantRepository) SetStatus(ctx context.Context, id string, status models.TenantStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
