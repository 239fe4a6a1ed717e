// permission_repository.go implements the grant scan behind permission resolution: one
// read that joins a membership with its role-derived and direct permission grants.
package repositories

import (
	"context"
	"database/sql"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// grantScanQuery returns one row per (source, permission) for the membership, or a
// single row with a NULL name when the membership holds no grants. Memberships
// that do not exist produce no rows at all.
const grantScanQuery = `
	SELECT tu.status, t.status, g.name
	FROM tenant_users tu
	JOIN tenants t ON t.id = tu.tenant_id
	LEFT JOIN (
		SELECT tur.tenant_user_id, p.name
		FROM tenant_user_roles tur
		JOIN role_permissions rp ON rp.role_id = tur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		UNION ALL
		SELECT up.tenant_user_id, p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
	) g ON g.tenant_user_id = tu.id
	WHERE tu.tenant_id = $1 AND tu.user_id = $2
`

// PermissionRepository reads permission grants scoped to one tenant membership
type PermissionRepository struct {
	q sqlx.QueryerContext
}

// NewPermissionRepository creates a new PermissionRepository
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{q: db}
}

// WithTx returns a repository bound to tx, so the scan observes the transaction's snapshot.
func (r *PermissionRepository) WithTx(tx *sqlx.Tx) *PermissionRepository {
	return &PermissionRepository{q: tx}
}

// ScanGrants streams the permission names granted to the (tenant, user) membership to
// visit, stopping as soon as visit returns false. Names may repeat when a permission
// arrives from several sources. member is false when there is no active membership in
// an active tenant; visit is never called in that case.
func (r *PermissionRepository) ScanGrants(ctx context.Context, tenantID, userID string, visit func(name string) bool) (member bool, err error) {
	rows, err := r.q.QueryxContext(ctx, grantScanQuery, tenantID, userID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var membershipStatus, tenantStatus string
		var name sql.NullString
		if err := rows.Scan(&membershipStatus, &tenantStatus, &name); err != nil {
			return false, err
		}
		if models.MembershipStatus(membershipStatus) != models.MembershipStatusActive ||
			models.TenantStatus(tenantStatus) != models.TenantStatusActive {
			return false, nil
		}
		member = true
		if !name.Valid {
			continue
		}
		if !visit(name.String) {
			return true, nil
		}
	}

	return member, rows.Err()
}
