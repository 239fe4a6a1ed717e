// tenant_user_repository.go implements TenantUserRepository for membership lookups and
// soft removal. Memberships are never deleted; status flips to "removed".
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// TenantUserRepository handles membership database operations
type TenantUserRepository struct {
	q sqlx.ExtContext
}

// NewTenantUserRepository creates a new TenantUserRepository
func NewTenantUserRepository(db *sqlx.DB) *TenantUserRepository {
	return &TenantUserRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *TenantUserRepository) WithTx(tx *sqlx.Tx) *TenantUserRepository {
	return &TenantUserRepository{q: tx}
}

// GetMembership retrieves the membership of a user in a tenant regardless of status
func (r *TenantUserRepository) GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantUser, error) {
	query := `SELECT id, tenant_id, user_id, status, joined_at, updated_at
			  FROM tenant_users WHERE tenant_id = $1 AND user_id = $2`

	m := &models.TenantUser{}
	var status string
	err := r.q.QueryRowxContext(ctx, query, tenantID, userID).Scan(
		&m.ID, &m.TenantID, &m.UserID, &status, &m.JoinedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = models.MembershipStatus(status)
	return m, nil
}

// ListMembers returns the active members of a tenant with their role names
func (r *TenantUserRepository) ListMembers(ctx context.Context, tenantID string) ([]*models.TenantMember, error) {
	query := `
		SELECT tu.id, tu.tenant_id, tu.user_id, tu.status, tu.joined_at, u.email,
		       TRIM(u.first_name || ' ' || u.last_name),
		       COALESCE(ARRAY_AGG(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
		FROM tenant_users tu
		JOIN users u ON u.id = tu.user_id
		LEFT JOIN tenant_user_roles tur ON tur.tenant_user_id = tu.id
		LEFT JOIN roles r ON r.id = tur.role_id
		WHERE tu.tenant_id = $1 AND tu.status = 'active'
		GROUP BY tu.id, u.id
		ORDER BY u.email
	`

	rows, err := r.q.QueryxContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]*models.TenantMember, 0)
	for rows.Next() {
		m := &models.TenantMember{}
		var status string
		var roles pq.StringArray
		if err := rows.Scan(&m.TenantUserID, &m.TenantID, &m.UserID, &status, &m.JoinedAt, &m.Email, &m.Name, &roles); err != nil {
			return nil, err
		}
		m.Status = models.MembershipStatus(status)
		m.Roles = []string(roles)
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetStatus changes the status of one membership. Returns false when nothing matched.
func (r *TenantUserRepository) SetStatus(ctx context.Context, tenantID, userID string, status models.MembershipStatus) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE tenant_users SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID, string(status), time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveAllForUser marks every active membership of a user as removed and returns how
// many changed.
func (r *TenantUserRepository) RemoveAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE tenant_users SET status = $2, updated_at = $3 WHERE user_id = $1 AND status = $4`,
		userID, string(models.MembershipStatusRemoved), time.Now(), string(models.MembershipStatusActive))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRoleNames returns the names of the roles assigned to a membership
func (r *TenantUserRepository) ListRoleNames(ctx context.Context, tenantUserID string) ([]string, error) {
	return r.names(ctx, `SELECT r.name FROM tenant_user_roles tur JOIN roles r ON r.id = tur.role_id
			  WHERE tur.tenant_user_id = $1 ORDER BY r.name`, tenantUserID)
}

// ListDirectPermissions returns the names of the permissions granted directly to a membership
func (r *TenantUserRepository) ListDirectPermissions(ctx context.Context, tenantUserID string) ([]string, error) {
	return r.names(ctx, `SELECT p.name FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
			  WHERE up.tenant_user_id = $1 ORDER BY p.name`, tenantUserID)
}

func (r *TenantUserRepository) names(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AssignRole attaches a role to a membership. A repeated assignment fails with
// ErrUniqueViolation.
func (r *TenantUserRepository) AssignRole(ctx context.Context, tenantUserID, roleID string, grantedBy *string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO tenant_user_roles (tenant_user_id, role_id, granted_by, created_at) VALUES ($1, $2, $3, $4)`,
		tenantUserID, roleID, grantedBy, time.Now())
	return wrapUnique(err)
}

// GrantPermission attaches a direct permission to a membership. A repeated grant fails
// with ErrUniqueViolation.
func (r *TenantUserRepository) GrantPermission(ctx context.Context, tenantUserID, permissionID string, grantedBy *string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO user_permissions (tenant_user_id, permission_id, granted_by, created_at) VALUES ($1, $2, $3, $4)`,
		tenantUserID, permissionID, grantedBy, time.Now())
	return wrapUnique(err)
}

// RevokePermission removes a direct permission. Returns false when it was not granted.
func (r *TenantUserRepository) RevokePermission(ctx context.Context, tenantUserID, permissionID string) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM user_permissions WHERE tenant_user_id = $1 AND permission_id = $2`,
		tenantUserID, permissionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
