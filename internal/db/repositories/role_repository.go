// role_repository.go implements RoleRepository for the global role and permission
// catalogue. Roles are shared across tenants and read far more often than written.
package repositories

import (
	"context"
	"database/sql"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RoleRepository handles role and permission database operations
type RoleRepository struct {
	q sqlx.ExtContext
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *RoleRepository) WithTx(tx *sqlx.Tx) *RoleRepository {
	return &RoleRepository{q: tx}
}

const roleSelect = `
	SELECT r.id, r.name, r.display_name, r.description, r.is_system, r.created_at, r.updated_at,
	       COALESCE(ARRAY_AGG(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
	FROM roles r
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id
`

func scanRole(row interface{ Scan(...interface{}) error }) (*models.Role, error) {
	role := &models.Role{}
	var perms pq.StringArray
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt, &perms)
	if err != nil {
		return nil, err
	}
	role.Permissions = []string(perms)
	return role, nil
}

// GetRoleByName retrieves a role with its permission names
func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	query := roleSelect + ` WHERE r.name = $1 GROUP BY r.id`

	role, err := scanRole(r.q.QueryRowxContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns every role with its permission names
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*models.Role, error) {
	query := roleSelect + ` GROUP BY r.id ORDER BY r.name`

	rows, err := r.q.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]*models.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetPermissionByName retrieves a permission by its stable name
func (r *RoleRepository) GetPermissionByName(ctx context.Context, name string) (*models.Permission, error) {
	query := `SELECT id, group_id, name, description FROM permissions WHERE name = $1`

	p := &models.Permission{}
	err := r.q.QueryRowxContext(ctx, query, name).Scan(&p.ID, &p.GroupID, &p.Name, &p.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
