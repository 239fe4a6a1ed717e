// grant_repository.go implements GrantRepository, which runs role and permission grants
// inside one SERIALIZABLE transaction together with the policy switch read and the
// grantor's permission scan.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// maxSerializationRetries bounds how often WithinTx re-runs fn after PostgreSQL aborted
// the transaction with a serialization failure.
const maxSerializationRetries = 3

// GrantOps is the set of reads and writes available inside a grant transaction
type GrantOps interface {
	GrantRequiresPossession(ctx context.Context) (bool, error)
	ScanGrants(ctx context.Context, tenantID, userID string, visit func(name string) bool) (bool, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantUser, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	GetPermissionByName(ctx context.Context, name string) (*models.Permission, error)
	ListRoleNames(ctx context.Context, tenantUserID string) ([]string, error)
	ListDirectPermissions(ctx context.Context, tenantUserID string) ([]string, error)
	AssignRole(ctx context.Context, tenantUserID, roleID string, grantedBy *string) error
	GrantPermission(ctx context.Context, tenantUserID, permissionID string, grantedBy *string) error
	RevokePermission(ctx context.Context, tenantUserID, permissionID string) (bool, error)
}

// GrantRepository opens grant transactions
type GrantRepository struct {
	db *sqlx.DB
}

// NewGrantRepository creates a new GrantRepository
func NewGrantRepository(db *sqlx.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

type grantTx struct {
	*PermissionRepository
	*TenantUserRepository
	*RoleRepository
	settings *SettingRepository
}

func (g *grantTx) GrantRequiresPossession(ctx context.Context) (bool, error) {
	return g.settings.GetBool(ctx, models.SettingGrantRequiresPossession)
}

// WithinTx runs fn in a SERIALIZABLE transaction and commits when fn returns nil. If
// PostgreSQL reports a serialization failure, fn is re-run on a fresh transaction.
func (r *GrantRepository) WithinTx(ctx context.Context, fn func(GrantOps) error) error {
	var err error
	for attempt := 1; attempt <= maxSerializationRetries; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("grant transaction kept conflicting after %d attempts: %w", maxSerializationRetries, err)
}

func (r *GrantRepository) runOnce(ctx context.Context, fn func(GrantOps) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	ops := &grantTx{
		PermissionRepository: (&PermissionRepository{}).WithTx(tx),
		TenantUserRepository: (&TenantUserRepository{}).WithTx(tx),
		RoleRepository:       (&RoleRepository{}).WithTx(tx),
		settings:             (&SettingRepository{}).WithTx(tx),
	}
	if err := fn(ops); err != nil {
		return err
	}

	return tx.Commit()
}
