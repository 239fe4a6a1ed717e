// onboarding_repository.go implements OnboardingRepository, which mirrors a freshly
// provisioned tenant and its administrator into the database in one transaction.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OnboardingRecord is everything Persist writes. Persist fills in the generated IDs.
type OnboardingRecord struct {
	Tenant   models.Tenant
	Domain   string
	User     models.User
	RoleName string

	TenantUserID string
}

// OnboardingRepository persists onboarding results
type OnboardingRepository struct {
	db *sqlx.DB
}

// NewOnboardingRepository creates a new OnboardingRepository
func NewOnboardingRepository(db *sqlx.DB) *OnboardingRepository {
	return &OnboardingRepository{db: db}
}

// Persist inserts the tenant, its primary domain, the user, the membership and the
// default role assignment atomically. A collision with any unique index (tenant name,
// domain, email, external ids) returns an error matching ErrUniqueViolation and leaves
// no rows behind.
func (r *OnboardingRepository) Persist(ctx context.Context, rec *OnboardingRecord) error {
	now := time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	rec.Tenant.ID = uuid.New().String()
	rec.Tenant.Status = models.TenantStatusActive
	rec.Tenant.CreatedAt = now
	rec.Tenant.UpdatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (id, name, display_name, external_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Tenant.ID, rec.Tenant.Name, rec.Tenant.DisplayName, rec.Tenant.ExternalID,
		string(rec.Tenant.Status), rec.Tenant.CreatedAt, rec.Tenant.UpdatedAt)
	if err != nil {
		return wrapUnique(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenant_domains (id, tenant_id, domain, is_primary, verified, created_at)
		 VALUES ($1, $2, $3, true, false, $4)`,
		uuid.New().String(), rec.Tenant.ID, rec.Domain, now)
	if err != nil {
		return wrapUnique(err)
	}

	rec.User.ID = uuid.New().String()
	rec.User.Status = models.UserStatusActive
	rec.User.CreatedAt = now
	rec.User.UpdatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, external_id, username, email, first_name, last_name, phone, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.User.ID, rec.User.ExternalID, rec.User.Username, rec.User.Email, rec.User.FirstName,
		rec.User.LastName, rec.User.Phone, string(rec.User.Status), rec.User.CreatedAt, rec.User.UpdatedAt)
	if err != nil {
		return wrapUnique(err)
	}

	rec.TenantUserID = uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenant_users (id, tenant_id, user_id, status, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		rec.TenantUserID, rec.Tenant.ID, rec.User.ID, string(models.MembershipStatusActive), now)
	if err != nil {
		return wrapUnique(err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_user_roles (tenant_user_id, role_id, granted_by, created_at)
		 SELECT $1, id, NULL, $3 FROM roles WHERE name = $2`,
		rec.TenantUserID, rec.RoleName, now)
	if err != nil {
		return wrapUnique(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("default role %q not found", rec.RoleName)
	}

	return tx.Commit()
}
