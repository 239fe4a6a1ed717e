// failure_ledger_repository.go implements FailureLedgerRepository over onboarding_failures.
// Entries are append-only from the service's point of view; only an operator resolves them.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// FailureLedgerRepository handles failure ledger database operations
type FailureLedgerRepository struct {
	db *sqlx.DB
}

// NewFailureLedgerRepository creates a new FailureLedgerRepository
func NewFailureLedgerRepository(db *sqlx.DB) *FailureLedgerRepository {
	return &FailureLedgerRepository{db: db}
}

const failureColumns = `id, tenant_name, domain, email, first_name, last_name, failed_step,
	external_org_id, external_user_id, membership_linked, error_message, compensation_error,
	rolled_back, resolved_at, resolved_by, resolution_note, created_at`

func scanFailure(row interface{ Scan(...interface{}) error }) (*models.OnboardingFailure, error) {
	f := &models.OnboardingFailure{}
	err := row.Scan(&f.ID, &f.TenantName, &f.Domain, &f.Email, &f.FirstName, &f.LastName, &f.FailedStep,
		&f.ExternalOrgID, &f.ExternalUserID, &f.MembershipLinked, &f.ErrorMessage, &f.CompensationError,
		&f.RolledBack, &f.ResolvedAt, &f.ResolvedBy, &f.ResolutionNote, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Record appends a ledger entry, assigning its ID and timestamp
func (r *FailureLedgerRepository) Record(ctx context.Context, f *models.OnboardingFailure) error {
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now()

	query := `INSERT INTO onboarding_failures (id, tenant_name, domain, email, first_name, last_name,
				failed_step, external_org_id, external_user_id, membership_linked, error_message,
				compensation_error, rolled_back, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.TenantName, f.Domain, f.Email, f.FirstName, f.LastName,
		f.FailedStep, f.ExternalOrgID, f.ExternalUserID, f.MembershipLinked, f.ErrorMessage,
		f.CompensationError, f.RolledBack, f.CreatedAt)
	return err
}

// Get retrieves a ledger entry by ID
func (r *FailureLedgerRepository) Get(ctx context.Context, id string) (*models.OnboardingFailure, error) {
	query := `SELECT ` + failureColumns + ` FROM onboarding_failures WHERE id = $1`

	f, err := scanFailure(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListUnresolved returns unresolved entries, oldest first
func (r *FailureLedgerRepository) ListUnresolved(ctx context.Context, limit int) ([]*models.OnboardingFailure, error) {
	query := `SELECT ` + failureColumns + ` FROM onboarding_failures
			  WHERE resolved_at IS NULL ORDER BY created_at LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.OnboardingFailure, 0)
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountUnresolved returns the number of entries awaiting reconciliation
func (r *FailureLedgerRepository) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM onboarding_failures WHERE resolved_at IS NULL`).Scan(&n)
	return n, err
}

// MarkResolved records that an operator reconciled the entry. Returns false when the
// entry does not exist or was already resolved.
func (r *FailureLedgerRepository) MarkResolved(ctx context.Context, id, resolvedBy, note string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE onboarding_failures SET resolved_at = $2, resolved_by = $3, resolution_note = $4
		 WHERE id = $1 AND resolved_at IS NULL`,
		id, time.Now(), resolvedBy, note)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
