// Package repositories implements the data access layer for tenants, users, memberships,
// grants, the failure ledger and the audit log. Each repository type encapsulates the
// queries for one concern; services never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, external_id, username, email, first_name, last_name, phone, status, created_at, updated_at`

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user := &models.User{}
	var status string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.ExternalID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	user.Status = models.UserStatus(status)
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getOne(ctx, `id = $1`, userID)
}

// GetUserByEmail retrieves a user by email (case-insensitive)
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `LOWER(email) = LOWER($1)`, email)
}

// GetUserByExternalID retrieves a user by identity provider user id
func (r *UserRepository) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return r.getOne(ctx, `external_id = $1`, externalID)
}

// EraseUser scrubs personal data from the user row and marks it erased. The row itself
// stays so memberships and audit entries keep resolving. Returns false when no
// non-erased user matched.
func (r *UserRepository) EraseUser(ctx context.Context, userID string) (bool, error) {
	query := `
		UPDATE users
		SET username = $2, email = $3, first_name = '', last_name = '', phone = NULL,
		    external_id = NULL, status = $4, updated_at = $5
		WHERE id = $1 AND status <> $4
	`

	res, err := r.db.ExecContext(ctx, query,
		userID,
		"erased-"+userID,
		models.ErasedEmail(userID),
		string(models.UserStatusErased),
		time.Now(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
