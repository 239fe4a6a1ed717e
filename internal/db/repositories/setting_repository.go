// setting_repository.go implements SettingRepository over the global_settings key/value table.
package repositories

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// SettingRepository handles global setting database operations
type SettingRepository struct {
	q sqlx.ExtContext
}

// NewSettingRepository creates a new SettingRepository
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *SettingRepository) WithTx(tx *sqlx.Tx) *SettingRepository {
	return &SettingRepository{q: tx}
}

// GetBool reads a boolean setting. A missing key reads as false.
func (r *SettingRepository) GetBool(ctx context.Context, key string) (bool, error) {
	var value string
	err := r.q.QueryRowxContext(ctx, `SELECT value FROM global_settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return parseBoolSetting(value), nil
}

// SetBool upserts a boolean setting and returns the value it replaced.
func (r *SettingRepository) SetBool(ctx context.Context, key string, value bool) (previous bool, err error) {
	query := `
		WITH prev AS (SELECT value FROM global_settings WHERE key = $1)
		INSERT INTO global_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING (SELECT value FROM prev)
	`

	var prev sql.NullString
	if err := r.q.QueryRowxContext(ctx, query, key, strconv.FormatBool(value)).Scan(&prev); err != nil {
		return false, err
	}
	return prev.Valid && parseBoolSetting(prev.String), nil
}

func parseBoolSetting(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
