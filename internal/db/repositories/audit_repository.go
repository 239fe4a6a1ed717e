// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit log entries, plus the redaction update used when a user is erased.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/google/uuid"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID       *string
	TenantID     *string
	Action       *string
	ResourceType *string
	ResourceID   *string
	StartDate    *time.Time
	EndDate      *time.Time
}

const auditColumns = `id, user_id, actor_name, tenant_id, action, resource_type, resource_id, old_values, new_values, ip_address, created_at`

// nullableJSON maps an empty snapshot to SQL NULL rather than an invalid JSONB literal
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func scanAuditLog(row interface{ Scan(...interface{}) error }) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var oldValues, newValues []byte
	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.ActorName,
		&log.TenantID,
		&log.Action,
		&log.ResourceType,
		&log.ResourceID,
		&oldValues,
		&newValues,
		&log.IPAddress,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if oldValues != nil {
		log.OldValues = json.RawMessage(oldValues)
	}
	if newValues != nil {
		log.NewValues = json.RawMessage(newValues)
	}
	return log, nil
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	query := `
		INSERT INTO audit_logs (id, user_id, actor_name, tenant_id, action, resource_type, resource_id, old_values, new_values, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.ActorName,
		log.TenantID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		nullableJSON(log.OldValues),
		nullableJSON(log.NewValues),
		log.IPAddress,
		log.CreatedAt,
	)

	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, v)
		paramIndex++
	}

	if filters.UserID != nil {
		add(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.TenantID != nil {
		add(` AND tenant_id = $%d`, *filters.TenantID)
	}
	if filters.Action != nil {
		add(` AND action = $%d`, *filters.Action)
	}
	if filters.ResourceType != nil {
		add(` AND resource_type = $%d`, *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		add(` AND resource_id = $%d`, *filters.ResourceID)
	}
	if filters.StartDate != nil {
		add(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		add(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	log, err := scanAuditLog(r.db.QueryRowContext(ctx, query, logID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

// ListForSubject returns every entry the user either performed or was the subject of
func (r *AuditRepository) ListForSubject(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs
			  WHERE user_id = $1 OR (resource_type IN ('user', 'tenant_user') AND resource_id = $2)
			  ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// UpdateRedaction overwrites the actor name and snapshots of one entry. It is the only
// mutation audit entries ever receive.
func (r *AuditRepository) UpdateRedaction(ctx context.Context, logID string, actorName *string, oldValues, newValues json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_logs SET actor_name = $2, old_values = $3, new_values = $4 WHERE id = $1`,
		logID, actorName, nullableJSON(oldValues), nullableJSON(newValues))
	return err
}
