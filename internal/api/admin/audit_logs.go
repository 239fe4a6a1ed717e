// audit_logs.go implements read access to the audit trail of the caller's tenant.

package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/repositories"
	"github.com/gin-gonic/gin"
)

// AuditLister queries audit logs. *repositories.AuditRepository implements it.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditHandlers handles audit log endpoints
type AuditHandlers struct {
	logs AuditLister
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(logs AuditLister) *AuditHandlers {
	return &AuditHandlers{logs: logs}
}

// @Summary      List audit logs
// @Description  Paginated audit trail of the caller's tenant, newest first.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        action         query  string  false  "Action, e.g. member.grant_role"
// @Param        resource_type  query  string  false  "tenant, user, tenant_user or setting"
// @Param        resource_id    query  string  false  "Resource ID"
// @Param        user_id        query  string  false  "Acting user ID"
// @Param        start_date     query  string  false  "RFC 3339 lower bound"
// @Param        end_date       query  string  false  "RFC 3339 upper bound"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 100 (default 50)"
// @Success      200  {object}  map[string]interface{}  "logs: []models.AuditLog, pagination: {page, per_page, total}"
// @Failure      400  {object}  map[string]interface{}  "Invalid date"
// @Router       /api/v1/audit-logs [get]
// ListAuditLogsHandler lists audit logs of the caller's tenant
// GET /api/v1/audit-logs
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 50
		}

		// The tenant filter is never taken from the query string.
		filters := repositories.AuditFilters{TenantID: &actor.TenantID}
		filters.Action = optionalQuery(c, "action")
		filters.ResourceType = optionalQuery(c, "resource_type")
		filters.ResourceID = optionalQuery(c, "resource_id")
		filters.UserID = optionalQuery(c, "user_id")

		var err error
		if filters.StartDate, err = optionalTime(c, "start_date"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be RFC 3339"})
			return
		}
		if filters.EndDate, err = optionalTime(c, "end_date"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be RFC 3339"})
			return
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err, "list audit logs")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

func optionalQuery(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
