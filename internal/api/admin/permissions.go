package admin

import (
	"context"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/gin-gonic/gin"
)

// PermissionResolver resolves the effective permissions of a membership.
// *auth.Resolver implements it.
type PermissionResolver interface {
	Resolve(ctx context.Context, tenantID, userID string) (auth.PermissionSet, error)
}

// PermissionHandlers serves the caller's own effective permissions
type PermissionHandlers struct {
	resolver PermissionResolver
}

// NewPermissionHandlers creates a new PermissionHandlers instance
func NewPermissionHandlers(resolver PermissionResolver) *PermissionHandlers {
	return &PermissionHandlers{resolver: resolver}
}

// MyPermissionsHandler returns the union of role-derived and direct permissions of the
// caller in the caller's tenant, sorted by name.
// GET /api/v1/me/permissions
func (h *PermissionHandlers) MyPermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		set, err := h.resolver.Resolve(c.Request.Context(), actor.TenantID, actor.UserID)
		if err != nil {
			respondError(c, err, "resolve permissions")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id":   actor.TenantID,
			"user_id":     actor.UserID,
			"permissions": set.Names(),
		})
	}
}
