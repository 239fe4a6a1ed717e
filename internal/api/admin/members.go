// members.go implements membership administration: listing members, granting roles
// and direct permissions, revoking permissions, removing members and erasing users.

package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
)

// Granter changes the grants of a membership. *services.GrantService implements it.
type Granter interface {
	GrantRole(ctx context.Context, req services.GrantRequest, roleName string) error
	GrantPermission(ctx context.Context, req services.GrantRequest, permission string) error
	RevokePermission(ctx context.Context, req services.GrantRequest, permission string) error
}

// MemberRemover removes members and erases users. *services.MembershipService implements it.
type MemberRemover interface {
	RemoveMember(ctx context.Context, actor services.Actor, targetUserID string) error
	EraseUser(ctx context.Context, actor services.Actor, targetUserID string) (*services.EraseResult, error)
}

// MemberLister lists the members of a tenant. *repositories.TenantUserRepository implements it.
type MemberLister interface {
	ListMembers(ctx context.Context, tenantID string) ([]*models.TenantMember, error)
}

// MemberHandlers handles the /members and /users endpoints
type MemberHandlers struct {
	grants  Granter
	members MemberRemover
	lister  MemberLister
}

// NewMemberHandlers creates a new MemberHandlers instance
func NewMemberHandlers(grants Granter, members MemberRemover, lister MemberLister) *MemberHandlers {
	return &MemberHandlers{grants: grants, members: members, lister: lister}
}

type grantRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// @Summary      List members
// @Description  List the active and removed members of the caller's tenant with their roles.
// @Tags         Members
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "members: []models.TenantMember"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/members [get]
// ListMembersHandler lists the members of the caller's tenant
// GET /api/v1/members
func (h *MemberHandlers) ListMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		members, err := h.lister.ListMembers(c.Request.Context(), actor.TenantID)
		if err != nil {
			respondError(c, err, "list members")
			return
		}

		c.JSON(http.StatusOK, gin.H{"members": members})
	}
}

// @Summary      Grant role
// @Description  Assign a predefined role to a member of the caller's tenant.
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        user_id  path  string            true  "User ID"
// @Param        body     body  grantRoleRequest  true  "Role name"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Forbidden (including blocked privilege escalation)"
// @Failure      404  {object}  map[string]interface{}  "Unknown member or role"
// @Failure      409  {object}  map[string]interface{}  "Role already assigned"
// @Router       /api/v1/members/{user_id}/roles [post]
// GrantRoleHandler assigns a role to a member
// POST /api/v1/members/:user_id/roles
func (h *MemberHandlers) GrantRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req grantRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: role is required"})
			return
		}

		role := strings.TrimSpace(req.Role)
		target := c.Param("user_id")
		if err := h.grants.GrantRole(c.Request.Context(), services.GrantRequest{Actor: actor, TargetUserID: target}, role); err != nil {
			respondError(c, err, "grant role")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": target, "role": role, "status": "granted"})
	}
}

// GrantPermissionHandler grants a direct permission to a member
// POST /api/v1/members/:user_id/permissions
func (h *MemberHandlers) GrantPermissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req grantPermissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: permission is required"})
			return
		}

		permission := strings.TrimSpace(req.Permission)
		target := c.Param("user_id")
		if err := h.grants.GrantPermission(c.Request.Context(), services.GrantRequest{Actor: actor, TargetUserID: target}, permission); err != nil {
			respondError(c, err, "grant permission")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": target, "permission": permission, "status": "granted"})
	}
}

// RevokePermissionHandler revokes a direct permission. Role-derived permissions are
// not affected.
// DELETE /api/v1/members/:user_id/permissions/:permission
func (h *MemberHandlers) RevokePermissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		req := services.GrantRequest{Actor: actor, TargetUserID: c.Param("user_id")}
		if err := h.grants.RevokePermission(c.Request.Context(), req, c.Param("permission")); err != nil {
			respondError(c, err, "revoke permission")
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// RemoveMemberHandler soft-removes a member from the caller's tenant
// DELETE /api/v1/members/:user_id
func (h *MemberHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		if err := h.members.RemoveMember(c.Request.Context(), actor, c.Param("user_id")); err != nil {
			respondError(c, err, "remove member")
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary      Erase user
// @Description  Delete the user's identity provider account, scrub personal data, remove every membership and anonymize the audit trail.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        user_id  path  string  true  "User ID"
// @Success      200  {object}  services.EraseResult
// @Failure      404  {object}  map[string]interface{}  "Not a member of the caller's tenant, or already erased"
// @Router       /api/v1/users/{user_id}/erase [post]
// EraseUserHandler erases a user
// POST /api/v1/users/:user_id/erase
func (h *MemberHandlers) EraseUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		result, err := h.members.EraseUser(c.Request.Context(), actor, c.Param("user_id"))
		if err != nil {
			respondError(c, err, "erase user")
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
