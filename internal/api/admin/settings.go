package admin

import (
	"context"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
)

// PolicySwitch reads and toggles the global grant policy. *services.PolicyService
// implements it.
type PolicySwitch interface {
	GrantRequiresPossession(ctx context.Context) (bool, error)
	SetGrantRequiresPossession(ctx context.Context, actor services.Actor, enabled bool) error
}

// SettingsHandlers handles global setting endpoints
type SettingsHandlers struct {
	policy PolicySwitch
}

// NewSettingsHandlers creates a new SettingsHandlers instance
func NewSettingsHandlers(policy PolicySwitch) *SettingsHandlers {
	return &SettingsHandlers{policy: policy}
}

type grantPolicyRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetGrantPolicyHandler reports whether granting requires possession
// GET /api/v1/settings/grant-requires-possession
func (h *SettingsHandlers) GetGrantPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		enabled, err := h.policy.GrantRequiresPossession(c.Request.Context())
		if err != nil {
			respondError(c, err, "read grant policy")
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	}
}

// SetGrantPolicyHandler toggles the grant policy. The switch is global: it applies to
// every tenant, not only the caller's.
// PUT /api/v1/settings/grant-requires-possession
func (h *SettingsHandlers) SetGrantPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req grantPolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: enabled is required"})
			return
		}

		if err := h.policy.SetGrantRequiresPossession(c.Request.Context(), actor, *req.Enabled); err != nil {
			respondError(c, err, "update grant policy")
			return
		}

		c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
	}
}
