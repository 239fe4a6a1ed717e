// Package onboarding implements the public tenant sign-up endpoint. It takes no actor:
// the request creates the tenant and its first administrator.
package onboarding

import (
	"context"
	"errors"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/middleware"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
)

// Onboarder runs the onboarding saga. *services.OnboardingOrchestrator implements it.
type Onboarder interface {
	Onboard(ctx context.Context, req services.OnboardingRequest) (*services.OnboardingResult, error)
}

// Handler handles POST /api/v1/onboarding
type Handler struct {
	onboarder Onboarder
}

// NewHandler creates a new onboarding Handler
func NewHandler(onboarder Onboarder) *Handler {
	return &Handler{onboarder: onboarder}
}

// @Summary      Onboard tenant
// @Description  Create a tenant, its primary domain and first administrator in the identity provider and the database. Partial external state is compensated on failure.
// @Tags         Onboarding
// @Accept       json
// @Produce      json
// @Param        body  body  services.OnboardingRequest  true  "Tenant and administrator"
// @Success      201  {object}  services.OnboardingResult
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      409  {object}  map[string]interface{}  "Tenant, domain or user already exists"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Failure      502  {object}  map[string]interface{}  "Identity provider failure (code, cleanup_succeeded, failure_id)"
// @Router       /api/v1/onboarding [post]
// OnboardHandler creates a tenant
// POST /api/v1/onboarding
func (h *Handler) OnboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.OnboardingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.IPAddress = c.ClientIP()
		req.RequestID = middleware.RequestID(c)

		result, err := h.onboarder.Onboard(c.Request.Context(), req)
		if err != nil {
			respondOnboardingError(c, err)
			return
		}

		middleware.Logger(c).Info("tenant onboarded", "tenant_id", result.TenantID, "user_id", result.UserID)
		c.JSON(http.StatusCreated, result)
	}
}

// statusForCode maps OnboardingError codes onto HTTP statuses
func statusForCode(code string) int {
	switch code {
	case services.CodeConflict:
		return http.StatusConflict
	case services.CodeProviderUnavailable, services.CodeProviderRejected:
		return http.StatusBadGateway
	case services.CodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondOnboardingError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var onboardingErr *services.OnboardingError
	var conflict *services.ConflictError

	body := gin.H{}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &onboardingErr):
		status = statusForCode(onboardingErr.Code)
		body["code"] = onboardingErr.Code
		body["step"] = onboardingErr.Step
		body["cleanup_succeeded"] = onboardingErr.CleanupSucceeded
		if onboardingErr.LedgerID != "" {
			body["failure_id"] = onboardingErr.LedgerID
		}
	case errors.As(err, &conflict):
		// Found by the pre-checks: nothing was created.
		status = http.StatusConflict
		body["code"] = services.CodeConflict
		body["cleanup_succeeded"] = true
	default:
		body["code"] = services.CodeInternal
	}

	if errors.As(err, &conflict) {
		body["error"] = conflict.Error()
		body["resource"] = conflict.Resource
	} else if status >= http.StatusInternalServerError {
		body["error"] = "onboarding failed"
	}

	log := middleware.Logger(c)
	if status >= http.StatusInternalServerError {
		log.Error("onboarding failed", "error", err, "status", status)
	} else {
		log.Info("onboarding rejected", "error", err, "status", status)
	}
	c.JSON(status, body)
}
