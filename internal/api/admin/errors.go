// Package admin implements the tenant-scoped administration endpoints. Every route is
// registered behind IdentityMiddleware and a RequirePermissions gate; the handlers only
// translate between HTTP and the services package.
package admin

import (
	"errors"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/middleware"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
)

// actorFrom converts the gate's actor into the services representation. ok is false
// when the route was registered without IdentityMiddleware.
func actorFrom(c *gin.Context) (services.Actor, bool) {
	a, ok := middleware.ActorFromContext(c)
	if !ok {
		return services.Actor{}, false
	}
	name := a.Email
	if name == "" {
		name = a.UserID
	}
	return services.Actor{
		TenantID:  a.TenantID,
		UserID:    a.UserID,
		Name:      name,
		IPAddress: c.ClientIP(),
		RequestID: middleware.RequestID(c),
	}, true
}

// requireActor writes a 401 and returns false when no actor is present
func requireActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return actor, ok
}

// respondError maps service errors onto HTTP statuses. Authorization failures never
// name the missing permissions.
func respondError(c *gin.Context, err error, operation string) {
	var conflict *services.ConflictError
	var escalation *services.PrivilegeEscalationError

	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &escalation), errors.Is(err, auth.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		middleware.Logger(c).Error("request failed", "operation", operation, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + operation})
	}
}
