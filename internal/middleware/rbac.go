package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// PermissionChecker answers permission questions for one membership.
// *auth.Resolver implements it.
type PermissionChecker interface {
	HasAny(ctx context.Context, tenantID, userID string, names ...string) (bool, error)
	HasAll(ctx context.Context, tenantID, userID string, names ...string) (bool, error)
}

// Mode selects how RequirePermissions combines the required names
type Mode int

const (
	// ModeAll requires every listed permission. An empty list only requires membership.
	ModeAll Mode = iota
	// ModeAny requires at least one listed permission. An empty list always denies.
	ModeAny
)

func (m Mode) String() string {
	if m == ModeAny {
		return "any"
	}
	return "all"
}

// RequirePermissions gates a route on the actor's effective permissions in the actor's
// tenant. It must run after IdentityMiddleware.
//
//   - no actor, or no active membership in the tenant → 401
//   - membership lacks the required permissions         → 403
//   - the permission store fails                         → 500
func RequirePermissions(checker PermissionChecker, mode Mode, perms ...auth.Permission) gin.HandlerFunc {
	names := auth.Names(perms...)

	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			deny(c, http.StatusUnauthorized, outcomeUnauthorized)
			return
		}

		ctx := c.Request.Context()
		var allowed bool
		var err error
		if mode == ModeAny {
			allowed, err = checker.HasAny(ctx, actor.TenantID, actor.UserID, names...)
		} else {
			allowed, err = checker.HasAll(ctx, actor.TenantID, actor.UserID, names...)
		}

		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			Logger(c).Info("request from non-member", "error", err)
			deny(c, http.StatusUnauthorized, outcomeUnauthorized)
		case err != nil:
			Logger(c).Error("permission check failed", "error", err)
			deny(c, http.StatusInternalServerError, outcomeError)
		case !allowed:
			Logger(c).Warn("permission denied", "required", names, "mode", mode.String(), "path", c.FullPath())
			deny(c, http.StatusForbidden, outcomeForbidden)
		default:
			telemetry.AuthorizationDecisionsTotal.WithLabelValues(outcomeAllowed).Inc()
			c.Next()
		}
	}
}

// RequireAll is RequirePermissions with ModeAll
func RequireAll(checker PermissionChecker, perms ...auth.Permission) gin.HandlerFunc {
	return RequirePermissions(checker, ModeAll, perms...)
}

// RequireAny is RequirePermissions with ModeAny
func RequireAny(checker PermissionChecker, perms ...auth.Permission) gin.HandlerFunc {
	return RequirePermissions(checker, ModeAny, perms...)
}
