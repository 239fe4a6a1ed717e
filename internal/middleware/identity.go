// Package middleware provides the Gin middleware that guards the tenant-scoped API:
// request context, metrics, actor identity and permission checks.
//
// Ordering is enforced in internal/api/router.go:
//
//	Recovery → RequestContext → Metrics → SecurityHeaders → Identity → RequirePermissions → Handler
//
// Identity only establishes who is calling and for which tenant. Membership and grants
// are evaluated by RequirePermissions against the store on every request, so a revoked
// grant takes effect immediately without reissuing tokens.
package middleware

import (
	"errors"
	"net/http"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// ActorKey is the gin.Context key of the resolved *auth.Actor.
const ActorKey = "actor"

// Authorization outcomes, used as the AuthorizationDecisionsTotal label.
const (
	outcomeAllowed      = "allowed"
	outcomeForbidden    = "forbidden"
	outcomeUnauthorized = "unauthorized"
	outcomeError        = "error"
)

// ActorIdentifier resolves the actor of a request. *auth.ActorResolver implements it.
type ActorIdentifier interface {
	Resolve(r *http.Request) (*auth.Actor, error)
}

// IdentityMiddleware resolves the request's actor and stores it under ActorKey.
// Missing or rejected credentials abort with 401; a failing identity source aborts
// with 500.
func IdentityMiddleware(identifier ActorIdentifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := identifier.Resolve(c.Request)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				Logger(c).Debug("identity rejected", "error", err)
				deny(c, http.StatusUnauthorized, outcomeUnauthorized)
				return
			}
			Logger(c).Error("identity source failed", "error", err)
			deny(c, http.StatusInternalServerError, outcomeError)
			return
		}

		c.Set(ActorKey, actor)
		c.Set(LoggerKey, Logger(c).With("tenant_id", actor.TenantID, "actor_user_id", actor.UserID))
		c.Next()
	}
}

// ActorFromContext returns the actor stored by IdentityMiddleware
func ActorFromContext(c *gin.Context) (*auth.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*auth.Actor)
	return actor, ok && actor != nil
}

// deny aborts with a bare status body. Responses never say which permission was
// missing or whether the tenant exists.
func deny(c *gin.Context, status int, outcome string) {
	telemetry.AuthorizationDecisionsTotal.WithLabelValues(outcome).Inc()

	var msg string
	switch status {
	case http.StatusUnauthorized:
		msg = "unauthorized"
	case http.StatusForbidden:
		msg = "forbidden"
	default:
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
