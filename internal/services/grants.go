package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/repositories"
)

// GrantStore runs fn inside one serializable transaction. *repositories.GrantRepository
// implements it.
type GrantStore interface {
	WithinTx(ctx context.Context, fn func(repositories.GrantOps) error) error
}

// GrantRequest identifies who grants to whom, within the actor's tenant
type GrantRequest struct {
	Actor
	TargetUserID string
}

// GrantService assigns roles and direct permissions to memberships, enforcing the
// grant policy switch in the same transaction as the write.
type GrantService struct {
	store GrantStore
	audit AuditLogger
}

// NewGrantService creates a new GrantService
func NewGrantService(store GrantStore, auditLogger AuditLogger) *GrantService {
	return &GrantService{store: store, audit: auditLogger}
}

// actorPermissions collects the grantor's full effective set and requires
// assign-permissions.
func actorPermissions(ctx context.Context, ops repositories.GrantOps, tenantID, actorUserID string) (auth.PermissionSet, error) {
	perms := auth.NewPermissionSet()
	member, err := ops.ScanGrants(ctx, tenantID, actorUserID, func(name string) bool {
		perms.Add(name)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve grantor permissions: %w", err)
	}
	if !member {
		return nil, &auth.NotAMemberError{TenantID: tenantID, UserID: actorUserID}
	}
	if !perms.Has(string(auth.PermAssignPermissions)) {
		return nil, auth.ErrForbidden
	}
	return perms, nil
}

// checkPossession enforces the grant policy switch: when on, every granted permission
// must already be held by the grantor.
func checkPossession(ctx context.Context, ops repositories.GrantOps, held auth.PermissionSet, granted []string) error {
	on, err := ops.GrantRequiresPossession(ctx)
	if err != nil {
		return fmt.Errorf("failed to read grant policy: %w", err)
	}
	if !on {
		return nil
	}
	if missing := held.Missing(granted...); len(missing) > 0 {
		return &PrivilegeEscalationError{Missing: missing}
	}
	return nil
}

func targetMembership(ctx context.Context, ops repositories.GrantOps, tenantID, userID string) (*models.TenantUser, error) {
	m, err := ops.GetMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if m == nil || !m.IsActive() {
		return nil, fmt.Errorf("membership of user %s: %w", userID, ErrNotFound)
	}
	return m, nil
}

// GrantRole assigns roleName to the target membership. With the policy switch on the
// grantor must hold every permission inside the role.
func (s *GrantService) GrantRole(ctx context.Context, req GrantRequest, roleName string) error {
	var tenantUserID string
	var before, after []string

	err := s.store.WithinTx(ctx, func(ops repositories.GrantOps) error {
		held, err := actorPermissions(ctx, ops, req.TenantID, req.UserID)
		if err != nil {
			return err
		}

		role, err := ops.GetRoleByName(ctx, roleName)
		if err != nil {
			return fmt.Errorf("failed to get role: %w", err)
		}
		if role == nil {
			return fmt.Errorf("role %q: %w", roleName, ErrNotFound)
		}

		if err := checkPossession(ctx, ops, held, role.Permissions); err != nil {
			return err
		}

		target, err := targetMembership(ctx, ops, req.TenantID, req.TargetUserID)
		if err != nil {
			return err
		}
		tenantUserID = target.ID

		before, err = ops.ListRoleNames(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}

		if err := ops.AssignRole(ctx, target.ID, role.ID, &req.UserID); err != nil {
			if errors.Is(err, repositories.ErrUniqueViolation) {
				return &ConflictError{Resource: "grant", Value: roleName}
			}
			return fmt.Errorf("failed to assign role: %w", err)
		}
		after = append(append(make([]string, 0, len(before)+1), before...), roleName)
		return nil
	})
	if err != nil {
		logGrantRejection(req, "role", roleName, err)
		return err
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionMemberGrantRole,
		ResourceType: audit.ResourceTenantUser,
		ResourceID:   tenantUserID,
		ActorUserID:  req.UserID,
		ActorName:    req.Name,
		TenantID:     req.TenantID,
		IPAddress:    req.IPAddress,
		RequestID:    req.RequestID,
		Old:          map[string]interface{}{"user_id": req.TargetUserID, "roles": before},
		New:          map[string]interface{}{"user_id": req.TargetUserID, "roles": after},
	})
	return nil
}

// GrantPermission attaches a direct permission to the target membership. With the
// policy switch on the grantor must hold it.
func (s *GrantService) GrantPermission(ctx context.Context, req GrantRequest, permission string) error {
	if err := auth.ValidatePermissionName(permission); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var tenantUserID string
	var before, after []string

	err := s.store.WithinTx(ctx, func(ops repositories.GrantOps) error {
		held, err := actorPermissions(ctx, ops, req.TenantID, req.UserID)
		if err != nil {
			return err
		}
		if err := checkPossession(ctx, ops, held, []string{permission}); err != nil {
			return err
		}

		target, err := targetMembership(ctx, ops, req.TenantID, req.TargetUserID)
		if err != nil {
			return err
		}
		tenantUserID = target.ID

		perm, err := ops.GetPermissionByName(ctx, permission)
		if err != nil {
			return fmt.Errorf("failed to get permission: %w", err)
		}
		if perm == nil {
			return fmt.Errorf("permission %q: %w", permission, ErrNotFound)
		}

		before, err = ops.ListDirectPermissions(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("failed to list direct permissions: %w", err)
		}

		if err := ops.GrantPermission(ctx, target.ID, perm.ID, &req.UserID); err != nil {
			if errors.Is(err, repositories.ErrUniqueViolation) {
				return &ConflictError{Resource: "grant", Value: permission}
			}
			return fmt.Errorf("failed to grant permission: %w", err)
		}
		after = append(append(make([]string, 0, len(before)+1), before...), permission)
		return nil
	})
	if err != nil {
		logGrantRejection(req, "permission", permission, err)
		return err
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionMemberGrantPermission,
		ResourceType: audit.ResourceTenantUser,
		ResourceID:   tenantUserID,
		ActorUserID:  req.UserID,
		ActorName:    req.Name,
		TenantID:     req.TenantID,
		IPAddress:    req.IPAddress,
		RequestID:    req.RequestID,
		Old:          map[string]interface{}{"user_id": req.TargetUserID, "permissions": before},
		New:          map[string]interface{}{"user_id": req.TargetUserID, "permissions": after},
	})
	return nil
}

// RevokePermission removes a direct permission. Role-derived permissions are not
// affected.
func (s *GrantService) RevokePermission(ctx context.Context, req GrantRequest, permission string) error {
	if err := auth.ValidatePermissionName(permission); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var tenantUserID string
	var before, after []string

	err := s.store.WithinTx(ctx, func(ops repositories.GrantOps) error {
		if _, err := actorPermissions(ctx, ops, req.TenantID, req.UserID); err != nil {
			return err
		}

		target, err := targetMembership(ctx, ops, req.TenantID, req.TargetUserID)
		if err != nil {
			return err
		}
		tenantUserID = target.ID

		perm, err := ops.GetPermissionByName(ctx, permission)
		if err != nil {
			return fmt.Errorf("failed to get permission: %w", err)
		}
		if perm == nil {
			return fmt.Errorf("permission %q: %w", permission, ErrNotFound)
		}

		before, err = ops.ListDirectPermissions(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("failed to list direct permissions: %w", err)
		}

		removed, err := ops.RevokePermission(ctx, target.ID, perm.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke permission: %w", err)
		}
		if !removed {
			return fmt.Errorf("direct grant %q: %w", permission, ErrNotFound)
		}

		after = make([]string, 0, len(before))
		for _, p := range before {
			if p != permission {
				after = append(after, p)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionMemberRevokePermission,
		ResourceType: audit.ResourceTenantUser,
		ResourceID:   tenantUserID,
		ActorUserID:  req.UserID,
		ActorName:    req.Name,
		TenantID:     req.TenantID,
		IPAddress:    req.IPAddress,
		RequestID:    req.RequestID,
		Old:          map[string]interface{}{"user_id": req.TargetUserID, "permissions": before},
		New:          map[string]interface{}{"user_id": req.TargetUserID, "permissions": after},
	})
	return nil
}

func logGrantRejection(req GrantRequest, kind, name string, err error) {
	var escalation *PrivilegeEscalationError
	if errors.As(err, &escalation) {
		slog.Warn("grant rejected: privilege escalation",
			"tenant_id", req.TenantID, "actor_user_id", req.UserID, "target_user_id", req.TargetUserID,
			"kind", kind, "name", name, "missing", escalation.Missing)
	}
}
