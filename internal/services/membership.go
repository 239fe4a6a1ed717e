package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
)

// Actor is the authenticated caller of a tenant-scoped operation
type Actor struct {
	TenantID  string
	UserID    string
	Name      string
	IPAddress string
	RequestID string
}

// MembershipStore reads and changes memberships. *repositories.TenantUserRepository
// implements it.
type MembershipStore interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantUser, error)
	SetStatus(ctx context.Context, tenantID, userID string, status models.MembershipStatus) (bool, error)
	RemoveAllForUser(ctx context.Context, userID string) (int64, error)
}

// UserStore reads and erases users. *repositories.UserRepository implements it.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	EraseUser(ctx context.Context, userID string) (bool, error)
}

// ExternalUserDeleter removes an account from the identity provider
type ExternalUserDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// AuditAnonymizer scrubs a user from the audit trail. *audit.Anonymizer implements it.
type AuditAnonymizer interface {
	AnonymizeUser(ctx context.Context, userID string) (int, error)
}

// MembershipService handles member removal and user erasure
type MembershipService struct {
	memberships MembershipStore
	users       UserStore
	provider    ExternalUserDeleter
	anonymizer  AuditAnonymizer
	audit       AuditLogger
}

// NewMembershipService creates a new MembershipService. provider may be nil, in which
// case erasure leaves the identity provider account alone.
func NewMembershipService(memberships MembershipStore, users UserStore, provider ExternalUserDeleter,
	anonymizer AuditAnonymizer, auditLogger AuditLogger) *MembershipService {
	return &MembershipService{
		memberships: memberships,
		users:       users,
		provider:    provider,
		anonymizer:  anonymizer,
		audit:       auditLogger,
	}
}

// RemoveMember sets the target's membership in the actor's tenant to removed. The row
// stays so audit history keeps resolving.
func (s *MembershipService) RemoveMember(ctx context.Context, actor Actor, targetUserID string) error {
	m, err := s.memberships.GetMembership(ctx, actor.TenantID, targetUserID)
	if err != nil {
		return fmt.Errorf("failed to get membership: %w", err)
	}
	if m == nil || !m.IsActive() {
		return fmt.Errorf("membership of user %s: %w", targetUserID, ErrNotFound)
	}

	changed, err := s.memberships.SetStatus(ctx, actor.TenantID, targetUserID, models.MembershipStatusRemoved)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if !changed {
		return fmt.Errorf("membership of user %s: %w", targetUserID, ErrNotFound)
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionMemberRemove,
		ResourceType: audit.ResourceTenantUser,
		ResourceID:   m.ID,
		ActorUserID:  actor.UserID,
		ActorName:    actor.Name,
		TenantID:     actor.TenantID,
		IPAddress:    actor.IPAddress,
		RequestID:    actor.RequestID,
		Old:          map[string]interface{}{"user_id": targetUserID, "status": m.Status},
		New:          map[string]interface{}{"user_id": targetUserID, "status": models.MembershipStatusRemoved},
	})
	return nil
}

// EraseResult summarizes an erasure
type EraseResult struct {
	UserID             string `json:"user_id"`
	MembershipsRemoved int64  `json:"memberships_removed"`
	AuditRowsRedacted  int    `json:"audit_rows_redacted"`
}

// EraseUser scrubs a member of the actor's tenant: the identity provider account is
// deleted, the user row loses its personal data, every membership is removed and the
// audit trail is anonymized. The user must belong (or have belonged) to the actor's
// tenant. For a user who is already erased only the anonymization runs again, so an
// earlier anonymizer failure can be repaired by repeating the request.
func (s *MembershipService) EraseUser(ctx context.Context, actor Actor, targetUserID string) (*EraseResult, error) {
	m, err := s.memberships.GetMembership(ctx, actor.TenantID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("membership of user %s: %w", targetUserID, ErrNotFound)
	}

	user, err := s.users.GetUserByID(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", targetUserID, ErrNotFound)
	}
	if user.IsErased() {
		return s.reanonymize(ctx, actor, targetUserID)
	}

	if s.provider != nil && user.ExternalID != nil {
		if err := s.provider.DeleteUser(ctx, *user.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to delete user from identity provider: %w", err)
		}
	}

	if _, err := s.users.EraseUser(ctx, targetUserID); err != nil {
		return nil, fmt.Errorf("failed to erase user: %w", err)
	}

	removed, err := s.memberships.RemoveAllForUser(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove memberships: %w", err)
	}

	redacted, err := s.anonymizer.AnonymizeUser(ctx, targetUserID)
	if err != nil {
		// The user row is already scrubbed; erasing again reruns only this step.
		slog.Error("failed to anonymize audit trail", "user_id", targetUserID, "error", err)
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionUserErase,
		ResourceType: audit.ResourceUser,
		ResourceID:   targetUserID,
		ActorUserID:  actor.UserID,
		ActorName:    actor.Name,
		TenantID:     actor.TenantID,
		IPAddress:    actor.IPAddress,
		RequestID:    actor.RequestID,
		New: map[string]interface{}{
			"status":              models.UserStatusErased,
			"memberships_removed": removed,
			"audit_rows_redacted": redacted,
		},
	})

	return &EraseResult{UserID: targetUserID, MembershipsRemoved: removed, AuditRowsRedacted: redacted}, nil
}

// reanonymize repeats the audit anonymization of an erased user
func (s *MembershipService) reanonymize(ctx context.Context, actor Actor, targetUserID string) (*EraseResult, error) {
	redacted, err := s.anonymizer.AnonymizeUser(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to anonymize audit trail: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionUserErase,
		ResourceType: audit.ResourceUser,
		ResourceID:   targetUserID,
		ActorUserID:  actor.UserID,
		ActorName:    actor.Name,
		TenantID:     actor.TenantID,
		IPAddress:    actor.IPAddress,
		RequestID:    actor.RequestID,
		New: map[string]interface{}{
			"status":              models.UserStatusErased,
			"audit_rows_redacted": redacted,
		},
	})

	return &EraseResult{UserID: targetUserID, AuditRowsRedacted: redacted}, nil
}
