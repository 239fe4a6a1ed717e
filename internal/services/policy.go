package services

import (
	"context"
	"fmt"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
)

// SettingStore reads and writes boolean global settings
type SettingStore interface {
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) (previous bool, err error)
}

// PolicyService manages the global grant-requires-possession switch. The switch is
// global: toggling it affects every tenant.
type PolicyService struct {
	settings SettingStore
	audit    AuditLogger
}

// NewPolicyService creates a new PolicyService
func NewPolicyService(settings SettingStore, auditLogger AuditLogger) *PolicyService {
	return &PolicyService{settings: settings, audit: auditLogger}
}

// GrantRequiresPossession returns the current switch value
func (p *PolicyService) GrantRequiresPossession(ctx context.Context) (bool, error) {
	on, err := p.settings.GetBool(ctx, models.SettingGrantRequiresPossession)
	if err != nil {
		return false, fmt.Errorf("failed to read grant policy: %w", err)
	}
	return on, nil
}

// SetGrantRequiresPossession changes the switch and audits the transition
func (p *PolicyService) SetGrantRequiresPossession(ctx context.Context, actor Actor, enabled bool) error {
	previous, err := p.settings.SetBool(ctx, models.SettingGrantRequiresPossession, enabled)
	if err != nil {
		return fmt.Errorf("failed to update grant policy: %w", err)
	}

	p.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionSettingUpdate,
		ResourceType: audit.ResourceSetting,
		ResourceID:   models.SettingGrantRequiresPossession,
		ActorUserID:  actor.UserID,
		ActorName:    actor.Name,
		TenantID:     actor.TenantID,
		IPAddress:    actor.IPAddress,
		RequestID:    actor.RequestID,
		Old:          map[string]bool{"value": previous},
		New:          map[string]bool{"value": enabled},
	})
	return nil
}
