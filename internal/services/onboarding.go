// Package services implements the business operations that span repositories and the
// identity provider: tenant onboarding, role and permission grants, membership
// lifecycle and the global grant policy.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/repositories"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/idp"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/hashicorp/go-multierror"
)

// DefaultCompensationTimeout bounds the whole rollback of one failed onboarding
const DefaultCompensationTimeout = 30 * time.Second

// State is a state of the onboarding state machine
type State string

const (
	StateStarted           State = "started"
	StateOrgCreated        State = "org_created"
	StateAdminUserCreated  State = "admin_user_created"
	StateMembershipLinked  State = "membership_linked"
	StateInternalPersisted State = "internal_persisted"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Step names the transition that was being attempted when onboarding failed
type Step string

const (
	StepPrecheck       Step = "precheck"
	StepCreateOrg      Step = "create_org"
	StepCreateUser     Step = "create_user"
	StepLinkMembership Step = "link_membership"
	StepPersist        Step = "persist"
)

// Compensating actions
const (
	undoDeleteOrg        = "delete_org"
	undoDeleteUser       = "delete_user"
	undoRemoveMembership = "remove_membership"
	undoDeleteOrphanOrg  = "delete_orphan_org"
	undoDeleteOrphanUser = "delete_orphan_user"
)

// IdentityProvider is the subset of the identity provider admin API onboarding needs.
// *idp.Client implements it.
type IdentityProvider interface {
	CreateOrg(ctx context.Context, name, domain string) (string, error)
	CreateUser(ctx context.Context, u idp.NewUser) (string, error)
	AddMembership(ctx context.Context, orgID, userID string) error
	RemoveMembership(ctx context.Context, orgID, userID string) error
	DeleteOrg(ctx context.Context, orgID string) error
	DeleteUser(ctx context.Context, userID string) error
	FindUserByEmail(ctx context.Context, email string) (*idp.User, error)
	FindOrgByDomain(ctx context.Context, domain string) (*idp.Organization, error)
}

// TenantChecker answers the internal uniqueness pre-check
type TenantChecker interface {
	ExistsByNameOrDomain(ctx context.Context, name, domain string) (bool, error)
}

// UserByEmail looks a user up by email; nil when absent
type UserByEmail interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// OnboardingStore writes the internal mirror of a provisioned tenant in one transaction
type OnboardingStore interface {
	Persist(ctx context.Context, rec *repositories.OnboardingRecord) error
}

// FailureRecorder appends FailureLedger entries
type FailureRecorder interface {
	Record(ctx context.Context, f *models.OnboardingFailure) error
}

// AuditLogger records privileged mutations. *audit.Recorder implements it.
type AuditLogger interface {
	Log(ctx context.Context, e audit.Entry)
}

// OnboardingRequest describes a new tenant and its first administrator
type OnboardingRequest struct {
	TenantName string `json:"tenant_name"`
	Domain     string `json:"domain"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Password   string `json:"password,omitempty"`

	IPAddress string `json:"-"`
	RequestID string `json:"-"`
}

// normalize trims the request, lower-cases domain and email, defaults the username to
// the email and validates required fields.
func (r *OnboardingRequest) normalize() error {
	r.TenantName = strings.TrimSpace(r.TenantName)
	r.Domain = models.NormalizeDomain(r.Domain)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)

	switch {
	case r.TenantName == "":
		return fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	case r.Domain == "" || !strings.Contains(r.Domain, "."):
		return fmt.Errorf("%w: a valid domain is required", ErrInvalidInput)
	case r.Email == "":
		return fmt.Errorf("%w: admin email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid admin email", ErrInvalidInput)
	}
	if r.Username == "" {
		r.Username = r.Email
	}
	return nil
}

// OnboardingResult identifies everything a successful onboarding created
type OnboardingResult struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	TenantUserID   string `json:"tenant_user_id"`
	ExternalOrgID  string `json:"external_org_id"`
	ExternalUserID string `json:"external_user_id"`
	State          State  `json:"state"`
}

type compensation struct {
	action string
	undo   func(ctx context.Context) error
}

// saga is the state of one onboarding attempt
type saga struct {
	state         State
	orgID         string
	userID        string
	linked        bool
	compensations []compensation
}

func (s *saga) advance(next State, action string, undo func(ctx context.Context) error) {
	s.state = next
	s.push(action, undo)
}

func (s *saga) push(action string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{action: action, undo: undo})
}

// OnboardingOrchestrator creates a tenant and its administrator across the identity
// provider and the database, compensating in reverse order when a step fails.
type OnboardingOrchestrator struct {
	provider            IdentityProvider
	tenants             TenantChecker
	users               UserByEmail
	store               OnboardingStore
	ledger              FailureRecorder
	audit               AuditLogger
	defaultRole         string
	compensationTimeout time.Duration
}

// NewOnboardingOrchestrator creates an orchestrator. defaultRole is assigned to the
// administrator; compensationTimeout bounds rollback and falls back to
// DefaultCompensationTimeout.
func NewOnboardingOrchestrator(provider IdentityProvider, tenants TenantChecker, users UserByEmail,
	store OnboardingStore, ledger FailureRecorder, auditLogger AuditLogger,
	defaultRole string, compensationTimeout time.Duration) *OnboardingOrchestrator {
	if defaultRole == "" {
		defaultRole = models.RoleOrgAdmin
	}
	if compensationTimeout <= 0 {
		compensationTimeout = DefaultCompensationTimeout
	}
	return &OnboardingOrchestrator{
		provider:            provider,
		tenants:             tenants,
		users:               users,
		store:               store,
		ledger:              ledger,
		audit:               auditLogger,
		defaultRole:         defaultRole,
		compensationTimeout: compensationTimeout,
	}
}

// Onboard runs the saga. On failure the returned error is an *OnboardingError (after
// compensation) or, when the pre-check finds an existing tenant, domain or user, a
// *ConflictError with nothing created. A failed attempt is terminal; check the
// FailureLedger before retrying the same domain.
func (o *OnboardingOrchestrator) Onboard(ctx context.Context, req OnboardingRequest) (*OnboardingResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	logger := slog.With("tenant_name", req.TenantName, "domain", req.Domain, "request_id", req.RequestID)

	if err := o.precheck(ctx, req); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			telemetry.OnboardingOutcomesTotal.WithLabelValues("conflict").Inc()
			logger.Info("onboarding rejected", "reason", err)
			return nil, err
		}
		telemetry.OnboardingOutcomesTotal.WithLabelValues("failed").Inc()
		return nil, &OnboardingError{Code: classify(ctx, StepPrecheck, err), Step: StepPrecheck, CleanupSucceeded: true, Err: err}
	}

	s := &saga{state: StateStarted}

	orgID, err := o.provider.CreateOrg(ctx, req.TenantName, req.Domain)
	if err != nil {
		if idp.MayHaveApplied(err) {
			s.push(undoDeleteOrphanOrg, o.deleteOrphanOrg(s, req))
		}
		return nil, o.fail(ctx, s, req, StepCreateOrg, err)
	}
	s.orgID = orgID
	s.advance(StateOrgCreated, undoDeleteOrg, func(ctx context.Context) error {
		return o.provider.DeleteOrg(ctx, orgID)
	})

	userID, err := o.provider.CreateUser(ctx, idp.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		if idp.MayHaveApplied(err) {
			s.push(undoDeleteOrphanUser, o.deleteOrphanUser(s, req))
		}
		return nil, o.fail(ctx, s, req, StepCreateUser, err)
	}
	s.userID = userID
	s.advance(StateAdminUserCreated, undoDeleteUser, func(ctx context.Context) error {
		return o.provider.DeleteUser(ctx, userID)
	})

	if err := o.provider.AddMembership(ctx, orgID, userID); err != nil {
		return nil, o.fail(ctx, s, req, StepLinkMembership, err)
	}
	s.linked = true
	s.advance(StateMembershipLinked, undoRemoveMembership, func(ctx context.Context) error {
		return o.provider.RemoveMembership(ctx, orgID, userID)
	})

	rec := &repositories.OnboardingRecord{
		Tenant: models.Tenant{
			Name:        req.TenantName,
			DisplayName: req.TenantName,
			ExternalID:  &orgID,
		},
		Domain: req.Domain,
		User: models.User{
			ExternalID: &userID,
			Username:   req.Username,
			Email:      req.Email,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
		},
		RoleName: o.defaultRole,
	}
	if err := o.store.Persist(ctx, rec); err != nil {
		if errors.Is(err, repositories.ErrUniqueViolation) {
			err = &ConflictError{Resource: "tenant", Value: req.Domain}
		}
		return nil, o.fail(ctx, s, req, StepPersist, err)
	}
	s.state = StateInternalPersisted
	s.compensations = nil

	o.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionTenantCreate,
		ResourceType: audit.ResourceTenant,
		ResourceID:   rec.Tenant.ID,
		ActorUserID:  rec.User.ID,
		ActorName:    rec.User.DisplayName(),
		TenantID:     rec.Tenant.ID,
		IPAddress:    req.IPAddress,
		RequestID:    req.RequestID,
		New: map[string]interface{}{
			"tenant_name":     req.TenantName,
			"domain":          req.Domain,
			"external_org_id": orgID,
		},
	})
	o.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionUserCreate,
		ResourceType: audit.ResourceUser,
		ResourceID:   rec.User.ID,
		ActorUserID:  rec.User.ID,
		ActorName:    rec.User.DisplayName(),
		TenantID:     rec.Tenant.ID,
		IPAddress:    req.IPAddress,
		RequestID:    req.RequestID,
		New: map[string]interface{}{
			"username":         req.Username,
			"email":            req.Email,
			"first_name":       req.FirstName,
			"last_name":        req.LastName,
			"external_user_id": userID,
			"role":             o.defaultRole,
		},
	})

	s.state = StateCompleted
	telemetry.OnboardingOutcomesTotal.WithLabelValues("completed").Inc()
	logger.Info("tenant onboarded", "tenant_id", rec.Tenant.ID, "user_id", rec.User.ID)

	return &OnboardingResult{
		TenantID:       rec.Tenant.ID,
		UserID:         rec.User.ID,
		TenantUserID:   rec.TenantUserID,
		ExternalOrgID:  orgID,
		ExternalUserID: userID,
		State:          s.state,
	}, nil
}

// precheck rejects onboarding before anything is created when the tenant, domain or
// admin email already exists internally or in the identity provider.
func (o *OnboardingOrchestrator) precheck(ctx context.Context, req OnboardingRequest) error {
	exists, err := o.tenants.ExistsByNameOrDomain(ctx, req.TenantName, req.Domain)
	if err != nil {
		return fmt.Errorf("failed to check tenant uniqueness: %w", err)
	}
	if exists {
		return &ConflictError{Resource: "tenant", Value: req.Domain}
	}

	user, err := o.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	if user != nil {
		return &ConflictError{Resource: "user", Value: req.Email}
	}

	org, err := o.provider.FindOrgByDomain(ctx, req.Domain)
	if err != nil {
		return fmt.Errorf("failed to look up organization in identity provider: %w", err)
	}
	if org != nil {
		return &ConflictError{Resource: "domain", Value: req.Domain, External: true}
	}

	extUser, err := o.provider.FindUserByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("failed to look up user in identity provider: %w", err)
	}
	if extUser != nil {
		return &ConflictError{Resource: "user", Value: req.Email, External: true}
	}
	return nil
}

// deleteOrphanOrg removes the organization a failed CreateOrg may still have created.
// Only an organization owning the domain under the requested name is deleted.
func (o *OnboardingOrchestrator) deleteOrphanOrg(s *saga, req OnboardingRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		org, err := o.provider.FindOrgByDomain(ctx, req.Domain)
		if err != nil {
			return fmt.Errorf("failed to look up organization: %w", err)
		}
		if org == nil || org.ID == "" || !strings.EqualFold(org.Name, req.TenantName) {
			return nil
		}
		s.orgID = org.ID
		return o.provider.DeleteOrg(ctx, org.ID)
	}
}

// deleteOrphanUser is deleteOrphanOrg for CreateUser, matched by email and username
func (o *OnboardingOrchestrator) deleteOrphanUser(s *saga, req OnboardingRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		user, err := o.provider.FindUserByEmail(ctx, req.Email)
		if err != nil {
			return fmt.Errorf("failed to look up user: %w", err)
		}
		if user == nil || user.ID == "" || !strings.EqualFold(user.Username, req.Username) {
			return nil
		}
		s.userID = user.ID
		return o.provider.DeleteUser(ctx, user.ID)
	}
}

// fail unwinds the compensation stack, records a FailureLedger entry when any
// compensating call failed and builds the error returned to the caller.
func (o *OnboardingOrchestrator) fail(ctx context.Context, s *saga, req OnboardingRequest, step Step, cause error) error {
	s.state = StateFailed

	var provErr *idp.ProviderError
	if errors.As(cause, &provErr) && provErr.Conflict() && !provErr.Resent {
		if step == StepCreateUser {
			cause = &ConflictError{Resource: "user", Value: req.Email, External: true}
		} else {
			cause = &ConflictError{Resource: "domain", Value: req.Domain, External: true}
		}
	}

	cleanupErr := o.unwind(ctx, s)
	result := &OnboardingError{
		Code:             classify(ctx, step, cause),
		Step:             step,
		CleanupSucceeded: cleanupErr == nil,
		Err:              cause,
	}

	logger := slog.With("tenant_name", req.TenantName, "domain", req.Domain, "step", string(step),
		"request_id", req.RequestID)

	if cleanupErr == nil {
		telemetry.OnboardingOutcomesTotal.WithLabelValues("rolled_back").Inc()
		logger.Warn("onboarding failed and was rolled back", "error", cause)
		return result
	}

	telemetry.OnboardingOutcomesTotal.WithLabelValues("cleanup_failed").Inc()
	entry := &models.OnboardingFailure{
		TenantName:        req.TenantName,
		Domain:            req.Domain,
		Email:             req.Email,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		FailedStep:        string(step),
		ExternalOrgID:     optionalID(s.orgID),
		ExternalUserID:    optionalID(s.userID),
		MembershipLinked:  s.linked,
		ErrorMessage:      cause.Error(),
		CompensationError: cleanupErr.Error(),
		RolledBack:        false,
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.compensationTimeout)
	defer cancel()
	if err := o.ledger.Record(recordCtx, entry); err != nil {
		logger.Error("failed to record onboarding failure",
			"external_org_id", s.orgID, "external_user_id", s.userID,
			"error", cause, "compensation_error", cleanupErr, "ledger_error", err)
		return result
	}

	result.LedgerID = entry.ID
	logger.Error("onboarding failed and cleanup was incomplete",
		"failure_id", entry.ID, "external_org_id", s.orgID, "external_user_id", s.userID,
		"error", cause, "compensation_error", cleanupErr)
	return result
}

// unwind runs every pushed compensation in reverse order on a context detached from the
// caller, so a cancelled request cannot strand external state. Every compensation is
// attempted; failures are collected and returned together.
func (o *OnboardingOrchestrator) unwind(ctx context.Context, s *saga) error {
	if len(s.compensations) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.compensationTimeout)
	defer cancel()

	var result *multierror.Error
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.undo(cctx); err != nil {
			telemetry.CompensationsTotal.WithLabelValues(c.action, "failed").Inc()
			slog.Error("compensating action failed", "action", c.action,
				"external_org_id", s.orgID, "external_user_id", s.userID, "error", err)
			result = multierror.Append(result, &CompensationFailure{Action: c.action, Err: err})
			continue
		}
		telemetry.CompensationsTotal.WithLabelValues(c.action, "ok").Inc()
	}
	s.compensations = nil

	return result.ErrorOrNil()
}

func classify(ctx context.Context, step Step, err error) string {
	var conflict *ConflictError
	var authErr *idp.AuthenticationError
	var provErr *idp.ProviderError
	switch {
	case errors.As(err, &conflict):
		return CodeConflict
	case ctx.Err() != nil:
		return CodeCancelled
	case step == StepPersist:
		return CodePersistFailed
	case errors.As(err, &provErr) && provErr.Resent:
		return CodeProviderUnavailable
	case errors.As(err, &authErr), idp.IsTransient(err):
		return CodeProviderUnavailable
	case errors.As(err, &provErr):
		return CodeProviderRejected
	default:
		return CodeInternal
	}
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
