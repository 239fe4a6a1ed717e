package services

import (
	"context"
	"errors"
	"testing"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemberships struct {
	members    map[string]*models.TenantUser // "tenant/user"
	removedAll []string
	err        error
}

func (f *fakeMemberships) GetMembership(_ context.Context, tenantID, userID string) (*models.TenantUser, error) {
	return f.members[tenantID+"/"+userID], f.err
}

func (f *fakeMemberships) SetStatus(_ context.Context, tenantID, userID string, status models.MembershipStatus) (bool, error) {
	m := f.members[tenantID+"/"+userID]
	if m == nil {
		return false, nil
	}
	m.Status = status
	return true, nil
}

func (f *fakeMemberships) RemoveAllForUser(_ context.Context, userID string) (int64, error) {
	f.removedAll = append(f.removedAll, userID)
	var n int64
	for _, m := range f.members {
		if m.UserID == userID && m.IsActive() {
			m.Status = models.MembershipStatusRemoved
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	users  map[string]*models.User
	erased []string
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) EraseUser(_ context.Context, id string) (bool, error) {
	f.erased = append(f.erased, id)
	f.users[id].Status = models.UserStatusErased
	return true, nil
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteUser(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeAnonymizer struct {
	calls []string
	err   error
}

func (f *fakeAnonymizer) AnonymizeUser(_ context.Context, id string) (int, error) {
	f.calls = append(f.calls, id)
	return 4, f.err
}

type membershipFixture struct {
	memberships *fakeMemberships
	users       *fakeUsers
	deleter     *fakeDeleter
	anonymizer  *fakeAnonymizer
	audit       *fakeAudit
	svc         *MembershipService
}

func newMembershipFixture() *membershipFixture {
	extID := "kc-bob"
	f := &membershipFixture{
		memberships: &fakeMemberships{members: map[string]*models.TenantUser{
			"t1/bob":   {ID: "tu-bob-1", TenantID: "t1", UserID: "bob", Status: models.MembershipStatusActive},
			"t2/bob":   {ID: "tu-bob-2", TenantID: "t2", UserID: "bob", Status: models.MembershipStatusActive},
			"t1/carol": {ID: "tu-carol", TenantID: "t1", UserID: "carol", Status: models.MembershipStatusRemoved},
		}},
		users: &fakeUsers{users: map[string]*models.User{
			"bob":   {ID: "bob", ExternalID: &extID, Email: "bob@acme.com", Status: models.UserStatusActive},
			"carol": {ID: "carol", Email: "carol@acme.com", Status: models.UserStatusActive},
		}},
		deleter:    &fakeDeleter{},
		anonymizer: &fakeAnonymizer{},
		audit:      &fakeAudit{},
	}
	f.svc = NewMembershipService(f.memberships, f.users, f.deleter, f.anonymizer, f.audit)
	return f
}

var adminActor = Actor{TenantID: "t1", UserID: "alice", Name: "Alice Admin", RequestID: "req-1"}

func TestRemoveMember(t *testing.T) {
	f := newMembershipFixture()

	require.NoError(t, f.svc.RemoveMember(context.Background(), adminActor, "bob"))

	assert.Equal(t, models.MembershipStatusRemoved, f.memberships.members["t1/bob"].Status)
	assert.Equal(t, models.MembershipStatusActive, f.memberships.members["t2/bob"].Status, "other tenants untouched")
	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, audit.ActionMemberRemove, e.Action)
	assert.Equal(t, "tu-bob-1", e.ResourceID)
	assert.Equal(t, "req-1", e.RequestID)
}

func TestRemoveMember_NotFound(t *testing.T) {
	f := newMembershipFixture()

	assert.ErrorIs(t, f.svc.RemoveMember(context.Background(), adminActor, "nobody"), ErrNotFound)
	assert.ErrorIs(t, f.svc.RemoveMember(context.Background(), adminActor, "carol"), ErrNotFound, "already removed")
	assert.Empty(t, f.audit.entries)
}

func TestRemoveMember_StoreError(t *testing.T) {
	f := newMembershipFixture()
	f.memberships.err = errors.New("db down")

	err := f.svc.RemoveMember(context.Background(), adminActor, "bob")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestEraseUser(t *testing.T) {
	f := newMembershipFixture()

	res, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"kc-bob"}, f.deleter.deleted)
	assert.Equal(t, []string{"bob"}, f.users.erased)
	assert.Equal(t, []string{"bob"}, f.anonymizer.calls)
	assert.Equal(t, int64(2), res.MembershipsRemoved)
	assert.Equal(t, 4, res.AuditRowsRedacted)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionUserErase, f.audit.entries[0].Action)
	assert.Equal(t, "bob", f.audit.entries[0].ResourceID)
}

func TestEraseUser_PreviouslyRemovedMember(t *testing.T) {
	f := newMembershipFixture()

	_, err := f.svc.EraseUser(context.Background(), adminActor, "carol")
	require.NoError(t, err)
	assert.Empty(t, f.deleter.deleted, "no external account to delete")
}

func TestEraseUser_Rejections(t *testing.T) {
	f := newMembershipFixture()

	_, err := f.svc.EraseUser(context.Background(), Actor{TenantID: "t3", UserID: "mallory"}, "bob")
	assert.ErrorIs(t, err, ErrNotFound, "user outside the actor's tenant")

	_, err = f.svc.EraseUser(context.Background(), adminActor, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.users.erased)
}

func TestEraseUser_ProviderFailureStopsErasure(t *testing.T) {
	f := newMembershipFixture()
	f.deleter.err = errors.New("provider down")

	_, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.Error(t, err)
	assert.Empty(t, f.users.erased)
	assert.Empty(t, f.audit.entries)
}

func TestEraseUser_AnonymizerFailureIsNotFatal(t *testing.T) {
	f := newMembershipFixture()
	f.anonymizer.err = errors.New("audit table locked")

	_, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, f.users.erased)
}

func TestEraseUser_RepeatReanonymizesAfterFailure(t *testing.T) {
	f := newMembershipFixture()
	f.anonymizer.err = errors.New("audit table locked")

	_, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.NoError(t, err)

	f.anonymizer.err = nil
	res, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"bob", "bob"}, f.anonymizer.calls)
	assert.Equal(t, []string{"kc-bob"}, f.deleter.deleted, "provider account deleted once")
	assert.Equal(t, []string{"bob"}, f.users.erased, "user row scrubbed once")
	assert.Equal(t, 4, res.AuditRowsRedacted)
	assert.Zero(t, res.MembershipsRemoved)
	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, audit.ActionUserErase, f.audit.entries[1].Action)
}

func TestEraseUser_RepeatSurfacesAnonymizerFailure(t *testing.T) {
	f := newMembershipFixture()
	f.users.users["bob"].Status = models.UserStatusErased
	f.anonymizer.err = errors.New("audit table locked")

	_, err := f.svc.EraseUser(context.Background(), adminActor, "bob")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.deleter.deleted)
	assert.Empty(t, f.audit.entries)
}
