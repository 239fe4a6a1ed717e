package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/lib/pq"
)

var tenantUserCols = []string{"id", "tenant_id", "user_id", "status", "joined_at", "updated_at"}

func newTenantUserRepo(t *testing.T) (*TenantUserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSqlxMock(t)
	return NewTenantUserRepository(db), mock
}

// ---------------------------------------------------------------------------
// GetMembership
// ---------------------------------------------------------------------------

func TestGetMembership_Found(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectQuery("SELECT id, tenant_id, user_id, status").
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows(tenantUserCols).
			AddRow("tu-1", "tenant-1", "user-1", "removed", time.Now(), time.Now()))

	m, err := repo.GetMembership(context.Background(), "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.Status != models.MembershipStatusRemoved {
		t.Errorf("membership = %+v", m)
	}
}

func TestGetMembership_NotFound(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectQuery("SELECT id, tenant_id, user_id, status").
		WillReturnRows(sqlmock.NewRows(tenantUserCols))

	m, err := repo.GetMembership(context.Background(), "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

// ---------------------------------------------------------------------------
// ListMembers
// ---------------------------------------------------------------------------

func TestListMembers(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectQuery("SELECT tu.id, tu.tenant_id").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "status", "joined_at", "email", "name", "roles"}).
			AddRow("tu-1", "tenant-1", "user-1", "active", time.Now(), "a@acme.com", "Ada L", []byte("{org-admin,org-user}")))

	members, err := repo.ListMembers(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("len(members) = %d, want 1", len(members))
	}
	if len(members[0].Roles) != 2 || members[0].Roles[0] != "org-admin" {
		t.Errorf("Roles = %v", members[0].Roles)
	}
}

// ---------------------------------------------------------------------------
// Status changes
// ---------------------------------------------------------------------------

func TestSetStatus(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectExec("UPDATE tenant_users SET status").
		WithArgs("tenant-1", "user-1", "removed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetStatus(context.Background(), "tenant-1", "user-1", models.MembershipStatusRemoved)
	if err != nil || !ok {
		t.Errorf("SetStatus() = %v, %v; want true, nil", ok, err)
	}
}

func TestRemoveAllForUser(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectExec("UPDATE tenant_users SET status").
		WithArgs("user-1", "removed", sqlmock.AnyArg(), "active").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RemoveAllForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("RemoveAllForUser() = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

func TestAssignRole_Duplicate(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectExec("INSERT INTO tenant_user_roles").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenant_user_roles_pkey"})

	err := repo.AssignRole(context.Background(), "tu-1", "role-1", strPtr("admin-1"))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Errorf("err = %v, want ErrUniqueViolation", err)
	}
}

func TestGrantPermission_Success(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectExec("INSERT INTO user_permissions").
		WithArgs("tu-1", "perm-1", "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.GrantPermission(context.Background(), "tu-1", "perm-1", strPtr("admin-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokePermission_NotGranted(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectExec("DELETE FROM user_permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.RevokePermission(context.Background(), "tu-1", "perm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("RevokePermission() = true for a permission that was not granted")
	}
}

func TestListDirectPermissions(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectQuery("SELECT p.name FROM user_permissions").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("erase-users").AddRow("view-audit-log"))

	names, err := repo.ListDirectPermissions(context.Background(), "tu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v", names)
	}
}

func TestListRoleNames_Empty(t *testing.T) {
	repo, mock := newTenantUserRepo(t)
	mock.ExpectQuery("SELECT r.name FROM tenant_user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	names, err := repo.ListRoleNames(context.Background(), "tu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Errorf("names = %#v, want empty non-nil slice", names)
	}
}
