package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
)

var failureCols = []string{
	"id", "tenant_name", "domain", "email", "first_name", "last_name", "failed_step",
	"external_org_id", "external_user_id", "membership_linked", "error_message", "compensation_error",
	"rolled_back", "resolved_at", "resolved_by", "resolution_note", "created_at",
}

func newLedgerRepo(t *testing.T) (*FailureLedgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSqlxMock(t)
	return NewFailureLedgerRepository(db), mock
}

func sampleFailureRow() *sqlmock.Rows {
	return sqlmock.NewRows(failureCols).
		AddRow("f-1", "Acme", "acme.com", "a@acme.com", "Ada", "Admin", "persist",
			"kc-org-1", "kc-user-1", true, "duplicate domain", "delete org: 503",
			false, nil, nil, nil, time.Now())
}

func TestRecord(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectExec("INSERT INTO onboarding_failures").WillReturnResult(sqlmock.NewResult(0, 1))

	f := &models.OnboardingFailure{TenantName: "Acme", Domain: "acme.com", FailedStep: "persist", ErrorMessage: "boom"}
	if err := repo.Record(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID == "" || f.CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not assigned: %+v", f)
	}
}

func TestRecord_DBError(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectExec("INSERT INTO onboarding_failures").WillReturnError(errDB)

	if err := repo.Record(context.Background(), &models.OnboardingFailure{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestLedgerGet(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectQuery("SELECT id, tenant_name.*FROM onboarding_failures WHERE id").
		WithArgs("f-1").
		WillReturnRows(sampleFailureRow())

	f, err := repo.Get(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil || f.RolledBack || f.IsResolved() {
		t.Errorf("entry = %+v", f)
	}
	if f.ExternalOrgID == nil || *f.ExternalOrgID != "kc-org-1" {
		t.Errorf("ExternalOrgID = %v", f.ExternalOrgID)
	}
}

func TestLedgerGet_NotFound(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectQuery("SELECT id, tenant_name").WillReturnRows(sqlmock.NewRows(failureCols))

	f, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Errorf("expected nil, got %+v", f)
	}
}

func TestListUnresolved(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectQuery("SELECT id, tenant_name.*WHERE resolved_at IS NULL").
		WithArgs(100).
		WillReturnRows(sampleFailureRow())

	entries, err := repo.ListUnresolved(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(entries))
	}
}

func TestCountUnresolved(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM onboarding_failures").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.CountUnresolved(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("CountUnresolved() = %d, want 4", n)
	}
}

func TestMarkResolved(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectExec("UPDATE onboarding_failures SET resolved_at").
		WithArgs("f-1", sqlmock.AnyArg(), "ops@acme.com", "deleted org manually").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkResolved(context.Background(), "f-1", "ops@acme.com", "deleted org manually")
	if err != nil || !ok {
		t.Errorf("MarkResolved() = %v, %v; want true, nil", ok, err)
	}
}

func TestMarkResolved_AlreadyResolved(t *testing.T) {
	repo, mock := newLedgerRepo(t)
	mock.ExpectExec("UPDATE onboarding_failures").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkResolved(context.Background(), "f-1", "ops", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("MarkResolved() = true for an already resolved entry")
	}
}
