package repositories

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newGrantRepo(t *testing.T) (*GrantRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSqlxMock(t)
	return NewGrantRepository(db), mock
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value FROM global_settings").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("true"))
	mock.ExpectExec("INSERT INTO user_permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ops GrantOps) error {
		enabled, err := ops.GrantRequiresPossession(context.Background())
		if err != nil {
			return err
		}
		if !enabled {
			t.Error("GrantRequiresPossession() = false, want true")
		}
		return ops.GrantPermission(context.Background(), "tu-1", "perm-1", nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("escalation")
	err := repo.WithinTx(context.Background(), func(GrantOps) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithinTx_RetriesSerializationFailure(t *testing.T) {
	repo, mock := newGrantRepo(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := repo.WithinTx(context.Background(), func(GrantOps) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestWithinTx_GivesUpAfterMaxRetries(t *testing.T) {
	repo, mock := newGrantRepo(t)
	for i := 0; i < maxSerializationRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := repo.WithinTx(context.Background(), func(GrantOps) error {
		return &pq.Error{Code: "40001"}
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !isSerializationFailure(err) {
		t.Errorf("err = %v, want wrapped serialization failure", err)
	}
}
