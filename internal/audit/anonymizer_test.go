package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{
			name:    "flat personal fields",
			in:      `{"email":"bob@example.com","first_name":"Bob","status":"active"}`,
			want:    `{"email":"[REDACTED]","first_name":"[REDACTED]","status":"active"}`,
			changed: true,
		},
		{
			name:    "key spellings normalized",
			in:      `{"firstName":"Bob","Last-Name":"Jones","display name":"BJ"}`,
			want:    `{"firstName":"[REDACTED]","Last-Name":"[REDACTED]","display name":"[REDACTED]"}`,
			changed: true,
		},
		{
			name:    "nested objects and arrays",
			in:      `{"user":{"username":"bob","id":"u1"},"members":[{"email":"a@x.io"},{"role":"viewer"}]}`,
			want:    `{"user":{"username":"[REDACTED]","id":"u1"},"members":[{"email":"[REDACTED]"},{"role":"viewer"}]}`,
			changed: true,
		},
		{
			name:    "numbers preserved",
			in:      `{"phone":"555","count":12345678901234567890}`,
			want:    `{"phone":"[REDACTED]","count":12345678901234567890}`,
			changed: true,
		},
		{
			name: "nothing personal",
			in:   `{"permissions":["manage-settings"]}`,
			want: `{"permissions":["manage-settings"]}`,
		},
		{
			name: "null personal value left alone",
			in:   `{"email":null}`,
			want: `{"email":null}`,
		},
		{
			name: "already redacted",
			in:   `{"email":"[REDACTED]"}`,
			want: `{"email":"[REDACTED]"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := audit.RedactSnapshot(json.RawMessage(tt.in))
			assert.Equal(t, tt.changed, changed)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRedactSnapshot_EmptyAndMalformed(t *testing.T) {
	got, changed := audit.RedactSnapshot(nil)
	assert.False(t, changed)
	assert.Nil(t, got)

	malformed := json.RawMessage(`{"email":`)
	got, changed = audit.RedactSnapshot(malformed)
	assert.False(t, changed)
	assert.Equal(t, malformed, got)
}

type redactionCall struct {
	id        string
	actorName *string
	oldValues json.RawMessage
	newValues json.RawMessage
}

type fakeAnonymizerStore struct {
	logs      []*models.AuditLog
	listErr   error
	updateErr error
	calls     []redactionCall
}

func (f *fakeAnonymizerStore) ListForSubject(_ context.Context, _ string) ([]*models.AuditLog, error) {
	return f.logs, f.listErr
}

func (f *fakeAnonymizerStore) UpdateRedaction(_ context.Context, id string, actorName *string, oldValues, newValues json.RawMessage) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.calls = append(f.calls, redactionCall{id: id, actorName: actorName, oldValues: oldValues, newValues: newValues})
	return nil
}

func strPtr(s string) *string { return &s }

func TestAnonymizeUser(t *testing.T) {
	store := &fakeAnonymizerStore{logs: []*models.AuditLog{
		{
			// bob acted
			ID: "log-1", UserID: strPtr("bob"), ActorName: strPtr("Bob Jones"),
			Action: audit.ActionSettingUpdate, NewValues: json.RawMessage(`{"value":true}`),
		},
		{
			// bob was the subject
			ID: "log-2", UserID: strPtr("alice"), ActorName: strPtr("Alice Admin"),
			Action:    audit.ActionUserCreate,
			NewValues: json.RawMessage(`{"email":"bob@example.com","id":"bob"}`),
		},
		{
			// already scrubbed
			ID: "log-3", UserID: strPtr("bob"), ActorName: strPtr(models.ErasedDisplayName),
			Action: audit.ActionMemberRemove,
		},
	}}

	n, err := audit.NewAnonymizer(store).AnonymizeUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.calls, 2)

	first := store.calls[0]
	assert.Equal(t, "log-1", first.id)
	require.NotNil(t, first.actorName)
	assert.Equal(t, models.ErasedDisplayName, *first.actorName)
	assert.JSONEq(t, `{"value":true}`, string(first.newValues))

	second := store.calls[1]
	assert.Equal(t, "log-2", second.id)
	require.NotNil(t, second.actorName)
	assert.Equal(t, "Alice Admin", *second.actorName, "other actors keep their name")
	assert.JSONEq(t, `{"email":"[REDACTED]","id":"bob"}`, string(second.newValues))
}

func TestAnonymizeUser_Errors(t *testing.T) {
	_, err := audit.NewAnonymizer(&fakeAnonymizerStore{listErr: errors.New("db down")}).
		AnonymizeUser(context.Background(), "bob")
	assert.Error(t, err)

	store := &fakeAnonymizerStore{
		logs:      []*models.AuditLog{{ID: "log-1", UserID: strPtr("bob"), ActorName: strPtr("Bob")}},
		updateErr: errors.New("db down"),
	}
	n, err := audit.NewAnonymizer(store).AnonymizeUser(context.Background(), "bob")
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
