package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	rows    []*models.AuditLog
	err     error
	ctxErrs []error
}

func (m *memoryStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.err != nil {
		return m.err
	}
	log.ID = "log-1"
	m.rows = append(m.rows, log)
	return nil
}

func TestRecorder_WritesRow(t *testing.T) {
	store := &memoryStore{}
	rec := audit.NewRecorder(store, nil, time.Second)

	rec.Log(context.Background(), audit.Entry{
		Action:       audit.ActionMemberGrantPermission,
		ResourceType: audit.ResourceTenantUser,
		ResourceID:   "user-2",
		ActorUserID:  "user-1",
		ActorName:    "Alice Admin",
		TenantID:     "tenant-1",
		IPAddress:    "10.0.0.1",
		New:          map[string][]string{"permissions": {"manage-settings"}},
	})
	require.NoError(t, rec.Close())

	require.Len(t, store.rows, 1)
	row := store.rows[0]
	assert.Equal(t, audit.ActionMemberGrantPermission, row.Action)
	require.NotNil(t, row.UserID)
	assert.Equal(t, "user-1", *row.UserID)
	require.NotNil(t, row.TenantID)
	assert.Equal(t, "tenant-1", *row.TenantID)
	assert.Nil(t, row.OldValues)
	assert.JSONEq(t, `{"permissions":["manage-settings"]}`, string(row.NewValues))
	assert.False(t, row.CreatedAt.IsZero())
}

func TestRecorder_EmptyFieldsStoredAsNull(t *testing.T) {
	store := &memoryStore{}
	rec := audit.NewRecorder(store, nil, 0)

	rec.Log(context.Background(), audit.Entry{Action: audit.ActionSettingUpdate})

	require.Len(t, store.rows, 1)
	assert.Nil(t, store.rows[0].UserID)
	assert.Nil(t, store.rows[0].TenantID)
	assert.Nil(t, store.rows[0].IPAddress)
}

func TestRecorder_WriteSurvivesCancelledCaller(t *testing.T) {
	store := &memoryStore{}
	rec := audit.NewRecorder(store, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Log(ctx, audit.Entry{Action: audit.ActionMemberRemove})

	require.Len(t, store.rows, 1)
	assert.NoError(t, store.ctxErrs[0])
}

func TestRecorder_StoreFailureIsSwallowed(t *testing.T) {
	store := &memoryStore{err: errors.New("connection reset")}
	rec := audit.NewRecorder(store, nil, time.Second)

	before := testutil.ToFloat64(telemetry.AuditWriteFailuresTotal.WithLabelValues("database"))
	assert.NotPanics(t, func() {
		rec.Log(context.Background(), audit.Entry{Action: audit.ActionUserErase})
	})
	after := testutil.ToFloat64(telemetry.AuditWriteFailuresTotal.WithLabelValues("database"))
	assert.Equal(t, before+1, after)
}

func TestRecorder_UnencodableSnapshotStillRecords(t *testing.T) {
	store := &memoryStore{}
	rec := audit.NewRecorder(store, nil, time.Second)

	rec.Log(context.Background(), audit.Entry{
		Action: audit.ActionSettingUpdate,
		Old:    map[string]interface{}{"bad": make(chan int)},
		New:    json.RawMessage(`{"value":true}`),
	})

	require.Len(t, store.rows, 1)
	assert.Nil(t, store.rows[0].OldValues)
	assert.JSONEq(t, `{"value":true}`, string(store.rows[0].NewValues))
}

func TestRecorder_ShipsAsynchronously(t *testing.T) {
	store := &memoryStore{}
	shipper := newRecordingShipper()
	rec := audit.NewRecorder(store, shipper, time.Second)

	rec.Log(context.Background(), audit.Entry{
		Action:    audit.ActionTenantCreate,
		TenantID:  "tenant-1",
		RequestID: "req-42",
	})
	require.NoError(t, rec.Close())

	require.Equal(t, int32(1), shipper.calls.Load())
	shipped := <-shipper.entries
	assert.Equal(t, "log-1", shipped.ID)
	assert.Equal(t, audit.ActionTenantCreate, shipped.Action)
	assert.Equal(t, "req-42", shipped.RequestID)
}

func TestRecorder_ShipperFailureIsSwallowed(t *testing.T) {
	store := &memoryStore{}
	shipper := &failingShipper{err: errors.New("siem down")}
	rec := audit.NewRecorder(store, shipper, time.Second)

	before := testutil.ToFloat64(telemetry.AuditWriteFailuresTotal.WithLabelValues("shipper"))
	rec.Log(context.Background(), audit.Entry{Action: audit.ActionUserCreate})
	require.NoError(t, rec.Close())

	assert.Len(t, store.rows, 1)
	assert.True(t, shipper.closed)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditWriteFailuresTotal.WithLabelValues("shipper")))
}
