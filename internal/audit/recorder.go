package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/safego"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
)

// Audit actions
const (
	ActionTenantCreate           = "tenant.create"
	ActionUserCreate             = "user.create"
	ActionMemberGrantRole        = "member.grant_role"
	ActionMemberGrantPermission  = "member.grant_permission"
	ActionMemberRevokePermission = "member.revoke_permission"
	ActionMemberRemove           = "member.remove"
	ActionUserErase              = "user.erase"
	ActionSettingUpdate          = "setting.update"
)

// Resource types
const (
	ResourceTenant     = "tenant"
	ResourceUser       = "user"
	ResourceTenantUser = "tenant_user"
	ResourceSetting    = "setting"
)

// DefaultWriteTimeout bounds one audit insert
const DefaultWriteTimeout = 5 * time.Second

// Store persists audit rows
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Entry describes one privileged mutation. Old and New are marshalled to JSON; nil
// means no snapshot.
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorUserID  string
	ActorName    string
	TenantID     string
	IPAddress    string
	RequestID    string
	Old          interface{}
	New          interface{}
}

// Recorder appends audit rows and fans them out to shippers
type Recorder struct {
	store   Store
	shipper Shipper
	timeout time.Duration
	async   safego.Group
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(store Store, shipper Shipper, writeTimeout time.Duration) *Recorder {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Recorder{store: store, shipper: shipper, timeout: writeTimeout}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func snapshot(action, side string, v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("audit snapshot could not be encoded", "action", action, "side", side, "error", err)
		return nil
	}
	return data
}

// Log records e. It never returns an error: the write runs on a context detached from
// the caller's cancellation with its own timeout, and failures are logged and counted.
// Shipping happens in the background.
func (r *Recorder) Log(ctx context.Context, e Entry) {
	row := &models.AuditLog{
		UserID:       optional(e.ActorUserID),
		ActorName:    optional(e.ActorName),
		TenantID:     optional(e.TenantID),
		Action:       e.Action,
		ResourceType: optional(e.ResourceType),
		ResourceID:   optional(e.ResourceID),
		OldValues:    snapshot(e.Action, "old", e.Old),
		NewValues:    snapshot(e.Action, "new", e.New),
		IPAddress:    optional(e.IPAddress),
		CreatedAt:    time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.CreateAuditLog(writeCtx, row); err != nil {
		telemetry.AuditWriteFailuresTotal.WithLabelValues("database").Inc()
		slog.Error("failed to write audit log",
			"action", e.Action, "resource_type", e.ResourceType, "resource_id", e.ResourceID,
			"tenant_id", e.TenantID, "error", err)
	}

	if r.shipper == nil {
		return
	}

	entry := &LogEntry{
		ID:           row.ID,
		Timestamp:    row.CreatedAt,
		Action:       e.Action,
		ActorUserID:  e.ActorUserID,
		ActorName:    e.ActorName,
		TenantID:     e.TenantID,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		RequestID:    e.RequestID,
		OldValues:    row.OldValues,
		NewValues:    row.NewValues,
	}
	r.async.Go("audit-ship", func() {
		shipCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		// MultiShipper already logs and counts per-destination failures.
		if err := r.shipper.Ship(shipCtx, entry); err != nil {
			if _, multi := r.shipper.(*MultiShipper); !multi {
				telemetry.AuditWriteFailuresTotal.WithLabelValues("shipper").Inc()
				slog.Warn("audit shipper error", "action", entry.Action, "error", err)
			}
		}
	})
}

// Close waits for in-flight shipments and closes the shipper
func (r *Recorder) Close() error {
	r.async.Wait()
	if r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}
