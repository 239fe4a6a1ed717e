// Package jobs holds the background loops started by cmd/server.
//
// ledger_reporter.go implements LedgerReporter, which periodically surfaces onboarding
// failures whose compensation did not complete. Entries are only ever resolved by an
// operator (cmd/ledger resolve); the reporter reads, it never deletes or retries.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
)

const (
	// DefaultLedgerReportInterval is used when the configured interval is not positive
	DefaultLedgerReportInterval = 15 * time.Minute

	// maxReportedEntries bounds the WARN lines emitted per run; the gauge still carries
	// the full count.
	maxReportedEntries = 100
)

// LedgerSource reads unresolved onboarding failures.
// *repositories.FailureLedgerRepository implements it.
type LedgerSource interface {
	CountUnresolved(ctx context.Context) (int, error)
	ListUnresolved(ctx context.Context, limit int) ([]*models.OnboardingFailure, error)
}

// LedgerReporter periodically publishes the unresolved failure count as the
// failure_ledger_unresolved gauge and logs one WARN line per unresolved entry.
type LedgerReporter struct {
	ledger   LedgerSource
	interval time.Duration
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewLedgerReporter creates a LedgerReporter running every interval
func NewLedgerReporter(ledger LedgerSource, interval time.Duration) *LedgerReporter {
	if interval <= 0 {
		interval = DefaultLedgerReportInterval
	}
	return &LedgerReporter{
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs an initial report immediately, then repeats on the interval. It blocks
// until ctx is cancelled or Stop is called; run it in its own goroutine.
func (r *LedgerReporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("ledger reporter started", "interval", r.interval)

	r.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopChan:
			slog.Info("ledger reporter stopped")
			return
		case <-ctx.Done():
			slog.Info("ledger reporter context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (r *LedgerReporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// RunOnce performs a single report and returns the unresolved count, or -1 when the
// ledger could not be read.
func (r *LedgerReporter) RunOnce(ctx context.Context) int {
	count, err := r.ledger.CountUnresolved(ctx)
	if err != nil {
		slog.Error("ledger reporter: failed to count unresolved failures", "error", err)
		return -1
	}
	telemetry.FailureLedgerUnresolved.Set(float64(count))

	if count == 0 {
		return 0
	}

	entries, err := r.ledger.ListUnresolved(ctx, maxReportedEntries)
	if err != nil {
		slog.Error("ledger reporter: failed to list unresolved failures", "error", err)
		return count
	}

	now := r.now()
	for _, f := range entries {
		slog.Warn("unresolved onboarding failure requires manual cleanup",
			"failure_id", f.ID,
			"tenant_name", f.TenantName,
			"domain", f.Domain,
			"failed_step", f.FailedStep,
			"external_org_id", deref(f.ExternalOrgID),
			"external_user_id", deref(f.ExternalUserID),
			"membership_linked", f.MembershipLinked,
			"compensation_error", f.CompensationError,
			"age", now.Sub(f.CreatedAt).Round(time.Second),
		)
	}
	if count > len(entries) {
		slog.Warn("ledger reporter: more unresolved failures than reported", "reported", len(entries), "unresolved", count)
	}
	return count
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
