// Package auth - resolver.go implements permission resolution: the effective permission
// set of a membership is the union of its role-derived and direct grants.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
)

// GrantSource streams the permission names granted to one membership. visit returning
// false stops the scan. member is false when no active membership exists.
type GrantSource interface {
	ScanGrants(ctx context.Context, tenantID, userID string, visit func(name string) bool) (member bool, err error)
}

// Resolver answers permission questions for (tenant, user) pairs. It holds no mutable
// state; per-request memoization lives in the context (see WithMemo).
type Resolver struct {
	store GrantSource
}

// NewResolver creates a Resolver over store
func NewResolver(store GrantSource) *Resolver {
	return &Resolver{store: store}
}

type memoKey struct{}

type memoEntry struct {
	tenantID, userID string
}

type memo struct {
	mu   sync.Mutex
	sets map[memoEntry]PermissionSet
}

// WithMemo returns a context under which full resolutions are cached for the context's
// lifetime. Install it once per request.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{sets: make(map[memoEntry]PermissionSet)})
}

func memoFrom(ctx context.Context) *memo {
	m, _ := ctx.Value(memoKey{}).(*memo)
	return m
}

func (m *memo) get(tenantID, userID string) (PermissionSet, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[memoEntry{tenantID, userID}]
	return s, ok
}

func (m *memo) put(tenantID, userID string, s PermissionSet) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[memoEntry{tenantID, userID}] = s
}

// Resolve returns the complete effective permission set of the membership, or a
// *NotAMemberError when there is none.
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID string) (PermissionSet, error) {
	defer observe("resolve", time.Now())

	m := memoFrom(ctx)
	if s, ok := m.get(tenantID, userID); ok {
		return s, nil
	}

	set := make(PermissionSet)
	member, err := r.store.ScanGrants(ctx, tenantID, userID, func(name string) bool {
		set.Add(name)
		return true
	})
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, &NotAMemberError{TenantID: tenantID, UserID: userID}
	}

	m.put(tenantID, userID, set)
	return set, nil
}

// HasAny reports whether the membership holds at least one of names, stopping at the
// first match. An empty list is false. Non-members get a *NotAMemberError.
func (r *Resolver) HasAny(ctx context.Context, tenantID, userID string, names ...string) (bool, error) {
	defer observe("has_any", time.Now())

	if s, ok := memoFrom(ctx).get(tenantID, userID); ok {
		return s.HasAny(names...), nil
	}

	wanted := NewPermissionSet(names...)
	found := false
	member, err := r.store.ScanGrants(ctx, tenantID, userID, func(name string) bool {
		if wanted.Has(name) {
			found = true
		}
		// An empty list only needs the membership check, so stop at the first row.
		return !found && len(wanted) > 0
	})
	if err != nil {
		return false, err
	}
	if !member {
		return false, &NotAMemberError{TenantID: tenantID, UserID: userID}
	}
	return found, nil
}

// HasAll reports whether the membership holds every one of names, stopping once all
// have been seen. An empty list is true. Non-members get a *NotAMemberError.
func (r *Resolver) HasAll(ctx context.Context, tenantID, userID string, names ...string) (bool, error) {
	defer observe("has_all", time.Now())

	if s, ok := memoFrom(ctx).get(tenantID, userID); ok {
		return s.HasAll(names...), nil
	}

	pending := NewPermissionSet(names...)
	member, err := r.store.ScanGrants(ctx, tenantID, userID, func(name string) bool {
		delete(pending, name)
		return len(pending) > 0
	})
	if err != nil {
		return false, err
	}
	if !member {
		return false, &NotAMemberError{TenantID: tenantID, UserID: userID}
	}
	return len(pending) == 0, nil
}

func observe(op string, start time.Time) {
	telemetry.PermissionResolutionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
