package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
)

// Redacted replaces personal values inside snapshots
const Redacted = "[REDACTED]"

// personalKeys are snapshot keys, normalized by normalizeKey, whose values identify a
// person.
var personalKeys = map[string]struct{}{
	"name":         {},
	"firstname":    {},
	"lastname":     {},
	"fullname":     {},
	"displayname":  {},
	"username":     {},
	"actorname":    {},
	"email":        {},
	"emailaddress": {},
	"phone":        {},
	"phonenumber":  {},
	"mobile":       {},
}

// normalizeKey lowercases and drops separators so "First_Name", "firstName" and
// "first-name" compare equal.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RedactSnapshot replaces personal values anywhere in a JSON document. It returns the
// input unchanged (and false) when the document is empty, malformed or has nothing to
// redact.
func RedactSnapshot(raw json.RawMessage) (json.RawMessage, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, false
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return raw, false
	}

	if !redact(doc) {
		return raw, false
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return raw, false
	}
	return out, true
}

func redact(v interface{}) bool {
	changed := false
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if _, personal := personalKeys[normalizeKey(k)]; personal {
				if child != nil && child != Redacted {
					node[k] = Redacted
					changed = true
				}
				continue
			}
			if redact(child) {
				changed = true
			}
		}
	case []interface{}:
		for _, child := range node {
			if redact(child) {
				changed = true
			}
		}
	}
	return changed
}

// AnonymizerStore reads and rewrites the audit rows of one subject
type AnonymizerStore interface {
	ListForSubject(ctx context.Context, userID string) ([]*models.AuditLog, error)
	UpdateRedaction(ctx context.Context, logID string, actorName *string, oldValues, newValues json.RawMessage) error
}

// Anonymizer scrubs an erased user out of the audit trail while keeping the rows
type Anonymizer struct {
	store AnonymizerStore
}

// NewAnonymizer creates an Anonymizer
func NewAnonymizer(store AnonymizerStore) *Anonymizer {
	return &Anonymizer{store: store}
}

// AnonymizeUser rewrites every audit row acting as or about userID: the actor display
// name becomes models.ErasedDisplayName where the user was the actor, and personal
// fields inside both snapshots are redacted. Returns the number of rows rewritten.
func (a *Anonymizer) AnonymizeUser(ctx context.Context, userID string) (int, error) {
	logs, err := a.store.ListForSubject(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit logs for user: %w", err)
	}

	updated := 0
	for _, l := range logs {
		actorName := l.ActorName
		actorChanged := false
		if l.UserID != nil && *l.UserID == userID && (l.ActorName == nil || *l.ActorName != models.ErasedDisplayName) {
			placeholder := models.ErasedDisplayName
			actorName = &placeholder
			actorChanged = true
		}

		oldValues, oldChanged := RedactSnapshot(l.OldValues)
		newValues, newChanged := RedactSnapshot(l.NewValues)
		if !actorChanged && !oldChanged && !newChanged {
			continue
		}

		if err := a.store.UpdateRedaction(ctx, l.ID, actorName, oldValues, newValues); err != nil {
			return updated, fmt.Errorf("failed to redact audit log %s: %w", l.ID, err)
		}
		updated++
	}

	slog.Info("anonymized audit trail", "user_id", userID, "rows", updated, "scanned", len(logs))
	return updated, nil
}
