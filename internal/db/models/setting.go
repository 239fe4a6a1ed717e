// Package models - setting.go defines the global key/value settings table.
package models

import "time"

// SettingGrantRequiresPossession is the key of the grant-escalation switch. When "true",
// a grantor must already hold every permission they hand out.
const SettingGrantRequiresPossession = "grant_requires_possession"

// GlobalSetting is one row of global_settings
type GlobalSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
