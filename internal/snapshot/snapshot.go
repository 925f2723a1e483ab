package snapshot

import "sync/atomic"

// ConfigDTO mirrors the last applied monitor configuration for the API.
type ConfigDTO struct {
	URL                      string `json:"url"`
	Selector                 string `json:"selector"`
	Mode                     string `json:"mode"`
	RefreshIntervalSeconds   int    `json:"refresh_interval_seconds"`
	NotificationRepeatCount  int    `json:"notification_repeat_count"`
	NotificationDelaySeconds int    `json:"notification_delay_seconds"`
	IncreaseOnly             bool   `json:"increase_only"`
	SoundEnabled             bool   `json:"sound_enabled"`
}

// Status is the read-only session view used by the API and persisted
// across restarts. Always written as a whole, never field by field.
type Status struct {
	Config *ConfigDTO `json:"config,omitempty"`

	Active bool   `json:"active"`
	PageID string `json:"page_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Mode   string `json:"mode,omitempty"`

	// LastValue is nil until the session's first observation.
	LastValue *string `json:"last_value,omitempty"`
	LastError string  `json:"last_error,omitempty"`

	UpdatedAt string `json:"updated_at,omitempty"`
}

var current atomic.Value // stores Status

// Publish replaces the current status.
func Publish(s Status) {
	current.Store(s)
}

// Get returns the latest status, zero-value if nothing was published yet.
func Get() Status {
	if v := current.Load(); v != nil {
		return v.(Status)
	}
	return Status{}
}
