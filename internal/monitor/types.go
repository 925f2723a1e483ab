package monitor

import (
	"context"
	"errors"
	"time"
)

// Mode selects how changes are detected.
type Mode string

const (
	// ModeLive watches DOM mutations inside the page.
	ModeLive Mode = "live"
	// ModeRefresh reloads the page periodically and re-checks.
	ModeRefresh Mode = "refresh"
)

// RawConfig is what the API layer hands us, straight from the user.
// Zero values mean "use the default".
type RawConfig struct {
	URL                      string `json:"url"`
	Selector                 string `json:"selector"`
	Mode                     string `json:"mode"`
	RefreshIntervalSeconds   int    `json:"refreshIntervalSeconds"`
	NotificationRepeatCount  int    `json:"notificationRepeatCount"`
	NotificationDelaySeconds int    `json:"notificationDelaySeconds"`
	IncreaseOnly             bool   `json:"increaseOnly"`
	SoundEnabled             *bool  `json:"soundEnabled"` // nil defaults to true
}

// Config is a validated, immutable monitoring configuration.
type Config struct {
	URL                      string `json:"url"`
	Selector                 string `json:"selector"`
	Mode                     Mode   `json:"mode"`
	RefreshIntervalSeconds   int    `json:"refreshIntervalSeconds"`
	NotificationRepeatCount  int    `json:"notificationRepeatCount"`
	NotificationDelaySeconds int    `json:"notificationDelaySeconds"`
	IncreaseOnly             bool   `json:"increaseOnly"`
	SoundEnabled             bool   `json:"soundEnabled"`
}

// RefreshInterval returns the effective polling interval (floor 60s).
func (c Config) RefreshInterval() time.Duration {
	secs := c.RefreshIntervalSeconds
	if secs < 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// ErrElementNotFound is returned by Page.ElementText when the selector
// resolves to nothing. An invalid selector is reported the same way.
var ErrElementNotFound = errors.New("element not found")

// Page is one monitored page instance. Implementations live in
// internal/page; tests use fakes.
type Page interface {
	// ID identifies this page instance. Reports are tagged with it so the
	// controller can discard messages from stale pages.
	ID() string
	Location(ctx context.Context) (string, error)
	// ElementText resolves selector and returns the element's visible text.
	// Returns ErrElementNotFound when nothing matches or the selector is
	// invalid.
	ElementText(ctx context.Context, selector string) (string, error)
	// WatchMutations emits on the returned channel whenever the subtree
	// around the selector's element (falling back to the document body)
	// sees child-list or character-data changes. The func disconnects.
	WatchMutations(ctx context.Context, selector string) (<-chan struct{}, func(), error)
	Reload(ctx context.Context) error
	// PlaySound is best-effort; callers discard the error.
	PlaySound(ctx context.Context) error
}

// PageResolver is the browser-level surface the controller needs to bind
// a session to the page the user is currently looking at.
type PageResolver interface {
	ActivePage(ctx context.Context) (Page, error)
	// GrantOrigin broadens access to the target origin. Best-effort.
	GrantOrigin(ctx context.Context, origin string) error
}

// ReportKind discriminates observer → controller messages.
type ReportKind string

const (
	ReportValue           ReportKind = "value"
	ReportElementNotFound ReportKind = "element-not-found" // terminal
	ReportPageMismatch    ReportKind = "page-mismatch"     // terminal
)

// Report is a message from a page observer to the session controller.
// Gen identifies the session the observer belongs to; the controller drops
// reports whose generation does not match the running session.
type Report struct {
	Kind   ReportKind
	PageID string
	Gen    int
	Value  string // canonical value, set for ReportValue
	At     time.Time
}

// Notifier raises a user-visible alert.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Recorder persists observation history. Best-effort: the controller logs
// and ignores failures. A nil Recorder disables history.
type Recorder interface {
	RecordObservation(ctx context.Context, pageURL, selector, value string, changed bool, at time.Time) error
	RecordNotification(ctx context.Context, pageURL, value string, repeats int, at time.Time) error
}
