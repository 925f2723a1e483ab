package monitor

import (
	"fmt"
	"net/url"
	"strings"
)

// Defaults fills RawConfig fields the user left at zero. The yaml config
// can override these; zero-value Defaults falls back to the built-ins
// (live mode, 60s interval, 1 repeat, 5s delay).
type Defaults struct {
	Mode                     string
	RefreshIntervalSeconds   int
	NotificationRepeatCount  int
	NotificationDelaySeconds int
}

func (d Defaults) interval() int {
	if d.RefreshIntervalSeconds > 0 {
		return d.RefreshIntervalSeconds
	}
	return 60
}

func (d Defaults) repeats() int {
	if d.NotificationRepeatCount > 0 {
		return d.NotificationRepeatCount
	}
	return 1
}

func (d Defaults) delay() int {
	if d.NotificationDelaySeconds > 0 {
		return d.NotificationDelaySeconds
	}
	return 5
}

// ValidateConfig turns raw user input into a Config or fails on the first
// offending field. Out-of-range numeric options are clamped, not rejected:
// interval floor 60s, repeat count 1..5, delay floor 1s.
func ValidateConfig(raw RawConfig, d Defaults) (Config, error) {
	cfg := Config{
		URL:      strings.TrimSpace(raw.URL),
		Selector: strings.TrimSpace(raw.Selector),
	}

	if cfg.URL == "" || cfg.Selector == "" {
		return Config{}, fmt.Errorf("url and css selector are required")
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return Config{}, fmt.Errorf("url must be a valid full url (including protocol)")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return Config{}, fmt.Errorf("only http/https urls are supported")
	}

	if raw.Mode == string(ModeRefresh) {
		cfg.Mode = ModeRefresh
	} else if raw.Mode == "" && d.Mode == string(ModeRefresh) {
		cfg.Mode = ModeRefresh
	} else {
		cfg.Mode = ModeLive
	}

	cfg.RefreshIntervalSeconds = raw.RefreshIntervalSeconds
	if cfg.RefreshIntervalSeconds == 0 {
		cfg.RefreshIntervalSeconds = d.interval()
	}
	if cfg.RefreshIntervalSeconds < 60 {
		cfg.RefreshIntervalSeconds = 60
	}

	cfg.NotificationRepeatCount = raw.NotificationRepeatCount
	if cfg.NotificationRepeatCount == 0 {
		cfg.NotificationRepeatCount = d.repeats()
	}
	if cfg.NotificationRepeatCount < 1 {
		cfg.NotificationRepeatCount = 1
	}
	if cfg.NotificationRepeatCount > 5 {
		cfg.NotificationRepeatCount = 5
	}

	cfg.NotificationDelaySeconds = raw.NotificationDelaySeconds
	if cfg.NotificationDelaySeconds == 0 {
		cfg.NotificationDelaySeconds = d.delay()
	}
	if cfg.NotificationDelaySeconds < 1 {
		cfg.NotificationDelaySeconds = 1
	}

	cfg.IncreaseOnly = raw.IncreaseOnly
	cfg.SoundEnabled = raw.SoundEnabled == nil || *raw.SoundEnabled

	return cfg, nil
}

// OriginPattern returns the origin of a validated monitor URL, used when
// requesting broadened page access.
func OriginPattern(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Scheme + "://" + parsed.Host
}
