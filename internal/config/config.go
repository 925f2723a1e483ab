package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Browser  BrowserConfig   `yaml:"browser"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Storage  StorageConfig   `yaml:"storage"`
	Monitor  MonitorDefaults `yaml:"monitor_defaults"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type BrowserConfig struct {
	// DebuggerURL attaches to an already-running Chrome; empty launches one.
	DebuggerURL       string `yaml:"debugger_url"`
	Headless          bool   `yaml:"headless"`
	NavigationTimeout string `yaml:"navigation_timeout"` // e.g. "30s"

	// Parsed after load
	NavigationTimeoutDur time.Duration `yaml:"-"`
}

type TelegramConfig struct {
	ChatID int64 `yaml:"chat_id"`
}

type StorageConfig struct {
	StatusFile string `yaml:"status_file"`
}

// MonitorDefaults seed form fields the user leaves empty when starting a
// session.
type MonitorDefaults struct {
	Mode                     string `yaml:"mode"`
	RefreshIntervalSeconds   int    `yaml:"refresh_interval_seconds"`
	NotificationRepeatCount  int    `yaml:"notification_repeat_count"`
	NotificationDelaySeconds int    `yaml:"notification_delay_seconds"`
}

// Load reads the yaml config at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateAndNormalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Browser.NavigationTimeout) == "" {
		cfg.Browser.NavigationTimeout = "30s"
	}
	if strings.TrimSpace(cfg.Storage.StatusFile) == "" {
		cfg.Storage.StatusFile = "status.json"
	}

	if strings.TrimSpace(cfg.Monitor.Mode) == "" {
		cfg.Monitor.Mode = "live"
	}
	if cfg.Monitor.RefreshIntervalSeconds <= 0 {
		cfg.Monitor.RefreshIntervalSeconds = 60
	}
	if cfg.Monitor.NotificationRepeatCount <= 0 {
		cfg.Monitor.NotificationRepeatCount = 1
	}
	if cfg.Monitor.NotificationDelaySeconds <= 0 {
		cfg.Monitor.NotificationDelaySeconds = 5
	}
}

func validateAndNormalize(cfg *Config) error {
	cfg.Monitor.Mode = strings.ToLower(strings.TrimSpace(cfg.Monitor.Mode))
	switch cfg.Monitor.Mode {
	case "live", "refresh":
	default:
		return fmt.Errorf("config: monitor_defaults.mode must be live or refresh, got %q", cfg.Monitor.Mode)
	}

	dur, err := time.ParseDuration(cfg.Browser.NavigationTimeout)
	if err != nil {
		return fmt.Errorf("config: invalid browser.navigation_timeout %q: %w", cfg.Browser.NavigationTimeout, err)
	}
	if dur <= 0 {
		return fmt.Errorf("config: browser.navigation_timeout must be > 0")
	}
	cfg.Browser.NavigationTimeoutDur = dur

	if cfg.Monitor.NotificationRepeatCount > 5 {
		cfg.Monitor.NotificationRepeatCount = 5
	}
	return nil
}
