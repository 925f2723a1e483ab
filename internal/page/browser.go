// Package page binds the monitor core to a real browser over the DevTools
// protocol using rod.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"tab-element-monitor/internal/monitor"
)

// Config holds browser connection settings.
type Config struct {
	// DebuggerURL attaches to a running Chrome. Empty launches one.
	DebuggerURL       string
	Headless          bool
	NavigationTimeout time.Duration
}

// Browser wraps a connected rod browser and resolves pages for the
// session controller.
type Browser struct {
	cfg     Config
	browser *rod.Browser
}

// Connect attaches to the configured debugger URL or launches a browser.
func Connect(ctx context.Context, cfg Config) (*Browser, error) {
	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	return &Browser{cfg: cfg, browser: browser}, nil
}

// Close shuts the browser connection down.
func (b *Browser) Close() error {
	return b.browser.Close()
}

// ActivePage returns the page the user is currently on: the first attached
// http(s) page target.
func (b *Browser) ActivePage(ctx context.Context) (monitor.Page, error) {
	targets, err := proto.TargetGetTargets{}.Call(b.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	for _, t := range targets.TargetInfos {
		if t.Type != "page" {
			continue
		}
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			continue
		}
		p, err := b.browser.Context(ctx).PageFromTarget(t.TargetID)
		if err != nil {
			return nil, fmt.Errorf("attach to page: %w", err)
		}
		return &Page{page: p, navTimeout: b.cfg.NavigationTimeout}, nil
	}
	return nil, errors.New("no open http(s) page")
}

// GrantOrigin grants notification permission for origin. The controller
// treats failures as non-fatal.
func (b *Browser) GrantOrigin(ctx context.Context, origin string) error {
	return proto.BrowserGrantPermissions{
		Origin: origin,
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeNotifications,
		},
	}.Call(b.browser.Context(ctx))
}
