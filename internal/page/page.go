package page

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"tab-element-monitor/internal/monitor"
)

const mutatedCallback = "__tabElementMonitorMutated"

const installWatchJS = `(sel, cb) => {
	if (window.__tabElementMonitorWatch) {
		window.__tabElementMonitorWatch.disconnect();
	}
	let target = null;
	try { target = document.querySelector(sel); } catch { target = null; }
	const parent = (target && target.parentElement) || document.body;
	const observer = new MutationObserver(() => window[cb]());
	observer.observe(parent, { childList: true, subtree: true, characterData: true });
	window.__tabElementMonitorWatch = observer;
}`

const removeWatchJS = `() => {
	const observer = window.__tabElementMonitorWatch;
	if (observer) {
		observer.disconnect();
		window.__tabElementMonitorWatch = null;
	}
}`

const beepJS = `() => {
	const Ctx = window.AudioContext || window.webkitAudioContext;
	if (!Ctx) return;
	const context = new Ctx();
	const osc = context.createOscillator();
	const gain = context.createGain();
	osc.type = 'sine';
	osc.frequency.value = 880;
	gain.gain.value = 0.03;
	osc.connect(gain);
	gain.connect(context.destination);
	osc.start();
	osc.stop(context.currentTime + 0.12);
	setTimeout(() => context.close().catch(() => {}), 200);
}`

// Page adapts one rod page to the monitor.Page contract.
type Page struct {
	page       *rod.Page
	navTimeout time.Duration
}

// ID returns the DevTools target id of the page.
func (p *Page) ID() string {
	return string(p.page.TargetID)
}

func (p *Page) Location(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// ElementText resolves selector without waiting and returns the element's
// text. No match and an invalid selector both map to ErrElementNotFound;
// the observer handles them identically.
func (p *Page) ElementText(ctx context.Context, selector string) (string, error) {
	el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return "", monitor.ErrElementNotFound
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("element text: %w", err)
	}
	return text, nil
}

// WatchMutations installs a MutationObserver on the subtree containing the
// selector's element (document body when it has no parent) and signals each
// mutation burst through the returned channel.
func (p *Page) WatchMutations(ctx context.Context, selector string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	stopExpose, err := p.page.Context(ctx).Expose(mutatedCallback, func(gson.JSON) (interface{}, error) {
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("expose mutation callback: %w", err)
	}

	if _, err := p.page.Context(ctx).Evaluate(rod.Eval(installWatchJS, selector, mutatedCallback)); err != nil {
		_ = stopExpose()
		return nil, nil, fmt.Errorf("install mutation observer: %w", err)
	}

	stop := func() {
		_, _ = p.page.Evaluate(rod.Eval(removeWatchJS))
		_ = stopExpose()
	}
	return ch, stop, nil
}

func (p *Page) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if p.navTimeout > 0 {
		pg = pg.Timeout(p.navTimeout)
	}
	return pg.Reload()
}

// PlaySound plays a short beep inside the page. Best-effort; audio may be
// blocked by browser policy.
func (p *Page) PlaySound(ctx context.Context) error {
	_, err := p.page.Context(ctx).Evaluate(rod.Eval(beepJS))
	return err
}
