package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"tab-element-monitor/internal/snapshot"
)

const (
	notificationCooldown = 5 * time.Second
	reloadSettleDelay    = 3 * time.Second
)

// StatusStore persists the published status so it survives restarts.
type StatusStore interface {
	Save(snapshot.Status) error
}

// Options carries the controller's collaborators. Recorder and Store may
// be nil; Notifier must be set.
type Options struct {
	Notifier Notifier
	Recorder Recorder
	Store    StatusStore
	Defaults Defaults
}

type startReq struct {
	raw  RawConfig
	resp chan error
}

type stopReq struct {
	reason string
	resp   chan struct{}
}

type cycleResult struct {
	gen int
	err error
}

// session is the state of the single active monitoring session. Owned
// exclusively by the Run loop; torn down as a whole on stop.
type session struct {
	cfg    Config
	page   Page
	pageID string
	obs    *Observer
	ctx    context.Context
	cancel context.CancelFunc

	refreshTimer     *time.Timer
	gen              int // generation assigned by the controller at start
	lastNotification time.Time
}

// Controller owns the monitoring lifecycle: it validates configuration,
// binds a session to the active page, drives refresh-mode polling, turns
// observer reports into rate-limited notifications and publishes status.
// All session state is mutated only inside Run.
type Controller struct {
	browser  PageResolver
	notifier Notifier
	recorder Recorder
	store    StatusStore
	defaults Defaults

	starts    chan startReq
	stops     chan stopReq
	reports   chan Report
	cycles    chan cycleResult
	asyncErrs chan string

	// overridable for tests; a zero refreshInterval defers to the config
	cooldown        time.Duration
	settleDelay     time.Duration
	retryDelay      time.Duration
	debounce        time.Duration
	refreshInterval time.Duration

	// loop-owned state
	gen        int // monotone; each session gets a fresh generation
	sess       *session
	lastConfig *Config
	lastValue  *string
	lastError  string
}

// New builds a controller. Previously persisted status (already published
// by the caller) seeds the last config/value/error so a restart does not
// blank the presentation layer.
func New(browser PageResolver, opts Options) *Controller {
	c := &Controller{
		browser:  browser,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		store:    opts.Store,
		defaults: opts.Defaults,

		starts:    make(chan startReq),
		stops:     make(chan stopReq),
		reports:   make(chan Report, 16),
		cycles:    make(chan cycleResult, 1),
		asyncErrs: make(chan string, 4),

		cooldown:    notificationCooldown,
		settleDelay: reloadSettleDelay,
		retryDelay:  retryDelay,
		debounce:    mutationDebounce,
	}

	if st := snapshot.Get(); st.Config != nil || st.LastValue != nil || st.LastError != "" {
		c.lastValue = st.LastValue
		c.lastError = st.LastError
		if st.Config != nil {
			cfg := configFromDTO(*st.Config)
			c.lastConfig = &cfg
		}
	}
	return c
}

// Start validates raw, binds a session to the currently active page and
// begins monitoring. Synchronous: the returned error distinguishes invalid
// configuration, a missing active page and a page/URL mismatch.
func (c *Controller) Start(ctx context.Context, raw RawConfig) error {
	req := startReq{raw: raw, resp: make(chan error, 1)}
	select {
	case c.starts <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tears the active session down. Idempotent: stopping an already
// stopped session only records the reason (if any) as the last error.
func (c *Controller) Stop(ctx context.Context, reason string) error {
	req := stopReq{reason: reason, resp: make(chan struct{}, 1)}
	select {
	case c.stops <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serializes every lifecycle transition, refresh tick and observer
// report until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.stopSession("")
			return ctx.Err()

		case req := <-c.starts:
			req.resp <- c.handleStart(ctx, req.raw)

		case req := <-c.stops:
			c.stopSession(req.reason)
			req.resp <- struct{}{}

		case rep := <-c.reports:
			c.handleReport(ctx, rep)

		case res := <-c.cycles:
			c.handleCycleResult(res)

		case msg := <-c.asyncErrs:
			c.lastError = msg
			c.publish()

		case <-c.refreshTickC():
			c.handleRefreshTick()
		}
	}
}

func (c *Controller) refreshTickC() <-chan time.Time {
	if c.sess == nil {
		return nil
	}
	return timerC(c.sess.refreshTimer)
}

func (c *Controller) handleStart(ctx context.Context, raw RawConfig) error {
	cfg, err := ValidateConfig(raw, c.defaults)
	if err != nil {
		c.lastError = err.Error()
		c.publish()
		return err
	}

	page, err := c.browser.ActivePage(ctx)
	if err != nil {
		err = fmt.Errorf("could not determine active page: %w", err)
		c.lastError = err.Error()
		c.publish()
		return err
	}

	loc, err := page.Location(ctx)
	if err != nil || loc != cfg.URL {
		err = fmt.Errorf("active page must match the exact url before starting")
		c.lastError = err.Error()
		c.publish()
		return err
	}

	// Access to the already-open page may suffice even when this fails.
	if err := c.browser.GrantOrigin(ctx, OriginPattern(cfg.URL)); err != nil {
		log.Printf("controller: grant origin: %v", err)
	}

	// Starting replaces any running session.
	c.stopSession("")
	c.gen++

	sctx, cancel := context.WithCancel(ctx)
	obs := NewObserver(page, c.reports, c.gen)
	obs.retryDelay = c.retryDelay
	obs.debounce = c.debounce

	c.sess = &session{
		cfg:    cfg,
		page:   page,
		pageID: page.ID(),
		obs:    obs,
		ctx:    sctx,
		cancel: cancel,
		gen:    c.gen,
	}
	c.lastConfig = &cfg
	c.lastValue = nil
	c.lastError = ""
	c.publish()

	go obs.Run(sctx)
	obs.Start(cfg.URL, cfg.Selector, cfg.Mode)

	if cfg.Mode == ModeRefresh {
		c.sess.refreshTimer = time.NewTimer(c.refreshIntervalFor(cfg))
	}
	return nil
}

func (c *Controller) refreshIntervalFor(cfg Config) time.Duration {
	if c.refreshInterval > 0 {
		return c.refreshInterval
	}
	return cfg.RefreshInterval()
}

// stopSession cancels the refresh timer before the lifecycle is considered
// closed, so a late-firing timer can never resurrect a stopped session.
func (c *Controller) stopSession(reason string) {
	if c.sess != nil {
		s := c.sess
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.obs.Stop()
		s.cancel()
		c.sess = nil
	}
	if reason != "" {
		c.lastError = reason
	}
	c.publish()
}

func (c *Controller) handleRefreshTick() {
	s := c.sess
	if s == nil || s.cfg.Mode != ModeRefresh {
		return
	}
	s.refreshTimer = nil
	go c.runRefreshCycle(s.ctx, s.gen, s.page, s.obs, s.cfg)
}

// runRefreshCycle reloads the bound page, waits for it to settle and
// forces one re-check. Runs off the loop so a stop can interrupt it at any
// point through the session context.
func (c *Controller) runRefreshCycle(ctx context.Context, gen int, page Page, obs *Observer, cfg Config) {
	err := page.Reload(ctx)
	if err == nil {
		select {
		case <-time.After(c.settleDelay):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err == nil {
		obs.CheckNow(cfg.URL, cfg.Selector)
	}

	select {
	case c.cycles <- cycleResult{gen: gen, err: err}:
	case <-ctx.Done():
	}
}

func (c *Controller) handleCycleResult(res cycleResult) {
	s := c.sess
	if s == nil || res.gen != s.gen {
		return
	}
	if res.err != nil {
		c.stopSession("Tab unavailable. Monitoring stopped.")
		return
	}
	s.refreshTimer = time.NewTimer(c.refreshIntervalFor(s.cfg))
}

func (c *Controller) handleReport(ctx context.Context, rep Report) {
	s := c.sess
	if s == nil || rep.Gen != s.gen || rep.PageID != s.pageID {
		// From a stale observer, or a previous session still buffered in
		// the channel; discard.
		return
	}

	switch rep.Kind {
	case ReportElementNotFound:
		c.stopSession("Element not found after 5 retries. Monitoring stopped.")

	case ReportPageMismatch:
		c.stopSession("Tab navigated away from configured URL. Monitoring stopped.")

	case ReportValue:
		c.handleValue(ctx, s, rep.Value)
	}
}

func (c *Controller) handleValue(ctx context.Context, s *session, value string) {
	prev := c.lastValue
	v := value
	c.lastValue = &v

	changed := prev != nil && isChange(s.cfg.IncreaseOnly, *prev, value)

	if c.recorder != nil {
		if err := c.recorder.RecordObservation(ctx, s.cfg.URL, s.cfg.Selector, value, changed, time.Now()); err != nil {
			log.Printf("controller: record observation: %v", err)
		}
	}
	c.publish()

	if prev == nil {
		// First observation of the session is the baseline.
		return
	}
	if !changed {
		return
	}

	now := time.Now()
	if now.Sub(s.lastNotification) < c.cooldown {
		return
	}
	s.lastNotification = now

	if c.recorder != nil {
		if err := c.recorder.RecordNotification(ctx, s.cfg.URL, value, s.cfg.NotificationRepeatCount, now); err != nil {
			log.Printf("controller: record notification: %v", err)
		}
	}
	go c.deliver(s.ctx, s.cfg, s.page, value)
}

// isChange implements the change test. With increaseOnly both values must
// parse as finite numbers and the new one must be greater; otherwise it
// degrades to exact-inequality. ParseFloat accepts "Inf" and "NaN", which
// must take the fallback path rather than the numeric compare.
func isChange(increaseOnly bool, oldValue, newValue string) bool {
	if !increaseOnly {
		return newValue != oldValue
	}
	oldNum, errOld := strconv.ParseFloat(oldValue, 64)
	newNum, errNew := strconv.ParseFloat(newValue, 64)
	if errOld == nil && errNew == nil && isFinite(oldNum) && isFinite(newNum) {
		return newNum > oldNum
	}
	return newValue != oldValue
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// deliver raises the configured number of alerts, spaced by the configured
// delay. An alert failure is recorded but does not abort the remaining
// repeats; a sound failure is ignored entirely.
func (c *Controller) deliver(ctx context.Context, cfg Config, page Page, value string) {
	message := fmt.Sprintf("Monitored element content has changed.\nURL: %s\nNew value: %s", cfg.URL, value)
	delay := time.Duration(cfg.NotificationDelaySeconds) * time.Second

	for i := 0; i < cfg.NotificationRepeatCount; i++ {
		if err := c.notifier.Notify(ctx, "Tab Element Changed", message); err != nil {
			c.reportAsyncError(fmt.Sprintf("notification delivery failed: %v", err))
		}
		if cfg.SoundEnabled {
			_ = page.PlaySound(ctx)
		}
		if i < cfg.NotificationRepeatCount-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Controller) reportAsyncError(msg string) {
	select {
	case c.asyncErrs <- msg:
	default:
	}
}

func (c *Controller) publish() {
	st := snapshot.Status{
		Active:    c.sess != nil,
		LastValue: c.lastValue,
		LastError: c.lastError,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if c.lastConfig != nil {
		dto := dtoFromConfig(*c.lastConfig)
		st.Config = &dto
	}
	if c.sess != nil {
		st.PageID = c.sess.pageID
		st.URL = c.sess.cfg.URL
		st.Mode = string(c.sess.cfg.Mode)
	}

	snapshot.Publish(st)
	if c.store != nil {
		if err := c.store.Save(st); err != nil {
			log.Printf("controller: persist status: %v", err)
		}
	}
}

func dtoFromConfig(cfg Config) snapshot.ConfigDTO {
	return snapshot.ConfigDTO{
		URL:                      cfg.URL,
		Selector:                 cfg.Selector,
		Mode:                     string(cfg.Mode),
		RefreshIntervalSeconds:   cfg.RefreshIntervalSeconds,
		NotificationRepeatCount:  cfg.NotificationRepeatCount,
		NotificationDelaySeconds: cfg.NotificationDelaySeconds,
		IncreaseOnly:             cfg.IncreaseOnly,
		SoundEnabled:             cfg.SoundEnabled,
	}
}

func configFromDTO(dto snapshot.ConfigDTO) Config {
	return Config{
		URL:                      dto.URL,
		Selector:                 dto.Selector,
		Mode:                     Mode(dto.Mode),
		RefreshIntervalSeconds:   dto.RefreshIntervalSeconds,
		NotificationRepeatCount:  dto.NotificationRepeatCount,
		NotificationDelaySeconds: dto.NotificationDelaySeconds,
		IncreaseOnly:             dto.IncreaseOnly,
		SoundEnabled:             dto.SoundEnabled,
	}
}
