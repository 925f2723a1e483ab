package monitor

import (
	"context"
	"errors"
	"log"
	"time"
)

const (
	maxRetries       = 5
	retryDelay       = 5 * time.Second
	mutationDebounce = 500 * time.Millisecond
)

type observerCmdKind int

const (
	cmdStart observerCmdKind = iota
	cmdCheckNow
	cmdStop
)

type observerCmd struct {
	kind     observerCmdKind
	url      string
	selector string
	mode     Mode
}

// Observer watches one page for changes to one element and reports
// canonical values (or terminal failures) to the session controller.
// All state is owned by the Run goroutine; commands and page mutations are
// handled one at a time.
type Observer struct {
	page    Page
	reports chan<- Report
	cmds    chan observerCmd
	gen     int // session generation stamped onto every report

	// overridable for tests
	retryDelay time.Duration
	debounce   time.Duration

	// loop-owned state
	active     bool
	url        string
	selector   string
	mode       Mode
	retryCount int

	retryTimer    *time.Timer
	debounceTimer *time.Timer
	mutations     <-chan struct{}
	stopWatch     func()
}

// NewObserver builds an observer for page reporting as session generation
// gen. Run must be started before commands are sent.
func NewObserver(page Page, reports chan<- Report, gen int) *Observer {
	return &Observer{
		page:       page,
		reports:    reports,
		gen:        gen,
		cmds:       make(chan observerCmd, 4),
		retryDelay: retryDelay,
		debounce:   mutationDebounce,
	}
}

// Start binds the observer to url/selector and begins watching in mode.
func (o *Observer) Start(url, selector string, mode Mode) {
	o.send(observerCmd{kind: cmdStart, url: url, selector: selector, mode: mode})
}

// CheckNow rebinds url/selector if non-empty, forces the observer active
// and performs one evaluation. Used by the refresh cycle after a reload.
func (o *Observer) CheckNow(url, selector string) {
	o.send(observerCmd{kind: cmdCheckNow, url: url, selector: selector})
}

// Stop deactivates the observer. Idempotent, safe on a gone observer.
func (o *Observer) Stop() {
	o.send(observerCmd{kind: cmdStop})
}

func (o *Observer) send(cmd observerCmd) {
	select {
	case o.cmds <- cmd:
	default:
		// Run loop gone or wedged; drop rather than block the controller.
	}
}

// Run processes commands, retry/debounce timers and mutation events until
// ctx is cancelled.
func (o *Observer) Run(ctx context.Context) {
	defer o.cleanup()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-o.cmds:
			switch cmd.kind {
			case cmdStart:
				o.handleStart(ctx, cmd)
			case cmdCheckNow:
				o.handleCheckNow(ctx, cmd)
			case cmdStop:
				o.active = false
				o.cleanup()
			}

		case <-timerC(o.retryTimer):
			o.retryTimer = nil
			o.lookupAndReport(ctx)

		case <-timerC(o.debounceTimer):
			o.debounceTimer = nil
			o.lookupAndReport(ctx)

		case _, ok := <-o.mutations:
			if !ok {
				o.mutations = nil
				continue
			}
			// A burst of DOM mutations collapses into one evaluation.
			if o.debounceTimer != nil {
				o.debounceTimer.Stop()
			}
			o.debounceTimer = time.NewTimer(o.debounce)
		}
	}
}

func (o *Observer) handleStart(ctx context.Context, cmd observerCmd) {
	o.cleanup()

	o.active = true
	o.url = cmd.url
	o.selector = cmd.selector
	o.mode = cmd.mode
	o.retryCount = 0

	loc, err := o.page.Location(ctx)
	if err != nil || loc != o.url {
		o.active = false
		o.report(Report{Kind: ReportPageMismatch})
		return
	}

	if o.mode == ModeLive {
		o.startWatcher(ctx)
		return
	}
	// Refresh mode: one immediate check; the controller drives the rest.
	o.lookupAndReport(ctx)
}

func (o *Observer) handleCheckNow(ctx context.Context, cmd observerCmd) {
	if cmd.url != "" {
		o.url = cmd.url
	}
	if cmd.selector != "" {
		o.selector = cmd.selector
	}
	o.active = true
	o.lookupAndReport(ctx)
}

// startWatcher does the initial evaluation and, when the element is
// resolvable, installs the mutation watcher on its surrounding subtree.
func (o *Observer) startWatcher(ctx context.Context) {
	if !o.lookupAndReport(ctx) {
		return
	}

	mutations, stop, err := o.page.WatchMutations(ctx, o.selector)
	if err != nil {
		log.Printf("observer: mutation watch failed, falling back to retries: %v", err)
		o.scheduleRetry()
		return
	}
	o.mutations = mutations
	o.stopWatch = stop
}

// lookupAndReport performs one evaluation. Returns true when a value was
// reported.
func (o *Observer) lookupAndReport(ctx context.Context) bool {
	if !o.active {
		return false
	}

	loc, err := o.page.Location(ctx)
	if err != nil || loc != o.url {
		o.active = false
		o.cleanup()
		o.report(Report{Kind: ReportPageMismatch})
		return false
	}

	text, err := o.page.ElementText(ctx, o.selector)
	if err != nil {
		if !errors.Is(err, ErrElementNotFound) {
			log.Printf("observer: element lookup: %v", err)
		}
		o.scheduleRetry()
		return false
	}

	o.retryCount = 0
	o.report(Report{Kind: ReportValue, Value: Normalize(text)})
	return true
}

func (o *Observer) scheduleRetry() {
	if o.retryCount >= maxRetries {
		o.active = false
		o.cleanup()
		o.report(Report{Kind: ReportElementNotFound})
		return
	}
	o.retryCount++
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	o.retryTimer = time.NewTimer(o.retryDelay)
}

func (o *Observer) report(r Report) {
	r.PageID = o.page.ID()
	r.Gen = o.gen
	r.At = time.Now()
	select {
	case o.reports <- r:
	default:
		log.Printf("observer: reports channel full; dropping %s", r.Kind)
	}
}

func (o *Observer) cleanup() {
	if o.stopWatch != nil {
		o.stopWatch()
		o.stopWatch = nil
	}
	o.mutations = nil
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
}

// timerC is a nil-safe view of a timer's channel for use in select.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
