package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tab-element-monitor/internal/snapshot"
)

const (
	testURL      = "https://example.com/item"
	testSelector = "#price"
)

func startSession(t *testing.T, c *Controller, raw RawConfig) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx, raw))
}

func waitForValue(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		v := snapshot.Get().LastValue
		return v != nil && *v == want
	}, 2*time.Second, 10*time.Millisecond)
}

func waitForStopped(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !snapshot.Get().Active
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	ctx := context.Background()
	err := c.Start(ctx, RawConfig{Selector: testSelector})
	require.Error(t, err)
	assert.False(t, snapshot.Get().Active)
	assert.Contains(t, snapshot.Get().LastError, "required")
}

func TestStartRequiresMatchingPage(t *testing.T) {
	page := newFakePage("tab1", "https://example.com/other", "5")
	c := newTestController(t, page, newFakeNotifier())

	err := c.Start(context.Background(), RawConfig{URL: testURL, Selector: testSelector})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must match")
	assert.False(t, snapshot.Get().Active)
}

func TestStartFailsWithoutActivePage(t *testing.T) {
	snapshot.Publish(snapshot.Status{})
	c := New(&fakeResolver{err: errors.New("no targets")}, Options{Notifier: newFakeNotifier()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	err := c.Start(ctx, RawConfig{URL: testURL, Selector: testSelector})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active page")
}

func TestFirstObservationIsBaseline(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")

	assert.True(t, snapshot.Get().Active)
	assert.Empty(t, snapshot.Get().LastError)
	notifier.expectNone(t, 300*time.Millisecond)
}

func TestChangeTriggersOneNotification(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")

	page.setText("6")
	page.mutate()
	waitForValue(t, "6")

	msg := notifier.expectOne(t, 2*time.Second)
	assert.Contains(t, msg, "6")
	notifier.expectNone(t, 300*time.Millisecond)
}

func TestIncreaseOnly(t *testing.T) {
	page := newFakePage("tab1", testURL, "10")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector, IncreaseOnly: true})
	waitForValue(t, "10")

	// A decrease is not a change in increase-only mode.
	page.setText("7")
	page.mutate()
	waitForValue(t, "7")
	notifier.expectNone(t, 300*time.Millisecond)

	page.setText("15")
	page.mutate()
	waitForValue(t, "15")
	notifier.expectOne(t, 2*time.Second)
}

func TestIncreaseOnlyNonNumericFallsBackToInequality(t *testing.T) {
	assert.False(t, isChange(true, "10", "7"))
	assert.True(t, isChange(true, "10", "15"))
	assert.True(t, isChange(true, "Sold Out", "In Stock"))
	assert.False(t, isChange(true, "In Stock", "In Stock"))
	assert.True(t, isChange(false, "10", "7"))
}

func TestIncreaseOnlyNonFiniteValuesFallBackToInequality(t *testing.T) {
	// ParseFloat accepts these, but they are not comparable quantities;
	// they take the inequality path like any other non-numeric text.
	assert.True(t, isChange(true, "Inf", "5"))
	assert.True(t, isChange(true, "NaN", "7"))
	assert.True(t, isChange(true, "5", "Inf"))
	assert.False(t, isChange(true, "Inf", "Inf"))
	assert.False(t, isChange(true, "NaN", "NaN"))
}

func TestNotificationCooldownSuppressesSecondDelivery(t *testing.T) {
	page := newFakePage("tab1", testURL, "1")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "1")

	page.setText("2")
	page.mutate()
	waitForValue(t, "2")
	notifier.expectOne(t, 2*time.Second)

	// A second genuine change inside the cooldown window stays silent.
	page.setText("3")
	page.mutate()
	waitForValue(t, "3")
	notifier.expectNone(t, 500*time.Millisecond)
}

func TestDeliveryRepeatsWithSpacing(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{
		URL:                      testURL,
		Selector:                 testSelector,
		NotificationRepeatCount:  2,
		NotificationDelaySeconds: 1,
	})
	waitForValue(t, "5")

	page.setText("6")
	page.mutate()

	first := time.Now()
	notifier.expectOne(t, 2*time.Second)
	notifier.expectNone(t, 500*time.Millisecond)
	notifier.expectOne(t, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(first), 900*time.Millisecond)

	require.Eventually(t, func() bool { return page.sounds() == 2 }, time.Second, 10*time.Millisecond)
}

func TestAlertFailureDoesNotAbortRepeats(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	notifier.err = errors.New("chat unreachable")
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{
		URL:                      testURL,
		Selector:                 testSelector,
		NotificationRepeatCount:  2,
		NotificationDelaySeconds: 1,
	})
	waitForValue(t, "5")

	page.setText("6")
	page.mutate()

	notifier.expectOne(t, 2*time.Second)
	notifier.expectOne(t, 2*time.Second)
	require.Eventually(t, func() bool {
		return snapshot.Get().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, snapshot.Get().LastError, "notification delivery failed")
}

func TestStaleReportIsDiscarded(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")

	c.reports <- Report{Kind: ReportValue, PageID: "some-other-tab", Gen: c.gen, Value: "99"}
	time.Sleep(100 * time.Millisecond)

	v := snapshot.Get().LastValue
	require.NotNil(t, v)
	assert.Equal(t, "5", *v)
	assert.True(t, snapshot.Get().Active)
}

func TestReportFromPreviousSessionIsDiscarded(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")
	oldGen := c.gen

	// Restart on the same page. A value report left over from the first
	// session matches the page id but not the session generation, so it
	// must not become the new baseline or count as a change.
	require.NoError(t, c.Stop(context.Background(), ""))
	page.setText("9")
	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})

	c.reports <- Report{Kind: ReportValue, PageID: "tab1", Gen: oldGen, Value: "5"}
	waitForValue(t, "9")
	notifier.expectNone(t, 300*time.Millisecond)

	v := snapshot.Get().LastValue
	require.NotNil(t, v)
	assert.Equal(t, "9", *v)
}

func TestRetryExhaustionStopsSession(t *testing.T) {
	page := newFakePage("tab1", testURL, "")
	page.textErr = ErrElementNotFound
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForStopped(t)

	assert.Contains(t, snapshot.Get().LastError, "Element not found")

	// Initial lookup plus five retries, never a sixth.
	require.Eventually(t, func() bool { return page.elementLookups() == 6 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 6, page.elementLookups())
}

func TestNavigationAwayStopsSession(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")

	page.setLocation("https://example.com/elsewhere")
	page.mutate()
	waitForStopped(t)

	assert.Contains(t, snapshot.Get().LastError, "navigated away")
}

func TestRefreshTickReloadsAndReschedules(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	notifier := newFakeNotifier()
	c := newTestController(t, page, notifier)
	c.refreshInterval = 50 * time.Millisecond
	c.settleDelay = 10 * time.Millisecond

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector, Mode: "refresh"})
	waitForValue(t, "5")

	// Each tick reloads and re-checks; a second reload proves the cycle
	// rescheduled itself after the first.
	require.Eventually(t, func() bool { return page.reloads() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, snapshot.Get().Active)

	// A value that changed across a reload is picked up by the post-reload
	// check and notified.
	page.setText("6")
	waitForValue(t, "6")
	msg := notifier.expectOne(t, 2*time.Second)
	assert.Contains(t, msg, "6")
}

func TestRefreshReloadFailureStopsSession(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())
	c.refreshInterval = 50 * time.Millisecond
	c.settleDelay = 10 * time.Millisecond

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector, Mode: "refresh"})
	waitForValue(t, "5")

	page.setReloadErr(errors.New("target closed"))
	waitForStopped(t)
	assert.Contains(t, snapshot.Get().LastError, "Tab unavailable")
}

func TestStaleCycleResultIsIgnored(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector, Mode: "refresh"})
	waitForValue(t, "5")

	// A failure carried over from a previous session generation must not
	// tear the current session down.
	c.cycles <- cycleResult{gen: c.gen + 7, err: errors.New("stale")}
	time.Sleep(100 * time.Millisecond)
	assert.True(t, snapshot.Get().Active)
}

func TestStopIsIdempotent(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")

	ctx := context.Background()
	require.NoError(t, c.Stop(ctx, "Stopped by user."))
	assert.False(t, snapshot.Get().Active)
	assert.Equal(t, "Stopped by user.", snapshot.Get().LastError)

	require.NoError(t, c.Stop(ctx, "second reason"))
	assert.False(t, snapshot.Get().Active)
	assert.Equal(t, "second reason", snapshot.Get().LastError)

	require.NoError(t, c.Stop(ctx, ""))
	assert.Equal(t, "second reason", snapshot.Get().LastError)
}

func TestStartClearsPreviousValueAndError(t *testing.T) {
	page := newFakePage("tab1", testURL, "5")
	c := newTestController(t, page, newFakeNotifier())

	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "5")
	require.NoError(t, c.Stop(context.Background(), "Stopped by user."))

	// Restart: last error cleared, value re-observed as a fresh baseline.
	page.setText("9")
	startSession(t, c, RawConfig{URL: testURL, Selector: testSelector})
	waitForValue(t, "9")
	assert.Empty(t, snapshot.Get().LastError)
}
