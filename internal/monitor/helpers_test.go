package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"tab-element-monitor/internal/snapshot"
)

// fakePage is a settable in-memory stand-in for a browser page.
type fakePage struct {
	mu        sync.Mutex
	id        string
	location  string
	text      string
	textErr   error
	reloadErr error

	textCalls   int
	soundCalls  int
	reloadCalls int

	mutations chan struct{}
	watchErr  error
}

func newFakePage(id, location, text string) *fakePage {
	return &fakePage{
		id:        id,
		location:  location,
		text:      text,
		mutations: make(chan struct{}, 8),
	}
}

func (f *fakePage) ID() string { return f.id }

func (f *fakePage) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakePage) ElementText(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *fakePage) WatchMutations(context.Context, string) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, nil, f.watchErr
	}
	return f.mutations, func() {}, nil
}

func (f *fakePage) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadCalls++
	return f.reloadErr
}

func (f *fakePage) PlaySound(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.soundCalls++
	return nil
}

func (f *fakePage) setText(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = s
}

func (f *fakePage) setLocation(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = s
}

func (f *fakePage) elementLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls
}

func (f *fakePage) setReloadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadErr = err
}

func (f *fakePage) reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadCalls
}

func (f *fakePage) sounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.soundCalls
}

func (f *fakePage) mutate() {
	f.mutations <- struct{}{}
}

type fakeResolver struct {
	page *fakePage
	err  error
}

func (r *fakeResolver) ActivePage(context.Context) (Page, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.page, nil
}

func (r *fakeResolver) GrantOrigin(context.Context, string) error { return nil }

type fakeNotifier struct {
	calls chan string
	err   error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{calls: make(chan string, 32)}
}

func (n *fakeNotifier) Notify(_ context.Context, _, message string) error {
	n.calls <- message
	return n.err
}

// expectNone fails when a notification arrives within d.
func (n *fakeNotifier) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-n.calls:
		t.Fatalf("unexpected notification: %q", msg)
	case <-time.After(d):
	}
}

// expectOne waits up to d for exactly one notification.
func (n *fakeNotifier) expectOne(t *testing.T, d time.Duration) string {
	t.Helper()
	select {
	case msg := <-n.calls:
		return msg
	case <-time.After(d):
		t.Fatal("expected a notification, got none")
		return ""
	}
}

// newTestController starts a controller with shortened observer timings
// against page; the loop stops with the test.
func newTestController(t *testing.T, page *fakePage, notifier *fakeNotifier) *Controller {
	t.Helper()
	snapshot.Publish(snapshot.Status{})

	c := New(&fakeResolver{page: page}, Options{Notifier: notifier})
	c.retryDelay = 10 * time.Millisecond
	c.debounce = 10 * time.Millisecond

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
	return c
}
