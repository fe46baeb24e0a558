package engine

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/challenge"
	"github.com/JakeFAU/listing-crawler/internal/classifier"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/governor"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type fakePage struct {
	browser *fakeBrowser
	closes  int
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	if p.browser.navFailures[url] > 0 {
		p.browser.navFailures[url]--
		err := errors.New("page load error net::ERR_CONNECTION_RESET")
		if p.browser.tagNavigation {
			return crawler.Fail(crawler.KindNavigation, "navigate", err)
		}
		return err
	}
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error)        { return "<html></html>", nil }
func (p *fakePage) URL(context.Context) (string, error)         { return "", nil }
func (p *fakePage) Click(context.Context, string) (bool, error) { return false, nil }
func (p *fakePage) Evaluate(context.Context, string) error      { return nil }

func (p *fakePage) Close() {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.closes++
}

type fakeBrowser struct {
	mu          sync.Mutex
	pages       []*fakePage
	navFailures map[string]int
	// tagNavigation wraps navigation errors in a generic navigation Failure.
	tagNavigation bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{navFailures: make(map[string]int)}
}

func (b *fakeBrowser) Acquire(context.Context) (crawler.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	page := &fakePage{browser: b}
	b.pages = append(b.pages, page)
	return page, nil
}

func (b *fakeBrowser) closeCounts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.pages))
	for i, p := range b.pages {
		out[i] = p.closes
	}
	return out
}

type fakeAdapter struct {
	name string
	urls []string

	// The first failListings listing passes fail after yielding failAfter URLs.
	failListings int
	failAfter    int

	fetchErrs map[string]int
	untitled  map[string]bool
	rejected  map[string]bool
	onFetch   func(url string)

	mu        sync.Mutex
	listCalls int
	fetched   []string
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) ListCandidates(context.Context) iter.Seq2[string, error] {
	a.mu.Lock()
	a.listCalls++
	call := a.listCalls
	a.mu.Unlock()
	failing := call <= a.failListings
	listErr := crawler.Fail(crawler.KindNetwork, "list", errors.New("index page unreachable"))
	return func(yield func(string, error) bool) {
		for i, u := range a.urls {
			if failing && i == a.failAfter {
				yield("", listErr)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
		if failing && a.failAfter >= len(a.urls) {
			yield("", listErr)
		}
	}
}

func (a *fakeAdapter) FetchRecord(_ context.Context, _ crawler.Page, url string) (crawler.Listing, error) {
	a.mu.Lock()
	a.fetched = append(a.fetched, url)
	failing := a.fetchErrs[url] > 0
	if failing {
		a.fetchErrs[url]--
	}
	hook := a.onFetch
	a.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if failing {
		return crawler.Listing{}, errors.New("price selector matched nothing")
	}
	title := "Listing " + url
	if a.untitled[url] {
		title = ""
	}
	return crawler.Listing{URL: url, Title: title}, nil
}

func (a *fakeAdapter) Validate(record crawler.Listing) bool {
	return !a.rejected[record.URL]
}

func (a *fakeAdapter) Normalize(record crawler.Listing) crawler.Listing {
	record.Title = strings.TrimSpace(record.Title)
	record.Currency = "USD"
	return record
}

func (a *fakeAdapter) fetchedURLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.fetched...)
}

func (a *fakeAdapter) listings() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

type unavailableAdapter struct {
	*fakeAdapter
}

func (unavailableAdapter) Available(context.Context) error {
	return crawler.Fail(crawler.KindNetwork, "probe", errors.New("503 from probe url"))
}

type failingStore struct {
	*memory.Store
	failPrefix string
}

func (s *failingStore) UpsertListing(ctx context.Context, l crawler.Listing) error {
	if strings.HasPrefix(l.URL, s.failPrefix) {
		return errors.New("connection refused")
	}
	return s.Store.UpsertListing(ctx, l)
}

type unresolvedChallenges struct {
	urls map[string]bool
}

func (r unresolvedChallenges) Resolve(_ context.Context, _ crawler.Page, _, url string) (challenge.State, error) {
	if r.urls[url] {
		return challenge.State{Phase: challenge.PhaseTimedOut, Provider: challenge.ProviderRecaptcha}, nil
	}
	return challenge.State{Phase: challenge.PhaseNone}, nil
}

type report struct {
	adapter string
	kind    crawler.FailureKind
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(adapter string, kind crawler.FailureKind, _ string) classifier.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{adapter: adapter, kind: kind})
	return classifier.Decision{Count: len(r.reports)}
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []crawler.Notification
}

func (n *recordingNotifier) Notify(note crawler.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) adaptersFor(kind crawler.NotificationKind) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.notes {
		if note.Kind == kind {
			out = append(out, note.Adapter)
		}
	}
	return out
}

type countingGovernor struct {
	mu       sync.Mutex
	observed int
}

func (g *countingGovernor) Observe(context.Context) governor.Pass {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observed++
	return governor.PassNone
}

func (g *countingGovernor) Snapshot() governor.MemorySnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return governor.MemorySnapshot{Processed: int64(g.observed)}
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "cycle-" + strconv.Itoa(s.n), nil
}

type harness struct {
	clock    *fakeClock
	browser  *fakeBrowser
	store    *memory.Store
	reporter *recordingReporter
	notifier *recordingNotifier
	governor *countingGovernor
}

func newHarness() *harness {
	return &harness{
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		browser:  newFakeBrowser(),
		store:    memory.NewStore(),
		reporter: &recordingReporter{},
		notifier: &recordingNotifier{},
		governor: &countingGovernor{},
	}
}

func (h *harness) config() Config {
	return Config{
		MaxCycles:    1,
		AdapterPause: 2 * time.Second,
		CyclePause:   10 * time.Second,
		Retry:        crawler.RetryPolicy{MaxAttempts: 3, Delay: time.Second},
		Clock:        h.clock,
		IDs:          &sequentialIDs{},
		Browser:      h.browser,
		Store:        h.store,
		Sources:      h.store,
		Errors:       h.reporter,
		Governor:     h.governor,
		Notifier:     h.notifier,
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func urlsOf(listings []crawler.Listing) []string {
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.URL)
	}
	return out
}

// TestStartRotatesAdaptersFairly verifies every adapter gets exactly one slot
// per cycle in registration order, even when one of them always fails.
func TestStartRotatesAdaptersFairly(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.MaxCycles = 3
	a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1"}}
	b := &fakeAdapter{name: "bravo", urls: []string{"https://bravo.example/1"}, failListings: 100}
	c := &fakeAdapter{name: "charlie", urls: []string{"https://charlie.example/1"}}

	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background(), a, b, c))

	require.Equal(t,
		[]string{"alpha", "bravo", "charlie", "alpha", "bravo", "charlie", "alpha", "bravo", "charlie"},
		h.notifier.adaptersFor(crawler.NotifyAdapterStart),
	)
	stats := e.Stats()
	require.False(t, stats.Running)
	require.Equal(t, 3, stats.Cycle)
	require.Equal(t, "cycle-3", stats.CycleID)
	for _, name := range []string{"alpha", "bravo", "charlie"} {
		require.EqualValues(t, 3, stats.PerAdapter[name].Runs, name)
	}
	require.Equal(t, resultFailed, stats.PerAdapter["bravo"].LastResult)
	require.Contains(t, stats.PerAdapter["bravo"].LastError, "index page unreachable")
	require.Equal(t, resultCompleted, stats.PerAdapter["alpha"].LastResult)
	require.Empty(t, stats.Attempts)

	require.Equal(t, 9, b.listings(), "three attempts per cycle")
	require.Equal(t,
		[]report{{"bravo", crawler.KindNetwork}, {"bravo", crawler.KindNetwork}, {"bravo", crawler.KindNetwork}},
		h.reporter.all(),
	)
	require.Len(t, h.store.Listings(), 2)
}

// TestListingRetryRestartsWithoutRefetching verifies a failed listing pass is
// restarted and URLs handled before the failure are not fetched again.
func TestListingRetryRestartsWithoutRefetching(t *testing.T) {
	t.Parallel()

	h := newHarness()
	a := &fakeAdapter{
		name:         "alpha",
		urls:         []string{"https://alpha.example/1", "https://alpha.example/2", "https://alpha.example/3"},
		failListings: 1,
		failAfter:    2,
	}
	e := newEngine(t, h.config())
	require.NoError(t, e.Start(context.Background(), a))

	require.Equal(t, 2, a.listings())
	require.Equal(t, a.urls, a.fetchedURLs())
	require.ElementsMatch(t, a.urls, urlsOf(h.store.Listings()))
	require.Equal(t, 3, h.store.Upserts())
	require.Equal(t, 3, h.governor.observed)

	stats := e.Stats()
	require.Equal(t, resultCompleted, stats.PerAdapter["alpha"].LastResult)
	require.EqualValues(t, 3, stats.PerAdapter["alpha"].Persisted)
	require.EqualValues(t, 3, stats.Memory.Processed)
	require.Empty(t, h.reporter.all())
}

// TestDuplicateCandidatesAreFetchedOnce covers within-cycle dedupe on the
// normalized URL.
func TestDuplicateCandidatesAreFetchedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	a := &fakeAdapter{
		name: "alpha",
		urls: []string{
			"https://alpha.example/item?id=1&ref=x",
			"HTTPS://ALPHA.example:443/item?ref=x&id=1#photos",
			"not a url",
		},
	}
	e := newEngine(t, h.config())
	require.NoError(t, e.Start(context.Background(), a))

	require.Equal(t, []string{"https://alpha.example/item?id=1&ref=x"}, a.fetchedURLs())
	stats := e.Stats().PerAdapter["alpha"]
	require.EqualValues(t, 1, stats.Duplicates)
	require.EqualValues(t, 1, stats.BadURLs)
	require.EqualValues(t, 1, stats.Persisted)
}

// TestChallengeTimeoutSkipsOnlyThatURL verifies an unresolved challenge drops
// one URL and the adapter continues with the next.
func TestChallengeTimeoutSkipsOnlyThatURL(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.Challenges = unresolvedChallenges{urls: map[string]bool{"https://alpha.example/2": true}}
	a := &fakeAdapter{
		name: "alpha",
		urls: []string{"https://alpha.example/1", "https://alpha.example/2", "https://alpha.example/3"},
	}
	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background(), a))

	require.Equal(t, []string{"https://alpha.example/1", "https://alpha.example/3"}, a.fetchedURLs())
	require.ElementsMatch(t, []string{"https://alpha.example/1", "https://alpha.example/3"}, urlsOf(h.store.Listings()))
	require.Equal(t, []int{1, 1, 1}, h.browser.closeCounts(), "challenges are not retried")
	require.Equal(t, []report{{"alpha", crawler.KindChallenge}}, h.reporter.all())

	stats := e.Stats().PerAdapter["alpha"]
	require.EqualValues(t, 1, stats.Challenged)
	require.Equal(t, resultCompleted, stats.LastResult)
}

// TestEveryAcquiredPageIsClosedOnce exercises success, retried navigation and
// exhausted extraction failures.
func TestEveryAcquiredPageIsClosedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.browser.navFailures["https://alpha.example/1"] = 2
	a := &fakeAdapter{
		name:      "alpha",
		urls:      []string{"https://alpha.example/1", "https://alpha.example/2", "https://alpha.example/3"},
		fetchErrs: map[string]int{"https://alpha.example/2": 10},
	}
	e := newEngine(t, h.config())
	require.NoError(t, e.Start(context.Background(), a))

	closes := h.browser.closeCounts()
	require.Len(t, closes, 7, "3 for url 1, 3 for url 2, 1 for url 3")
	for i, n := range closes {
		require.Equal(t, 1, n, "page %d", i)
	}
	require.ElementsMatch(t, []string{"https://alpha.example/1", "https://alpha.example/3"}, urlsOf(h.store.Listings()))
	require.Equal(t, []report{{"alpha", crawler.KindExtraction}}, h.reporter.all())
	require.EqualValues(t, 1, e.Stats().PerAdapter["alpha"].Failed)
}

// TestNetworkFailureOnFetchEscalates verifies a Chrome net::ERR_* failure
// tagged as generic navigation is classified as network, escalates through
// the classifier and skips only the failing URL.
func TestNetworkFailureOnFetchEscalates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.browser.navFailures["https://alpha.example/1"] = 10
	h.browser.tagNavigation = true
	cfg := h.config()
	cfg.Errors = classifier.New(classifier.Config{Clock: h.clock, Notifier: h.notifier})
	a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1", "https://alpha.example/2"}}

	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background(), a))

	require.Equal(t, []string{"alpha"}, h.notifier.adaptersFor(crawler.NotifyCritical))
	require.Equal(t, []string{"https://alpha.example/2"}, urlsOf(h.store.Listings()))
	stats := e.Stats().PerAdapter["alpha"]
	require.EqualValues(t, 1, stats.Failed)
	require.Equal(t, resultCompleted, stats.LastResult)
}

// TestNavigationErrorsAreReportedByClassifiedKind verifies retried navigation
// failures reach the reporter as network, whether or not the page already
// tagged them with a generic navigation kind.
func TestNavigationErrorsAreReportedByClassifiedKind(t *testing.T) {
	t.Parallel()

	for _, tagged := range []bool{false, true} {
		h := newHarness()
		h.browser.navFailures["https://alpha.example/1"] = 10
		h.browser.tagNavigation = tagged
		a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1"}}

		e := newEngine(t, h.config())
		require.NoError(t, e.Start(context.Background(), a))

		require.Equal(t, []report{{"alpha", crawler.KindNetwork}}, h.reporter.all(), "tagged=%v", tagged)
		require.Empty(t, a.fetchedURLs(), "navigation failed before extraction")
	}
}

// TestValidationFailuresAreDroppedSilently verifies invalid records never reach
// the store and are not reported.
func TestValidationFailuresAreDroppedSilently(t *testing.T) {
	t.Parallel()

	h := newHarness()
	a := &fakeAdapter{
		name:     "alpha",
		urls:     []string{"https://alpha.example/1", "https://alpha.example/2", "https://alpha.example/3"},
		untitled: map[string]bool{"https://alpha.example/1": true},
		rejected: map[string]bool{"https://alpha.example/2": true},
	}
	e := newEngine(t, h.config())
	require.NoError(t, e.Start(context.Background(), a))

	listings := h.store.Listings()
	require.Len(t, listings, 1)
	got := listings[0]
	require.Equal(t, "https://alpha.example/3", got.URL)
	require.Equal(t, "USD", got.Currency)
	require.Equal(t, "alpha", got.SourceName)
	require.EqualValues(t, 1, got.SourceID)
	require.Equal(t, h.clock.Now(), got.ScrapedAt)

	require.EqualValues(t, 2, e.Stats().PerAdapter["alpha"].Invalid)
	require.Empty(t, h.reporter.all())
}

// TestPersistFailureEndsSlotAndEscalates verifies a storage failure stops the
// adapter for this cycle, escalates, and leaves later adapters running.
func TestPersistFailureEndsSlotAndEscalates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	store := &failingStore{Store: h.store, failPrefix: "https://alpha.example/"}
	cfg.Store = store
	cfg.Errors = classifier.New(classifier.Config{Clock: h.clock, Notifier: h.notifier})
	a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1", "https://alpha.example/2"}}
	b := &fakeAdapter{name: "bravo", urls: []string{"https://bravo.example/1"}}

	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background(), a, b))

	require.Equal(t, []string{"https://alpha.example/1"}, a.fetchedURLs())
	require.Equal(t, 1, a.listings(), "storage failures are not retried")
	require.Equal(t, []string{"https://bravo.example/1"}, urlsOf(h.store.Listings()))
	require.Equal(t, []string{"alpha"}, h.notifier.adaptersFor(crawler.NotifyCritical))

	stats := e.Stats().PerAdapter
	require.Equal(t, resultFailed, stats["alpha"].LastResult)
	require.Contains(t, stats["alpha"].LastError, "connection refused")
	require.Equal(t, resultCompleted, stats["bravo"].LastResult)
}

// TestInactiveAndUnavailableSourcesAreSkipped checks both skip paths.
func TestInactiveAndUnavailableSourcesAreSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()
	_, err := h.store.EnsureSource(ctx, crawler.Source{Name: "alpha"})
	require.NoError(t, err)
	require.NoError(t, h.store.SetSourceActive(ctx, "alpha", false))

	a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1"}}
	b := unavailableAdapter{&fakeAdapter{name: "bravo", urls: []string{"https://bravo.example/1"}}}
	c := &fakeAdapter{name: "charlie", urls: []string{"https://charlie.example/1"}}

	e := newEngine(t, h.config())
	require.NoError(t, e.Start(ctx, a, b, c))

	require.Zero(t, a.listings())
	require.Zero(t, b.listings())
	require.Equal(t, []string{"charlie"}, h.notifier.adaptersFor(crawler.NotifyAdapterStart))

	listings := h.store.Listings()
	require.Len(t, listings, 1)
	require.EqualValues(t, 3, listings[0].SourceID)

	stats := e.Stats().PerAdapter
	require.Equal(t, resultInactive, stats["alpha"].LastResult)
	require.Equal(t, resultUnavailable, stats["bravo"].LastResult)
	require.Equal(t, []report{{"bravo", crawler.KindNetwork}}, h.reporter.all())
}

// TestStopFinishesCurrentURL verifies Stop lets the in-flight URL persist and
// then returns without starting more work.
func TestStopFinishesCurrentURL(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.MaxCycles = 0
	a := &fakeAdapter{
		name: "alpha",
		urls: []string{"https://alpha.example/1", "https://alpha.example/2", "https://alpha.example/3"},
	}
	e := newEngine(t, cfg)

	var nested error
	a.onFetch = func(url string) {
		if url == "https://alpha.example/2" {
			nested = e.Start(context.Background(), a)
			e.Stop()
			e.Stop()
		}
	}
	require.NoError(t, e.Start(context.Background(), a))

	require.ErrorIs(t, nested, ErrAlreadyRunning)
	require.ElementsMatch(t, []string{"https://alpha.example/1", "https://alpha.example/2"}, urlsOf(h.store.Listings()))
	stats := e.Stats()
	require.False(t, stats.Running)
	require.Empty(t, stats.CurrentAdapter)
	require.Equal(t, 1, stats.Cycle)
	require.Equal(t, resultStopped, stats.PerAdapter["alpha"].LastResult)
}

// TestStopBeforeStartIsNotLost verifies an early Stop ends the next Start
// before any work, and the engine can be started again afterwards.
func TestStopBeforeStartIsNotLost(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.MaxCycles = 0
	a := &fakeAdapter{name: "alpha", urls: []string{"https://alpha.example/1"}}
	e := newEngine(t, cfg)

	e.Stop()
	require.NoError(t, e.Start(context.Background(), a))
	require.Zero(t, a.listings())
	require.Zero(t, e.Stats().Cycle)
	require.Empty(t, h.clock.sleeps)

	cfg.MaxCycles = 1
	again := newEngine(t, cfg)
	again.Stop()
	require.NoError(t, again.Start(context.Background()))
	require.NoError(t, again.Start(context.Background(), a))
	require.Equal(t, 1, a.listings())
}

// TestStartWithoutAdaptersReturnsImmediately covers the empty registry.
func TestStartWithoutAdaptersReturnsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.MaxCycles = 0
	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background()))
	require.Zero(t, e.Stats().Cycle)
}

// TestStartRejectsDuplicateAdapters verifies registry validation.
func TestStartRejectsDuplicateAdapters(t *testing.T) {
	t.Parallel()

	h := newHarness()
	e := newEngine(t, h.config())
	err := e.Start(context.Background(), &fakeAdapter{name: "alpha"}, &fakeAdapter{name: "alpha"})
	require.Error(t, err)
	require.False(t, e.Running())
}

// TestPausesBetweenAdaptersAndCycles checks pause placement with no failures.
func TestPausesBetweenAdaptersAndCycles(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.MaxCycles = 2
	a := &fakeAdapter{name: "alpha"}
	b := &fakeAdapter{name: "bravo"}
	e := newEngine(t, cfg)
	require.NoError(t, e.Start(context.Background(), a, b))

	require.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second, 2 * time.Second}, h.clock.sleeps)
}

// TestNewRequiresCollaborators verifies constructor validation.
func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness()
	cfg := h.config()
	cfg.Browser = nil
	_, err := New(cfg)
	require.Error(t, err)

	cfg = h.config()
	cfg.Store = nil
	_, err = New(cfg)
	require.Error(t, err)

	cfg = h.config()
	cfg.Clock = nil
	_, err = New(cfg)
	require.Error(t, err)

	cfg = h.config()
	cfg.Retry = crawler.RetryPolicy{}
	e, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultRetryPolicy(), e.cfg.Retry)
}
