// Package engine drives crawl cycles: it rotates through adapters, walks each
// adapter's candidate URLs and pushes validated listings to the store while
// retrying, resolving challenges and reporting failures along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/challenge"
	"github.com/JakeFAU/listing-crawler/internal/classifier"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/governor"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/scheduler"
)

// ErrAlreadyRunning is returned when Start is called on a running engine.
var ErrAlreadyRunning = errors.New("engine already running")

var errChallengeUnresolved = errors.New("challenge not resolved before deadline")

var tracer = otel.Tracer("github.com/JakeFAU/listing-crawler/internal/engine")

// Listing outcomes, used for metrics and per-adapter stats.
const (
	outcomePersisted = "persisted"
	outcomeInvalid   = "invalid"
	outcomeDuplicate = "duplicate"
	outcomeBadURL    = "bad_url"
	outcomeChallenge = "challenge_skipped"
	outcomeFailed    = "failed"
)

// Adapter slot results.
const (
	resultCompleted   = "completed"
	resultFailed      = "failed"
	resultInactive    = "inactive"
	resultUnavailable = "unavailable"
	resultStopped     = "stopped"
)

// ChallengeResolver inspects a freshly navigated page and waits out any
// anti-bot challenge on it.
type ChallengeResolver interface {
	Resolve(ctx context.Context, page crawler.Page, adapter, url string) (challenge.State, error)
}

// ErrorReporter decides whether a failure is forwarded or escalated.
type ErrorReporter interface {
	Report(adapter string, kind crawler.FailureKind, detail string) classifier.Decision
}

// ItemObserver is told about every persisted listing.
type ItemObserver interface {
	Observe(ctx context.Context) governor.Pass
	Snapshot() governor.MemorySnapshot
}

// Pacer delays requests to a host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config wires the engine. Browser, Store and Clock are required.
//   - MaxCycles: stop after N cycles; zero runs until stopped.
//   - AdapterPause: pause after each adapter slot except the last in a cycle.
//   - CyclePause: pause between cycles.
//   - Retry: wraps listing (restart) and each fetch.
type Config struct {
	MaxCycles    int
	AdapterPause time.Duration
	CyclePause   time.Duration
	Retry        crawler.RetryPolicy

	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Browser    crawler.Browser
	Store      crawler.ListingStore
	Sources    crawler.SourceRegistry
	Challenges ChallengeResolver
	Errors     ErrorReporter
	Governor   ItemObserver
	Pacer      Pacer
	Notifier   crawler.Notifier
	Logger     *zap.Logger
}

// AdapterStats accumulates per-adapter counters across cycles.
type AdapterStats struct {
	Runs       int64     `json:"runs"`
	Persisted  int64     `json:"persisted"`
	Invalid    int64     `json:"invalid"`
	Duplicates int64     `json:"duplicates"`
	Challenged int64     `json:"challenged"`
	Failed     int64     `json:"failed"`
	BadURLs    int64     `json:"bad_urls"`
	LastResult string    `json:"last_result,omitempty"`
	LastRunAt  time.Time `json:"last_run_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Running        bool                            `json:"running"`
	CurrentAdapter string                          `json:"current_adapter,omitempty"`
	Cycle          int                             `json:"cycle"`
	CycleID        string                          `json:"cycle_id,omitempty"`
	PerAdapter     map[string]AdapterStats         `json:"per_adapter"`
	Attempts       map[string]crawler.CrawlAttempt `json:"attempts,omitempty"`
	Memory         governor.MemorySnapshot         `json:"memory"`
}

// Engine runs crawl cycles. Only one Start may be active at a time.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	running  atomic.Bool
	stopping atomic.Bool

	mu         sync.Mutex
	stopCancel context.CancelFunc
	current    string
	cycle      int
	cycleID    string
	perAdapter map[string]*AdapterStats
	attempts   map[string]crawler.CrawlAttempt
	sourceIDs  map[string]int64
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Browser == nil {
		return nil, errors.New("engine: browser is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: listing store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("engine: clock is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = crawler.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		perAdapter: make(map[string]*AdapterStats),
		attempts:   make(map[string]crawler.CrawlAttempt),
		sourceIDs:  make(map[string]int64),
	}, nil
}

// Start blocks running cycles over adapters until Stop is called, MaxCycles
// is reached or ctx is done. Stop lets the current fetch finish; ctx
// cancellation aborts it.
func (e *Engine) Start(ctx context.Context, adapters ...crawler.Adapter) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	defer e.stopping.Store(false)

	rotation, err := scheduler.New(adapters...)
	if err != nil {
		return fmt.Errorf("register adapters: %w", err)
	}

	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.stopCancel = cancel
	e.mu.Unlock()
	if e.stopping.Load() {
		cancel()
	}
	defer func() {
		e.mu.Lock()
		e.stopCancel = nil
		e.current = ""
		e.mu.Unlock()
	}()

	for _, adapter := range adapters {
		e.ensureSource(ctx, adapter)
	}
	if rotation.Len() == 0 {
		e.logger.Info("no adapters registered, nothing to crawl")
		return nil
	}
	e.logger.Info("crawl engine started",
		zap.Strings("adapters", rotation.Names()),
		zap.Int("max_cycles", e.cfg.MaxCycles),
	)

	for cycle := 1; ; cycle++ {
		if e.stopRequested(ctx) {
			break
		}
		e.runCycle(ctx, stopCtx, rotation, cycle)
		metrics.ObserveCycle()
		if e.cfg.MaxCycles > 0 && cycle >= e.cfg.MaxCycles {
			break
		}
		if e.stopRequested(ctx) {
			break
		}
		e.pause(stopCtx, e.cfg.CyclePause)
	}
	e.logger.Info("crawl engine stopped", zap.Int("cycles", e.Stats().Cycle))
	return nil
}

// Stop asks a running engine to finish the current URL and return. It is
// safe to call more than once. A Stop that lands before Start is kept, and
// that Start returns without crawling.
func (e *Engine) Stop() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	cancel := e.stopCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.logger.Info("stop requested")
}

// Running reports whether Start is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	stats := Stats{
		Running:        e.running.Load(),
		CurrentAdapter: e.current,
		Cycle:          e.cycle,
		CycleID:        e.cycleID,
		PerAdapter:     make(map[string]AdapterStats, len(e.perAdapter)),
		Attempts:       make(map[string]crawler.CrawlAttempt, len(e.attempts)),
	}
	for name, s := range e.perAdapter {
		stats.PerAdapter[name] = *s
	}
	for name, a := range e.attempts {
		stats.Attempts[name] = a
	}
	e.mu.Unlock()
	if e.cfg.Governor != nil {
		stats.Memory = e.cfg.Governor.Snapshot()
	}
	return stats
}

func (e *Engine) runCycle(ctx, stopCtx context.Context, rotation *scheduler.RoundRobin, cycle int) {
	cycleID := e.newCycleID()
	e.mu.Lock()
	e.cycle = cycle
	e.cycleID = cycleID
	clear(e.attempts)
	e.mu.Unlock()

	logger := e.logger.With(zap.Int("cycle", cycle), zap.String("cycle_id", cycleID))
	logger.Info("cycle started")
	started := e.cfg.Clock.Now()

	active := e.activeSources(ctx, logger)
	slots := rotation.Len()
	for slot := range slots {
		if e.stopRequested(ctx) {
			logger.Info("cycle interrupted by stop")
			return
		}
		adapter, ok := rotation.Next()
		if !ok {
			return
		}
		e.runAdapter(ctx, stopCtx, adapter, active, cycle, cycleID, logger)
		if slot < slots-1 && !e.stopRequested(ctx) {
			e.pause(stopCtx, e.cfg.AdapterPause)
		}
	}
	logger.Info("cycle finished", zap.Duration("duration", e.cfg.Clock.Now().Sub(started)))
}

// slotCounts are the tallies for one adapter slot.
type slotCounts struct {
	persisted, invalid, duplicates, challenged, failed, badURLs int
}

func (e *Engine) runAdapter(
	ctx, stopCtx context.Context,
	adapter crawler.Adapter,
	active map[string]bool,
	cycle int,
	cycleID string,
	logger *zap.Logger,
) {
	name := adapter.Name()
	logger = logger.With(zap.String("adapter", name))
	e.setCurrent(name)
	defer e.setCurrent("")

	ctx, span := tracer.Start(ctx, "engine.adapter", trace.WithAttributes(
		attribute.String("crawler.adapter", name),
		attribute.Int("crawler.cycle", cycle),
		attribute.String("crawler.cycle_id", cycleID),
	))
	defer span.End()

	if on, ok := active[name]; ok && !on {
		logger.Info("source inactive, skipping")
		e.finishSlot(name, resultInactive, nil)
		return
	}
	if checker, ok := adapter.(crawler.AvailabilityChecker); ok {
		if err := checker.Available(ctx); err != nil {
			logger.Warn("adapter unavailable, skipping", zap.Error(err))
			e.report(name, err, logger)
			e.finishSlot(name, resultUnavailable, err)
			return
		}
	}

	sourceID := e.ensureSource(ctx, adapter)
	e.notify(crawler.Notification{
		Kind:    crawler.NotifyAdapterStart,
		Adapter: name,
		Message: fmt.Sprintf("crawl of %s started", name),
		Fields:  map[string]any{"cycle": cycle, "cycle_id": cycleID},
	})
	logger.Info("adapter started")
	started := e.cfg.Clock.Now()

	counts := &slotCounts{}
	seen := make(map[string]struct{})
	err := e.cfg.Retry.Do(stopCtx, e.cfg.Clock, func(_ context.Context, attempt int) error {
		if attempt > 1 {
			logger.Info("restarting listing", zap.Int("attempt", attempt), zap.Int("already_seen", len(seen)))
		}
		return e.walk(ctx, stopCtx, adapter, sourceID, seen, counts, logger)
	}, func(ev crawler.RetryEvent) {
		e.recordAttempt(name, ev)
		logger.Warn("listing failed, will retry",
			zap.Int("attempt", ev.Attempt),
			zap.Duration("delay", ev.Delay),
			zap.Error(ev.Err),
		)
	})

	result := resultCompleted
	switch {
	case err != nil && e.stopRequested(ctx):
		result = resultStopped
		err = nil
	case err != nil:
		result = resultFailed
		logger.Error("adapter failed", zap.Error(err))
		e.report(name, err, logger)
	case e.stopRequested(ctx):
		result = resultStopped
	}
	e.finishSlot(name, result, err)
	span.SetAttributes(
		attribute.String("crawler.result", result),
		attribute.Int("crawler.persisted", counts.persisted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}

	duration := e.cfg.Clock.Now().Sub(started)
	logger.Info("adapter finished",
		zap.String("result", result),
		zap.Int("persisted", counts.persisted),
		zap.Int("invalid", counts.invalid),
		zap.Int("challenged", counts.challenged),
		zap.Int("failed", counts.failed),
		zap.Duration("duration", duration),
	)
	e.notify(crawler.Notification{
		Kind:    crawler.NotifyAdapterSummary,
		Adapter: name,
		Message: fmt.Sprintf(
			"%s %s: %d persisted, %d invalid, %d challenged, %d failed",
			name, result, counts.persisted, counts.invalid, counts.challenged, counts.failed,
		),
		Fields: map[string]any{
			"cycle":      cycle,
			"cycle_id":   cycleID,
			"result":     result,
			"persisted":  counts.persisted,
			"invalid":    counts.invalid,
			"duplicates": counts.duplicates,
			"challenged": counts.challenged,
			"failed":     counts.failed,
			"duration":   duration.String(),
		},
	})
}

// walk consumes one pass of the adapter's candidate sequence. URLs already in
// seen are skipped, so a restarted pass resumes where the last one failed.
func (e *Engine) walk(
	ctx, stopCtx context.Context,
	adapter crawler.Adapter,
	sourceID int64,
	seen map[string]struct{},
	counts *slotCounts,
	logger *zap.Logger,
) error {
	name := adapter.Name()
	for rawURL, err := range adapter.ListCandidates(ctx) {
		if e.stopRequested(ctx) {
			return nil
		}
		if err != nil {
			return withKind(err, crawler.KindNavigation, "list candidates")
		}
		key, err := crawler.NormalizeURL(rawURL)
		if err != nil {
			logger.Debug("dropping malformed candidate", zap.String("url", rawURL), zap.Error(err))
			e.tally(name, counts, outcomeBadURL)
			continue
		}
		if _, dup := seen[key]; dup {
			e.tally(name, counts, outcomeDuplicate)
			continue
		}
		seen[key] = struct{}{}
		if err := e.process(ctx, stopCtx, adapter, sourceID, key, counts, logger); err != nil {
			return err
		}
	}
	return nil
}

// process handles one URL. It returns an error only when the slot must end.
func (e *Engine) process(
	ctx, stopCtx context.Context,
	adapter crawler.Adapter,
	sourceID int64,
	url string,
	counts *slotCounts,
	logger *zap.Logger,
) error {
	name := adapter.Name()
	logger = logger.With(zap.String("url", url))

	ctx, span := tracer.Start(ctx, "engine.url", trace.WithAttributes(
		attribute.String("crawler.adapter", name),
		attribute.String("url.full", url),
	))
	defer span.End()

	if e.cfg.Pacer != nil {
		if err := e.cfg.Pacer.Wait(ctx, url); err != nil {
			logger.Debug("politeness wait interrupted", zap.Error(err))
			return nil
		}
	}

	var record crawler.Listing
	err := e.cfg.Retry.Do(stopCtx, e.cfg.Clock, func(_ context.Context, _ int) error {
		var fetchErr error
		record, fetchErr = e.fetch(ctx, adapter, url, logger)
		return fetchErr
	}, func(ev crawler.RetryEvent) {
		e.recordAttempt(name, ev)
		logger.Debug("fetch failed, will retry", zap.Int("attempt", ev.Attempt), zap.Error(ev.Err))
	})
	if err != nil {
		kind := classifier.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		switch {
		case kind == crawler.KindCanceled || e.stopRequested(ctx):
			return nil
		case kind == crawler.KindChallenge:
			logger.Warn("challenge unresolved, skipping url")
			e.tally(name, counts, outcomeChallenge)
			e.report(name, err, logger)
			return nil
		case kind == crawler.KindResourceExhaustion || kind == crawler.KindStorage:
			e.tally(name, counts, outcomeFailed)
			return crawler.Permanent(err)
		default:
			logger.Warn("fetch failed, skipping url", zap.Error(err))
			e.tally(name, counts, outcomeFailed)
			e.report(name, err, logger)
			return nil
		}
	}

	if record.URL == "" {
		record.URL = url
	}
	if !record.HasIdentity() || !adapter.Validate(record) {
		logger.Debug("record rejected by validation")
		e.tally(name, counts, outcomeInvalid)
		return nil
	}
	record = adapter.Normalize(record)
	record.SourceID = sourceID
	if record.SourceName == "" {
		record.SourceName = name
	}
	if record.ScrapedAt.IsZero() {
		record.ScrapedAt = e.cfg.Clock.Now()
	}
	if !record.HasIdentity() {
		logger.Debug("record lost identity during normalization")
		e.tally(name, counts, outcomeInvalid)
		return nil
	}

	if err := e.cfg.Store.UpsertListing(ctx, record); err != nil {
		e.tally(name, counts, outcomeFailed)
		return crawler.Permanent(crawler.Fail(crawler.KindStorage, "persist listing", err))
	}
	e.tally(name, counts, outcomePersisted)
	if e.cfg.Governor != nil {
		if pass := e.cfg.Governor.Observe(ctx); pass != governor.PassNone {
			logger.Debug("governor pass", zap.String("pass", string(pass)))
		}
	}
	return nil
}

// fetch runs a single attempt on a fresh page. The page is released on every
// return path.
func (e *Engine) fetch(
	ctx context.Context,
	adapter crawler.Adapter,
	url string,
	logger *zap.Logger,
) (crawler.Listing, error) {
	name := adapter.Name()
	page, err := e.cfg.Browser.Acquire(ctx)
	if err != nil {
		metrics.ObserveFetchAttempt(name, "acquire_error")
		return crawler.Listing{}, withKind(err, crawler.KindResourceExhaustion, "acquire page")
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		metrics.ObserveFetchAttempt(name, "navigation_error")
		return crawler.Listing{}, withKind(err, crawler.KindNavigation, "navigate")
	}

	if e.cfg.Challenges != nil {
		state, err := e.cfg.Challenges.Resolve(ctx, page, name, url)
		if err != nil {
			metrics.ObserveFetchAttempt(name, "challenge_error")
			return crawler.Listing{}, withKind(err, crawler.KindNavigation, "resolve challenge")
		}
		if !state.Resolved() {
			metrics.ObserveFetchAttempt(name, "challenge_timeout")
			if state.Snapshot != "" {
				logger.Info("challenge page saved", zap.String("snapshot", state.Snapshot))
			}
			return crawler.Listing{}, crawler.Fail(crawler.KindChallenge, "resolve challenge", errChallengeUnresolved)
		}
	}

	record, err := adapter.FetchRecord(ctx, page, url)
	if err != nil {
		metrics.ObserveFetchAttempt(name, "extract_error")
		return crawler.Listing{}, withKind(err, crawler.KindExtraction, "fetch record")
	}
	metrics.ObserveFetchAttempt(name, "ok")
	return record, nil
}

// withKind tags err with the kind classifier.Classify finds, falling back to
// kind when nothing is recognizable.
func withKind(err error, kind crawler.FailureKind, op string) error {
	switch found := classifier.Classify(err); found {
	case crawler.KindUnknown:
		return crawler.Fail(kind, op, err)
	case crawler.KindOf(err):
		return err
	default:
		return crawler.Fail(found, op, err)
	}
}

func (e *Engine) report(name string, err error, logger *zap.Logger) {
	if e.cfg.Errors == nil || err == nil {
		return
	}
	kind := classifier.Classify(err)
	if kind == crawler.KindCanceled {
		return
	}
	decision := e.cfg.Errors.Report(name, kind, err.Error())
	logger.Debug("error reported",
		zap.String("kind", string(kind)),
		zap.Bool("suppressed", decision.Suppressed),
		zap.Bool("escalated", decision.Escalated),
		zap.Int("count", decision.Count),
	)
}

func (e *Engine) notify(n crawler.Notification) {
	if e.cfg.Notifier == nil {
		return
	}
	n.At = e.cfg.Clock.Now()
	e.cfg.Notifier.Notify(n)
}

// ensureSource seeds the adapter's source row once and returns its ID. A
// registry failure is logged and yields zero, which stores persist as NULL.
func (e *Engine) ensureSource(ctx context.Context, adapter crawler.Adapter) int64 {
	name := adapter.Name()
	e.mu.Lock()
	id, ok := e.sourceIDs[name]
	e.mu.Unlock()
	if ok || e.cfg.Sources == nil {
		return id
	}

	src := crawler.Source{Name: name, DisplayName: name, Active: true}
	if describer, ok := adapter.(crawler.SourceDescriber); ok {
		src = describer.Source()
		src.Name = name
	}
	stored, err := e.cfg.Sources.EnsureSource(ctx, src)
	if err != nil {
		e.logger.Warn("seed source failed", zap.String("adapter", name), zap.Error(err))
		e.report(name, crawler.Fail(crawler.KindStorage, "seed source", err), e.logger)
		return 0
	}
	e.mu.Lock()
	e.sourceIDs[name] = stored.ID
	e.mu.Unlock()
	return stored.ID
}

// activeSources maps source names to their activation flag. Nil means every
// adapter runs.
func (e *Engine) activeSources(ctx context.Context, logger *zap.Logger) map[string]bool {
	if e.cfg.Sources == nil {
		return nil
	}
	sources, err := e.cfg.Sources.ListSources(ctx)
	if err != nil {
		logger.Warn("list sources failed, treating all as active", zap.Error(err))
		return nil
	}
	active := make(map[string]bool, len(sources))
	for _, s := range sources {
		active[s.Name] = s.Active
	}
	return active
}

func (e *Engine) tally(name string, counts *slotCounts, outcome string) {
	metrics.ObserveListing(name, outcome)
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.statsFor(name)
	switch outcome {
	case outcomePersisted:
		counts.persisted++
		stats.Persisted++
	case outcomeInvalid:
		counts.invalid++
		stats.Invalid++
	case outcomeDuplicate:
		counts.duplicates++
		stats.Duplicates++
	case outcomeChallenge:
		counts.challenged++
		stats.Challenged++
	case outcomeFailed:
		counts.failed++
		stats.Failed++
	case outcomeBadURL:
		counts.badURLs++
		stats.BadURLs++
	}
}

func (e *Engine) finishSlot(name, result string, err error) {
	metrics.ObserveAdapterRun(name, result)
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.statsFor(name)
	stats.Runs++
	stats.LastResult = result
	stats.LastRunAt = e.cfg.Clock.Now()
	stats.LastError = ""
	if err != nil {
		stats.LastError = err.Error()
	}
	delete(e.attempts, name)
}

func (e *Engine) recordAttempt(name string, ev crawler.RetryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[name] = crawler.CrawlAttempt{
		Adapter:      name,
		AttemptCount: ev.Attempt,
		LastError:    ev.Err.Error(),
		NextRetryAt:  e.cfg.Clock.Now().Add(ev.Delay),
	}
}

// statsFor must be called with mu held.
func (e *Engine) statsFor(name string) *AdapterStats {
	stats, ok := e.perAdapter[name]
	if !ok {
		stats = &AdapterStats{}
		e.perAdapter[name] = stats
	}
	return stats
}

func (e *Engine) setCurrent(name string) {
	e.mu.Lock()
	e.current = name
	e.mu.Unlock()
}

func (e *Engine) newCycleID() string {
	if e.cfg.IDs == nil {
		return ""
	}
	id, err := e.cfg.IDs.NewID()
	if err != nil {
		e.logger.Warn("cycle id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.stopping.Load() || ctx.Err() != nil
}

// pause sleeps for d unless Stop interrupts it.
func (e *Engine) pause(stopCtx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if err := e.cfg.Clock.Sleep(stopCtx, d); err != nil {
		e.logger.Debug("pause interrupted", zap.Error(err))
	}
}
