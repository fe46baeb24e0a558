// Package classifier rate-limits error reports and decides which failures
// escalate to operators.
package classifier

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

const (
	defaultCooldown          = 5 * time.Minute
	defaultMaxErrorsPerHour  = 50
	defaultCriticalThreshold = 10
)

// DefaultCriticalKinds always escalate.
var DefaultCriticalKinds = []crawler.FailureKind{
	crawler.KindTimeout,
	crawler.KindNetwork,
	crawler.KindStorage,
	crawler.KindResourceExhaustion,
}

// Config controls cooldown, hourly budget and escalation.
//   - Cooldown: minimum gap between forwarded reports of one (adapter, kind) pair (default 5m).
//   - MaxErrorsPerHour: reports per adapter per clock hour before everything is suppressed (default 50).
//   - CriticalThreshold: window count at which any kind escalates (default 10).
//   - CriticalKinds: kinds that escalate on every report (default DefaultCriticalKinds).
type Config struct {
	Cooldown          time.Duration
	MaxErrorsPerHour  int
	CriticalThreshold int
	CriticalKinds     []crawler.FailureKind
	Clock             interface{ Now() time.Time }
	Notifier          crawler.Notifier
	Logger            *zap.Logger
}

// Decision is the outcome of a single Report call.
type Decision struct {
	Suppressed bool `json:"suppressed"`
	Escalated  bool `json:"escalated"`
	// Count is the adapter's report count in the current hour window.
	Count int `json:"count"`
}

// Budget is a snapshot of one adapter's hourly counter.
type Budget struct {
	Adapter     string    `json:"adapter"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

type pairKey struct {
	adapter string
	kind    crawler.FailureKind
}

// Classifier is safe for concurrent use.
type Classifier struct {
	cfg      Config
	critical map[crawler.FailureKind]struct{}
	logger   *zap.Logger

	mu            sync.Mutex
	budgets       map[string]*Budget
	lastForwarded map[pairKey]time.Time
}

// New builds a Classifier with defaults applied.
func New(cfg Config) *Classifier {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	} else if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxErrorsPerHour <= 0 {
		cfg.MaxErrorsPerHour = defaultMaxErrorsPerHour
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = defaultCriticalThreshold
	}
	if cfg.CriticalKinds == nil {
		cfg.CriticalKinds = DefaultCriticalKinds
	}
	if cfg.Clock == nil {
		cfg.Clock = utcClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	critical := make(map[crawler.FailureKind]struct{}, len(cfg.CriticalKinds))
	for _, k := range cfg.CriticalKinds {
		critical[k] = struct{}{}
	}
	return &Classifier{
		cfg:           cfg,
		critical:      critical,
		logger:        logger,
		budgets:       make(map[string]*Budget),
		lastForwarded: make(map[pairKey]time.Time),
	}
}

// Report counts a failure for adapter and decides whether it is forwarded
// and whether it escalates. Escalations bypass both cooldown and budget.
func (c *Classifier) Report(adapter string, kind crawler.FailureKind, detail string) Decision {
	if kind == "" {
		kind = crawler.KindUnknown
	}
	now := c.cfg.Clock.Now()
	window := now.Truncate(time.Hour)
	key := pairKey{adapter: adapter, kind: kind}

	c.mu.Lock()
	budget, ok := c.budgets[adapter]
	if !ok || !budget.WindowStart.Equal(window) {
		budget = &Budget{Adapter: adapter, WindowStart: window}
		c.budgets[adapter] = budget
	}
	budget.Count++
	count := budget.Count

	overBudget := count > c.cfg.MaxErrorsPerHour
	last, seen := c.lastForwarded[key]
	inCooldown := seen && now.Sub(last) < c.cfg.Cooldown
	suppressed := overBudget || inCooldown
	if !suppressed {
		c.lastForwarded[key] = now
	}
	_, isCritical := c.critical[kind]
	crossed := count == c.cfg.CriticalThreshold
	c.mu.Unlock()

	decision := Decision{
		Suppressed: suppressed,
		Escalated:  isCritical || crossed,
		Count:      count,
	}
	c.record(adapter, kind, decision)

	if !suppressed {
		c.notify(crawler.NotifyError, adapter, kind, detail, count, now)
	}
	if decision.Escalated {
		c.notify(crawler.NotifyCritical, adapter, kind, detail, count, now)
	}
	return decision
}

// Budgets returns the current hourly counters, oldest windows included.
func (c *Classifier) Budgets() []Budget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Budget, 0, len(c.budgets))
	for _, b := range c.budgets {
		out = append(out, *b)
	}
	return out
}

func (c *Classifier) record(adapter string, kind crawler.FailureKind, d Decision) {
	outcome := "forwarded"
	if d.Suppressed {
		outcome = "suppressed"
	}
	metrics.ObserveErrorReport(adapter, string(kind), outcome)
	if d.Escalated {
		metrics.ObserveErrorReport(adapter, string(kind), "escalated")
	}
	fields := []zap.Field{
		zap.String("adapter", adapter),
		zap.String("kind", string(kind)),
		zap.Int("window_count", d.Count),
		zap.Bool("suppressed", d.Suppressed),
		zap.Bool("escalated", d.Escalated),
	}
	switch {
	case d.Escalated:
		c.logger.Error("critical failure", fields...)
	case d.Suppressed:
		c.logger.Debug("failure suppressed", fields...)
	default:
		c.logger.Warn("failure reported", fields...)
	}
}

func (c *Classifier) notify(
	kind crawler.NotificationKind,
	adapter string,
	failure crawler.FailureKind,
	detail string,
	count int,
	now time.Time,
) {
	if c.cfg.Notifier == nil {
		return
	}
	c.cfg.Notifier.Notify(crawler.Notification{
		Kind:    kind,
		At:      now,
		Adapter: adapter,
		Message: truncate(detail, 512),
		Fields: map[string]any{
			"failure_kind": string(failure),
			"window_count": count,
		},
	})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
