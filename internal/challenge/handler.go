// Package challenge detects anti-bot challenges on loaded pages and drives
// them to resolution or timeout.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Phase is a challenge handling state.
type Phase string

// Challenge handling states.
const (
	PhaseNone               Phase = "none"
	PhaseDetected           Phase = "detected"
	PhaseAutoSolveAttempted Phase = "auto_solve_attempted"
	PhaseAwaitingManual     Phase = "awaiting_manual"
	PhaseResolved           Phase = "resolved"
	PhaseTimedOut           Phase = "timed_out"
)

const (
	defaultMaxWait      = 60 * time.Second
	defaultPollInterval = 3 * time.Second
)

// DefaultConfirmSelectors are clicked opportunistically while waiting.
var DefaultConfirmSelectors = []string{
	`#challenge-stage input[type="button"]`,
	`button[type="submit"][id*="verify"]`,
	`button[class*="confirm"]`,
	`input[type="submit"][value*="Verify"]`,
}

// State is the per-page challenge record.
type State struct {
	Phase      Phase
	Provider   Provider
	DetectedAt time.Time
	Deadline   time.Time
	// Snapshot is the URI of the saved page HTML after a timeout, if any.
	Snapshot string
}

// Resolved reports whether the caller may continue with the page.
func (s State) Resolved() bool {
	return s.Phase == PhaseNone || s.Phase == PhaseResolved
}

// Config wires the handler. Solver, Notifier and Snapshots are optional.
type Config struct {
	MaxWait          time.Duration
	PollInterval     time.Duration
	ConfirmSelectors []string
	Detector         *Detector
	Solver           Solver
	Notifier         crawler.Notifier
	Snapshots        crawler.BlobStore
	Hasher           crawler.Hasher
	Clock            crawler.Clock
	Logger           *zap.Logger
}

// Handler runs the challenge state machine for one page at a time.
type Handler struct {
	cfg    Config
	logger *zap.Logger
}

// NewHandler builds a Handler with defaults applied.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConfirmSelectors == nil {
		cfg.ConfirmSelectors = DefaultConfirmSelectors
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(nil, nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, logger: logger}, nil
}

// Resolve inspects page and, when a challenge is present, tries the solver
// once and then polls until the challenge clears or MaxWait elapses. Errors
// are returned only for page failures before detection or a done ctx.
func (h *Handler) Resolve(ctx context.Context, page crawler.Page, adapter, url string) (State, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read page for challenge detection: %w", err)
	}
	det := h.cfg.Detector.Detect(html)
	if !det.Detected {
		return State{Phase: PhaseNone}, nil
	}

	now := h.cfg.Clock.Now()
	state := State{
		Phase:      PhaseDetected,
		Provider:   det.Provider,
		DetectedAt: now,
		Deadline:   now.Add(h.cfg.MaxWait),
	}
	logger := h.logger.With(
		zap.String("adapter", adapter),
		zap.String("url", url),
		zap.String("provider", string(det.Provider)),
	)
	logger.Warn("challenge detected", zap.String("signal", det.Signal))
	h.notify(adapter, url, det)

	if h.cfg.Solver != nil && det.SiteKey != "" {
		state.Phase = PhaseAutoSolveAttempted
		if h.autoSolve(ctx, page, url, det, logger) {
			return h.finish(state, PhaseResolved, logger), nil
		}
	}

	state.Phase = PhaseAwaitingManual
	for {
		h.clickConfirm(ctx, page, logger)
		remaining := state.Deadline.Sub(h.cfg.Clock.Now())
		if remaining <= 0 {
			break
		}
		if err := h.cfg.Clock.Sleep(ctx, min(h.cfg.PollInterval, remaining)); err != nil {
			return state, fmt.Errorf("challenge wait: %w", err)
		}
		current, err := page.HTML(ctx)
		if err != nil {
			logger.Debug("challenge poll read failed", zap.Error(err))
			continue
		}
		if !h.cfg.Detector.Detect(current).Detected {
			return h.finish(state, PhaseResolved, logger), nil
		}
	}

	state = h.finish(state, PhaseTimedOut, logger)
	state.Snapshot = h.snapshot(ctx, page, adapter, url, logger)
	return state, nil
}

func (h *Handler) autoSolve(
	ctx context.Context,
	page crawler.Page,
	url string,
	det Detection,
	logger *zap.Logger,
) bool {
	token, err := h.cfg.Solver.Solve(ctx, Task{Provider: det.Provider, SiteKey: det.SiteKey, PageURL: url})
	if err != nil {
		logger.Warn("automated solve failed", zap.Error(err))
		return false
	}
	script, err := injectionScript(det.Provider, token)
	if err != nil {
		logger.Warn("build injection script failed", zap.Error(err))
		return false
	}
	if err := page.Evaluate(ctx, script); err != nil {
		logger.Warn("apply solver token failed", zap.Error(err))
		return false
	}
	h.clickConfirm(ctx, page, logger)
	html, err := page.HTML(ctx)
	if err != nil {
		return false
	}
	return !h.cfg.Detector.Detect(html).Detected
}

func (h *Handler) clickConfirm(ctx context.Context, page crawler.Page, logger *zap.Logger) {
	for _, sel := range h.cfg.ConfirmSelectors {
		clicked, err := page.Click(ctx, sel)
		if err != nil {
			logger.Debug("confirm click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if clicked {
			logger.Debug("confirm affordance clicked", zap.String("selector", sel))
			return
		}
	}
}

func (h *Handler) finish(state State, phase Phase, logger *zap.Logger) State {
	state.Phase = phase
	waited := h.cfg.Clock.Now().Sub(state.DetectedAt)
	metrics.ObserveChallenge(string(state.Provider), string(phase))
	if phase == PhaseResolved {
		logger.Info("challenge resolved", zap.Duration("waited", waited))
	} else {
		logger.Warn("challenge timed out", zap.Duration("waited", waited))
	}
	return state
}

func (h *Handler) notify(adapter, url string, det Detection) {
	if h.cfg.Notifier == nil {
		return
	}
	h.cfg.Notifier.Notify(crawler.Notification{
		Kind:    crawler.NotifyChallengeDetected,
		At:      h.cfg.Clock.Now(),
		Adapter: adapter,
		URL:     url,
		Message: fmt.Sprintf("%s challenge detected", providerLabel(det.Provider)),
		Fields: map[string]any{
			"provider":     string(det.Provider),
			"signal":       det.Signal,
			"auto_solving": h.cfg.Solver != nil && det.SiteKey != "",
		},
	})
}

func (h *Handler) snapshot(
	ctx context.Context,
	page crawler.Page,
	adapter, url string,
	logger *zap.Logger,
) string {
	if h.cfg.Snapshots == nil || h.cfg.Hasher == nil {
		return ""
	}
	html, err := page.HTML(ctx)
	if err != nil {
		logger.Debug("snapshot read failed", zap.Error(err))
		return ""
	}
	digest, err := h.cfg.Hasher.Hash([]byte(url))
	if err != nil {
		return ""
	}
	path := fmt.Sprintf("challenges/%s/%s.html", adapter, digest)
	uri, err := h.cfg.Snapshots.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return ""
	}
	logger.Info("challenge snapshot stored", zap.String("uri", uri))
	return uri
}

func providerLabel(p Provider) string {
	if p == ProviderNone {
		return string(ProviderGeneric)
	}
	return string(p)
}
