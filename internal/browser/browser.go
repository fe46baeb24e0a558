// Package browser hands out chromedp tabs as crawler pages.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/classifier"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultNavTimeout      = 45 * time.Second
	defaultSelectorTimeout = 10 * time.Second
)

// Config controls the headless browser.
type Config struct {
	UserAgent       string
	NavTimeout      time.Duration
	SelectorTimeout time.Duration
	Headless        bool
	Logger          *zap.Logger
}

// Chrome implements crawler.Browser and crawler.Recycler with one shared
// browser process. Each Acquire opens a new tab.
type Chrome struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var (
	_ crawler.Browser  = (*Chrome)(nil)
	_ crawler.Recycler = (*Chrome)(nil)
)

// New prepares an allocator. Chrome itself starts on the first Acquire.
func New(cfg Config) *Chrome {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = defaultSelectorTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chrome{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Acquire opens a new tab. The caller must Close the returned page.
func (c *Chrome) Acquire(ctx context.Context) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent, err := c.ensureBrowser()
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(parent)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, crawler.Fail(crawler.KindResourceExhaustion, "open tab", err)
	}
	p := &page{ctx: tabCtx, cancel: cancel, cfg: c.cfg, meta: newResponseMeta()}
	chromedp.ListenTarget(tabCtx, p.meta.captureEvent)
	return p, nil
}

// Recycle tears down the browser process. The next Acquire starts a new one.
func (c *Chrome) Recycle(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCancel == nil {
		return nil
	}
	c.browserCancel()
	c.browserCtx, c.browserCancel = nil, nil
	c.logger.Info("browser context recycled")
	return nil
}

// Close stops the browser and its allocator.
func (c *Chrome) Close() {
	_ = c.Recycle(context.Background())
	c.allocCancel()
}

func (c *Chrome) ensureBrowser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}
	browserCtx, cancel := chromedp.NewContext(c.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, crawler.Fail(crawler.KindResourceExhaustion, "start browser", err)
	}
	c.browserCtx, c.browserCancel = browserCtx, cancel
	c.logger.Info("browser started", zap.Bool("headless", c.cfg.Headless))
	return browserCtx, nil
}

// page is one chromedp tab. Operations are bounded by their own timeouts and
// also end when the caller's ctx does.
type page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	meta      *responseMeta
	closeOnce sync.Once
}

func (p *page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *page) Navigate(ctx context.Context, url string) error {
	p.meta.reset()
	err := p.run(ctx, p.cfg.NavTimeout,
		p.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return crawler.Fail(navigationKind(err), "navigate", err)
	}
	if status := p.meta.status(); status >= http.StatusBadRequest {
		return crawler.Fail(statusKind(status), "navigate", fmt.Errorf("http status %d", status))
	}
	return nil
}

func (p *page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.cfg.SelectorTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (p *page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.cfg.SelectorTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *page) Click(ctx context.Context, selector string) (bool, error) {
	var found bool
	probe := chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		found = len(nodes) > 0
		return nil
	})
	if err := p.run(ctx, p.cfg.SelectorTimeout, probe); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	if !found {
		return false, nil
	}
	if err := p.run(ctx, p.cfg.SelectorTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

func (p *page) Evaluate(ctx context.Context, script string) error {
	if err := p.run(ctx, p.cfg.SelectorTimeout, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close releases the tab. Safe to call more than once.
func (p *page) Close() {
	p.closeOnce.Do(p.cancel)
}

func (p *page) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// navigationKind keeps Chrome's net::ERR_* timeouts, network errors and
// crashes out of the generic navigation bucket.
func navigationKind(err error) crawler.FailureKind {
	if kind := classifier.Classify(err); kind != crawler.KindUnknown {
		return kind
	}
	return crawler.KindNavigation
}

func statusKind(status int) crawler.FailureKind {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return crawler.KindNetwork
	}
	return crawler.KindNavigation
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu   sync.RWMutex
	code int
	url  string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.code, m.url = 0, ""
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}
