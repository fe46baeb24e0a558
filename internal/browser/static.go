package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrScriptsUnsupported is returned by static pages for Evaluate.
var ErrScriptsUnsupported = errors.New("static page cannot run scripts")

// StaticConfig controls the colly-backed page source.
type StaticConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Transport     http.RoundTripper
}

// Static implements crawler.Browser without a browser process: each page is
// a plain HTTP GET through colly. Pages cannot click or run scripts, so
// challenges only resolve when the site clears them on reload.
type Static struct {
	cfg  StaticConfig
	base *colly.Collector
}

var _ crawler.Browser = (*Static)(nil)

// NewStatic builds a Static page source.
func NewStatic(cfg StaticConfig) *Static {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Static{cfg: cfg, base: c}
}

// Acquire returns an empty page.
func (s *Static) Acquire(ctx context.Context) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire page: %w", err)
	}
	return &staticPage{source: s}, nil
}

type staticPage struct {
	source *Static

	mu   sync.RWMutex
	url  string
	body string
}

// Navigate fetches rawURL and keeps the body for HTML.
func (p *staticPage) Navigate(ctx context.Context, rawURL string) error {
	collector := p.source.base.Clone()
	collector.SetRequestTimeout(p.source.cfg.Timeout)

	var (
		finalURL string
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("navigate %s: %w", rawURL, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if status >= http.StatusBadRequest {
			return crawler.Fail(statusKind(status), "navigate", fmt.Errorf("%s returned HTTP %d", rawURL, status))
		}
		if err != nil {
			return crawler.Fail(crawler.KindNetwork, "navigate", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = finalURL
	p.body = string(body)
	return nil
}

func (p *staticPage) HTML(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.body, nil
}

func (p *staticPage) URL(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url, nil
}

// Click never matches on a static page.
func (p *staticPage) Click(context.Context, string) (bool, error) {
	return false, nil
}

func (p *staticPage) Evaluate(context.Context, string) error {
	return ErrScriptsUnsupported
}

func (p *staticPage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
