package selector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const defaultRequestTimeout = 15 * time.Second

// Config carries process-wide adapter settings.
type Config struct {
	UserAgent string
	Transport http.RoundTripper
	Now       func() time.Time
	Logger    *zap.Logger
}

// Adapter implements crawler.Adapter for one Definition.
type Adapter struct {
	def    Definition
	cfg    Config
	logger *zap.Logger
}

var (
	_ crawler.Adapter             = (*Adapter)(nil)
	_ crawler.SourceDescriber     = (*Adapter)(nil)
	_ crawler.AvailabilityChecker = (*Adapter)(nil)
)

// New validates def and builds an Adapter.
func New(def Definition, cfg Config) (*Adapter, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.UserAgent == "" {
		def.UserAgent = cfg.UserAgent
	}
	if def.RequestTimeout <= 0 {
		def.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{def: def, cfg: cfg, logger: logger.With(zap.String("adapter", def.Name))}, nil
}

// FromDefinitions builds one adapter per definition.
func FromDefinitions(defs []Definition, cfg Config) ([]crawler.Adapter, error) {
	out := make([]crawler.Adapter, 0, len(defs))
	for _, def := range defs {
		a, err := New(def, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Name returns the unique source name.
func (a *Adapter) Name() string { return a.def.Name }

// Source describes the adapter for source seeding.
func (a *Adapter) Source() crawler.Source {
	display := a.def.DisplayName
	if display == "" {
		display = a.def.Name
	}
	return crawler.Source{Name: a.def.Name, DisplayName: display, BaseURL: a.def.BaseURL, Active: true}
}

// Available sends a HEAD request to ProbeURL when one is configured.
func (a *Adapter) Available(ctx context.Context) error {
	if a.def.ProbeURL == "" {
		return nil
	}
	c := a.collector(ctx)
	var probeErr error
	c.OnError(func(r *colly.Response, err error) {
		probeErr = statusFailure("probe", r, err)
	})
	if err := c.Head(a.def.ProbeURL); err != nil && probeErr == nil {
		probeErr = crawler.Fail(crawler.KindNetwork, "probe", err)
	}
	return probeErr
}

// ListCandidates walks the index pages from StartURLs, following
// NextSelector until MaxPages, and yields each listing link once. Each call
// starts a fresh walk.
func (a *Adapter) ListCandidates(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		queue := slices.Clone(a.def.StartURLs)
		visitedPages := make(map[string]struct{})
		seen := make(map[string]struct{})
		pages := 0
		for len(queue) > 0 {
			if a.def.MaxPages > 0 && pages >= a.def.MaxPages {
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", crawler.Fail(crawler.KindCanceled, "list", err))
				return
			}
			pageURL := queue[0]
			queue = queue[1:]
			if _, ok := visitedPages[pageURL]; ok {
				continue
			}
			visitedPages[pageURL] = struct{}{}
			pages++

			links, next, err := a.scrapeIndex(ctx, pageURL)
			if err != nil {
				yield("", err)
				return
			}
			a.logger.Debug("index page scraped",
				zap.String("page", pageURL), zap.Int("links", len(links)), zap.Bool("has_next", next != ""))
			for _, link := range links {
				if _, ok := seen[link]; ok {
					continue
				}
				seen[link] = struct{}{}
				if !yield(link, nil) {
					return
				}
			}
			if next != "" {
				queue = append(queue, next)
			}
		}
	}
}

func (a *Adapter) scrapeIndex(ctx context.Context, pageURL string) ([]string, string, error) {
	var (
		links    []string
		next     string
		visitErr error
	)
	c := a.collector(ctx)
	c.OnHTML(a.def.LinkSelector, func(e *colly.HTMLElement) {
		if abs, err := crawler.NormalizeURL(e.Request.AbsoluteURL(e.Attr("href"))); err == nil {
			links = append(links, abs)
		}
	})
	if a.def.NextSelector != "" {
		c.OnHTML(a.def.NextSelector, func(e *colly.HTMLElement) {
			if next != "" {
				return
			}
			if abs, err := crawler.NormalizeURL(e.Request.AbsoluteURL(e.Attr("href"))); err == nil {
				next = abs
			}
		})
	}
	c.OnError(func(r *colly.Response, err error) {
		visitErr = statusFailure("list", r, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return nil, "", crawler.Fail(crawler.KindCanceled, "list", ctx.Err())
	case err := <-done:
		if visitErr != nil {
			return nil, "", visitErr
		}
		if err != nil {
			return nil, "", crawler.Fail(visitKind(err), "list", err)
		}
	}
	return links, next, nil
}

func (a *Adapter) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	c.IgnoreRobotsTxt = !a.def.RespectRobots
	if a.def.UserAgent != "" {
		c.UserAgent = a.def.UserAgent
	}
	c.SetRequestTimeout(a.def.RequestTimeout)
	if a.cfg.Transport != nil {
		c.WithTransport(a.cfg.Transport)
	}
	return c
}

// FetchRecord extracts a listing from the already navigated page.
func (a *Adapter) FetchRecord(ctx context.Context, page crawler.Page, url string) (crawler.Listing, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return crawler.Listing{}, crawler.Fail(crawler.KindNavigation, "read page", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.Listing{}, crawler.Fail(crawler.KindExtraction, "parse page", err)
	}

	listing := crawler.Listing{
		URL:         url,
		SourceName:  a.def.Name,
		Title:       selectValue(doc, a.def.Fields.Title),
		Location:    selectValue(doc, a.def.Fields.Location),
		Description: selectValue(doc, a.def.Fields.Description),
		ScrapedAt:   a.cfg.Now().UTC(),
	}
	priceText := selectValue(doc, a.def.Fields.Price)
	if price, ok := parsePrice(priceText); ok {
		listing.Price = price
	}
	listing.Currency = selectValue(doc, a.def.Fields.Currency)
	if listing.Currency == "" {
		listing.Currency = currencyFromText(priceText)
	}
	if listing.Currency == "" {
		listing.Currency = a.def.DefaultCurrency
	}
	if len(a.def.Attributes) > 0 {
		listing.Attributes = make(map[string]string, len(a.def.Attributes))
		for key, sel := range a.def.Attributes {
			if v := selectValue(doc, sel); v != "" {
				listing.Attributes[key] = v
			}
		}
	}
	if a.def.PhotoSelector != "" {
		listing.Photos = a.photos(doc, url)
	}
	return listing, nil
}

func (a *Adapter) photos(doc *goquery.Document, pageURL string) []string {
	sel, attr := splitSpec(a.def.PhotoSelector)
	if attr == "" {
		attr = "src"
	}
	var out []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr(attr)
		if !ok {
			src, ok = s.Attr("data-src")
		}
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		if abs, err := crawler.ResolveURL(pageURL, src); err == nil {
			out = append(out, abs)
		}
	})
	return out
}

// Validate checks identity plus the definition's required fields.
func (a *Adapter) Validate(l crawler.Listing) bool {
	if !l.HasIdentity() {
		return false
	}
	for _, field := range a.def.Required {
		switch field {
		case "price":
			if l.Price == nil || *l.Price < 0 {
				return false
			}
		case "currency":
			if l.Currency == "" {
				return false
			}
		case "location":
			if l.Location == "" {
				return false
			}
		case "description":
			if l.Description == "" {
				return false
			}
		case "photos":
			if len(l.Photos) == 0 {
				return false
			}
		default:
			if l.Attributes[field] == "" {
				return false
			}
		}
	}
	return true
}

// Normalize tidies text fields, uppercases the currency and removes
// duplicate photos while keeping their order.
func (a *Adapter) Normalize(l crawler.Listing) crawler.Listing {
	l.Title = collapse(l.Title)
	l.Location = collapse(l.Location)
	l.Description = strings.TrimSpace(l.Description)
	l.Currency = strings.ToUpper(strings.TrimSpace(l.Currency))
	if l.SourceName == "" {
		l.SourceName = a.def.Name
	}
	for k, v := range l.Attributes {
		l.Attributes[k] = collapse(v)
	}
	if len(l.Photos) > 0 {
		seen := make(map[string]struct{}, len(l.Photos))
		photos := l.Photos[:0:0]
		for _, p := range l.Photos {
			if _, dup := seen[p]; dup || p == "" {
				continue
			}
			seen[p] = struct{}{}
			photos = append(photos, p)
		}
		l.Photos = photos
	}
	return l
}

func statusFailure(op string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode != 0 {
		kind := crawler.KindNavigation
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= http.StatusInternalServerError {
			kind = crawler.KindNetwork
		}
		return crawler.Fail(kind, op, fmt.Errorf("http status %d: %w", r.StatusCode, err))
	}
	return crawler.Fail(visitKind(err), op, err)
}

func visitKind(err error) crawler.FailureKind {
	if errors.Is(err, colly.ErrForbiddenDomain) || errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return crawler.KindNavigation
	}
	if kind := crawler.KindOf(err); kind != crawler.KindUnknown {
		return kind
	}
	return crawler.KindNetwork
}
