// Package twocaptcha implements a challenge solver backed by the 2Captcha
// HTTP API.
package twocaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/challenge"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	// DefaultEndpoint is the public 2Captcha API host.
	DefaultEndpoint     = "https://2captcha.com"
	defaultPollInterval = 5 * time.Second
	defaultMaxWait      = 120 * time.Second
	notReady            = "CAPCHA_NOT_READY"
)

// ErrUnsupportedProvider is returned for challenges the service cannot solve.
var ErrUnsupportedProvider = errors.New("provider not supported by 2captcha")

// Config configures the client.
type Config struct {
	APIKey       string
	Endpoint     string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTPClient   *http.Client
	Clock        crawler.Clock
	Logger       *zap.Logger
}

// Client submits tasks and polls for tokens.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

var _ challenge.Solver = (*Client)(nil)

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// New builds a Client. APIKey and Clock are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("2captcha api key is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger.Named("twocaptcha")}, nil
}

// Solve submits task and waits for a token until MaxWait elapses.
func (c *Client) Solve(ctx context.Context, task challenge.Task) (string, error) {
	form, err := c.submitForm(task)
	if err != nil {
		return "", err
	}
	submitted, err := c.call(ctx, http.MethodPost, c.cfg.Endpoint+"/in.php", form)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if submitted.Status != 1 {
		return "", fmt.Errorf("submit task: %s", submitted.Request)
	}
	taskID := submitted.Request
	c.logger.Debug("task submitted", zap.String("task_id", taskID), zap.String("provider", string(task.Provider)))

	deadline := c.cfg.Clock.Now().Add(c.cfg.MaxWait)
	query := url.Values{
		"key":    {c.cfg.APIKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	for {
		remaining := deadline.Sub(c.cfg.Clock.Now())
		if remaining <= 0 {
			return "", fmt.Errorf("task %s: %w", taskID, context.DeadlineExceeded)
		}
		if err := c.cfg.Clock.Sleep(ctx, min(c.cfg.PollInterval, remaining)); err != nil {
			return "", err
		}
		res, err := c.call(ctx, http.MethodGet, c.cfg.Endpoint+"/res.php?"+query.Encode(), nil)
		if err != nil {
			return "", fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		if res.Request != notReady {
			return "", fmt.Errorf("task %s: %s", taskID, res.Request)
		}
	}
}

func (c *Client) submitForm(task challenge.Task) (url.Values, error) {
	form := url.Values{
		"key":     {c.cfg.APIKey},
		"pageurl": {task.PageURL},
		"json":    {"1"},
	}
	switch task.Provider {
	case challenge.ProviderRecaptcha:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", task.SiteKey)
	case challenge.ProviderHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", task.SiteKey)
	case challenge.ProviderTurnstile, challenge.ProviderCloudflare:
		form.Set("method", "turnstile")
		form.Set("sitekey", task.SiteKey)
	default:
		return nil, fmt.Errorf("%q: %w", task.Provider, ErrUnsupportedProvider)
	}
	return form, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, form url.Values) (apiResponse, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return apiResponse{}, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiResponse{}, fmt.Errorf("http status %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apiResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
