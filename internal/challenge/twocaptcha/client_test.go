package twocaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/challenge"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept int
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
	c.now = c.now.Add(d)
	c.slept++
	return nil
}

func writeJSON(w http.ResponseWriter, status int, request string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "request": request})
}

// TestSolveSubmitsAndPolls verifies the submit form and polling until ready.
func TestSolveSubmitsAndPolls(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "secret", r.PostForm.Get("key"))
			require.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
			require.Equal(t, "site-1", r.PostForm.Get("googlekey"))
			require.Equal(t, "https://example.com/item", r.PostForm.Get("pageurl"))
			writeJSON(w, 1, "42")
		case "/res.php":
			require.Equal(t, "42", r.URL.Query().Get("id"))
			require.Equal(t, "get", r.URL.Query().Get("action"))
			if polls.Add(1) < 3 {
				writeJSON(w, 0, "CAPCHA_NOT_READY")
				return
			}
			writeJSON(w, 1, "token-xyz")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Unix(0, 0)}
	c, err := New(Config{APIKey: "secret", Endpoint: srv.URL + "/", Clock: clock, HTTPClient: srv.Client()})
	require.NoError(t, err)

	token, err := c.Solve(context.Background(), challenge.Task{
		Provider: challenge.ProviderRecaptcha,
		SiteKey:  "site-1",
		PageURL:  "https://example.com/item",
	})
	require.NoError(t, err)
	require.Equal(t, "token-xyz", token)
	require.EqualValues(t, 3, polls.Load())
	require.Equal(t, 3, clock.slept)
}

// TestSolveGivesUpAfterMaxWait verifies polling is bounded.
func TestSolveGivesUpAfterMaxWait(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			writeJSON(w, 1, "7")
			return
		}
		writeJSON(w, 0, "CAPCHA_NOT_READY")
	}))
	defer srv.Close()

	clock := &fakeClock{}
	c, err := New(Config{
		APIKey:       "k",
		Endpoint:     srv.URL,
		PollInterval: 5 * time.Second,
		MaxWait:      20 * time.Second,
		Clock:        clock,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	_, err = c.Solve(context.Background(), challenge.Task{Provider: challenge.ProviderHCaptcha, SiteKey: "s"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 4, clock.slept)
}

// TestSolveSurfacesServiceErrors covers rejected submissions and failed tasks.
func TestSolveSurfacesServiceErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/in.php" {
			writeJSON(w, 0, "ERROR_ZERO_BALANCE")
			return
		}
		writeJSON(w, 0, "ERROR_CAPTCHA_UNSOLVABLE")
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "k", Endpoint: srv.URL, Clock: &fakeClock{}, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = c.Solve(context.Background(), challenge.Task{Provider: challenge.ProviderTurnstile, SiteKey: "s"})
	require.ErrorContains(t, err, "ERROR_ZERO_BALANCE")

	_, err = c.Solve(context.Background(), challenge.Task{Provider: challenge.ProviderGeneric})
	require.True(t, errors.Is(err, ErrUnsupportedProvider))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Clock: &fakeClock{}})
	require.Error(t, err)
	_, err = New(Config{APIKey: "k"})
	require.Error(t, err)
}
