package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestStaticPageFetchesHTML(t *testing.T) {
	t.Parallel()

	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><h1>Blue bike</h1></html>`))
	}))
	defer srv.Close()

	b := NewStatic(StaticConfig{UserAgent: "listing-bot/1.0"})
	page, err := b.Acquire(context.Background())
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(context.Background(), srv.URL+"/item/1"))
	html, err := page.HTML(context.Background())
	require.NoError(t, err)
	require.Contains(t, html, "Blue bike")
	require.Equal(t, "listing-bot/1.0", agent)
	got, err := page.URL(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/item/1", got)

	clicked, err := page.Click(context.Background(), "button")
	require.NoError(t, err)
	require.False(t, clicked)
	require.ErrorIs(t, page.Evaluate(context.Background(), "1+1"), ErrScriptsUnsupported)
}

func TestStaticPageClassifiesStatus(t *testing.T) {
	t.Parallel()

	codes := map[string]int{"/gone": http.StatusNotFound, "/busy": http.StatusServiceUnavailable}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(codes[r.URL.Path])
	}))
	defer srv.Close()

	b := NewStatic(StaticConfig{})
	page, err := b.Acquire(context.Background())
	require.NoError(t, err)
	defer page.Close()

	err = page.Navigate(context.Background(), srv.URL+"/gone")
	require.Equal(t, crawler.KindNavigation, crawler.KindOf(err))
	err = page.Navigate(context.Background(), srv.URL+"/busy")
	require.Equal(t, crawler.KindNetwork, crawler.KindOf(err))
}

func TestStaticAcquireHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(StaticConfig{}).Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
