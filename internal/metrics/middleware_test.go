package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestMiddlewareLabelsByRoutePattern verifies requests are counted by status
// code and timed under the chi route pattern rather than the raw path.
func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Put("/v1/sources/{name}/active", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	noContentBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "204"))
	notFoundBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	serve := func(method, path string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code
	}
	require.Equal(t, http.StatusOK, serve(http.MethodGet, "/v1/stats"))
	require.Equal(t, http.StatusNoContent, serve(http.MethodPut, "/v1/sources/cars/active"))
	require.Equal(t, http.StatusNoContent, serve(http.MethodPut, "/v1/sources/bikes/active"))
	require.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/v1/nowhere"))

	require.InDelta(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0)
	require.InDelta(t, noContentBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "204")), 0)
	require.InDelta(t, notFoundBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 0)

	// Both source names share one pattern series; the miss falls under "unknown".
	require.Equal(t, seriesBefore+3, testutil.CollectAndCount(httpRequestDurationSeconds))
}
