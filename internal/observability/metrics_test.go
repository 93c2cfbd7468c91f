package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Jobs().Track("finderfees:calculate").End(nil))
	metrics.Jobs().RecordFinderFeeOutcome("no_finders", 0)

	body := scrape(t, metrics)
	assert.Contains(t, body, `odyssey_jobs_total{job="finderfees:calculate",status="success"} 1`)
	assert.Contains(t, body, `odyssey_finder_fee_calculations_total{outcome="no_finders"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/proposals/{id}")
	req := httptest.NewRequest(http.MethodGet, "/proposals/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `odyssey_http_requests_total{code="418",method="GET",route="/proposals/{id}"} 1`)
	assert.Contains(t, body, `odyssey_http_request_duration_seconds_bucket{route="/proposals/{id}"`)
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Nil(t, metrics.Jobs())
}
