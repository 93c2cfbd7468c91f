package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/observability"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	_ "github.com/odyssey-erp/odyssey-billing/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "false")
	assert.False(t, InTestMode())
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("bill paid", slog.Int64("bill_id", 3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "bill paid", rec["msg"])
	assert.Equal(t, float64(3), rec["bill_id"])

	buf.Reset()
	newLogger(&buf, &Config{LogLevel: "nonsense"}).Info("kept")
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRICING_SUBTOTAL_POLICY", "gross_item_amounts")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 5, cfg.NumberingMaxAttempts)
	assert.Equal(t, "45 2 * * *", cfg.FinderFeeSweepCron)
	assert.Equal(t, 4, cfg.FinderFeeSweepConcurrency)
	assert.False(t, cfg.IsProduction())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, pricing.SubtotalGrossItemAmounts, policy)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"PRICING_SUBTOTAL_POLICY":      "sideways",
		"NUMBERING_MAX_ATTEMPTS":       "0",
		"FINDER_FEE_SWEEP_CONCURRENCY": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:  &Config{RateLimitPerMinute: 1000},
		Metrics: observability.NewMetrics(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odyssey_http_requests_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/proposals", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Config: &Config{RateLimitPerMinute: 2}}) {
		r.Use(mw)
	}
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
