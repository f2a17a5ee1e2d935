package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAddCounterRejectsNegativeDelta(t *testing.T) {
	r := New(nil)
	defer r.Stop()

	err := r.AddCounter("pg_query_count", "help", map[string]string{"backend": "pg0"}, -1)
	require.Error(t, err)
}

func TestAddCounterAccumulates(t *testing.T) {
	r := New(nil)
	defer r.Stop()

	require.NoError(t, r.AddCounter("pg_query_count", "help", map[string]string{"backend": "pg0"}, 3))
	require.NoError(t, r.AddCounter("pg_query_count", "help", map[string]string{"backend": "pg0"}, 2))

	body := scrape(t, r)
	require.Contains(t, body, `pg_query_count{backend="pg0"} 5`)
}

func TestFixedLabelsAppliedToEverySeries(t *testing.T) {
	r := New(map[string]string{"datacenter": "us-east"})
	defer r.Stop()

	require.NoError(t, r.AddCounter("pg_query_count", "help", map[string]string{"backend": "pg0"}, 1))

	body := scrape(t, r)
	require.Contains(t, body, `datacenter="us-east"`)
}

func TestGaugeExpiresAfterPeriod(t *testing.T) {
	r := New(nil)
	defer r.Stop()

	require.NoError(t, r.SetGauge("pg_stat_progress_vacuum_num_dead_tuples", "help",
		map[string]string{"backend": "pg0"}, 42, true, 10*time.Millisecond))

	body := scrape(t, r)
	require.Contains(t, body, "pg_stat_progress_vacuum_num_dead_tuples")

	require.Eventually(t, func() bool {
		return !strings.Contains(scrape(t, r), "pg_stat_progress_vacuum_num_dead_tuples{")
	}, 3*time.Second, minSweepInterval+50*time.Millisecond)
}

func TestScrapeRejectsNonGET(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(nil)
	defer r.Stop()

	router := gin.New()
	r.RegisterRoute(router, "/metrics")

	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestScrapeReturnsTextFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(nil)
	defer r.Stop()

	require.NoError(t, r.AddCounter("pg_query_count", "help", map[string]string{"backend": "pg0"}, 1))

	router := gin.New()
	r.RegisterRoute(router, "/metrics")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, w.Body.String(), "pg_query_count")
}

func scrape(t *testing.T, r *Registry) string {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	r.RegisterRoute(router, "/metrics")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}
