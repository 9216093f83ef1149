package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/orders", "POST", 200)
	c.RecordRequest("/orders", "POST", 200)
	c.RecordRequest("/orders", "POST", 500)

	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("/orders", "POST", "200")); got != 2 {
		t.Errorf("200 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("/orders", "POST", "500")); got != 1 {
		t.Errorf("500 count = %v, want 1", got)
	}
}

func TestRecordColdStart(t *testing.T) {
	c := NewCollector()
	c.RecordColdStart("wasm", 120*time.Millisecond, nil)
	c.RecordColdStart("unix_socket", 0, http.ErrServerClosed)

	if got := testutil.ToFloat64(c.coldStartsTotal.WithLabelValues("wasm", "success")); got != 1 {
		t.Errorf("wasm success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.coldStartsTotal.WithLabelValues("unix_socket", "error")); got != 1 {
		t.Errorf("unix_socket error = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/x", "GET", 200)
	c.RecordInvocation("/x", "wasm", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"fngate_requests_total",
		"fngate_invocation_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("output missing %s", metric)
		}
	}
}
