package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.POST("/webhooks/paystack", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/paystack", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/webhooks/paystack", http.MethodPost, "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := newHTTPMetrics(registry, Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := newHTTPMetrics(registry, Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("expected re-registration to succeed, got %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected the existing collector to be reused")
	}
}
