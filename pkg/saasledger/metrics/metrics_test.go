package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Instrument())
	r.GET("/apps/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/apps/:id", "204"))

	for _, id := range []string{"1", "2", "3"} {
		req, _ := http.NewRequest("GET", "/apps/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/apps/:id", "204"))
	if after-before != 3 {
		t.Errorf("Expected 3 requests counted under the route pattern, got %v", after-before)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	AuditEvents.WithLabelValues("LOGIN").Inc()

	resp := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "saasledger_audit_events_total") {
		t.Error("Expected audit counter in exposition")
	}
}
