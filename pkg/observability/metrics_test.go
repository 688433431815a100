package observability

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{ServiceName: "test", ServiceVersion: "0.0.1"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordRequest("tools/call", nil, 40*time.Millisecond)
	m.RecordRequest("tools/call", fmt.Errorf("boom"), 10*time.Millisecond)
	m.RecordToolCall("echo", nil, 2*time.Millisecond)
	m.RecordNotification("notifications/progress")
	m.SessionOpened()
	m.StreamOpened()
	m.StreamClosed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`mcp_requests_total{method="tools/call",service="test",status="ok",version="0.0.1"} 1`,
		`mcp_requests_total{method="tools/call",service="test",status="error",version="0.0.1"} 1`,
		`mcp_tool_calls_total{service="test",status="ok",tool="echo",version="0.0.1"} 1`,
		`mcp_notifications_total{method="notifications/progress",service="test",version="0.0.1"} 1`,
		`mcp_active_sessions{service="test",version="0.0.1"} 1`,
		`mcp_open_sse_streams{service="test",version="0.0.1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	if _, err := NewMetrics(MetricsConfig{}); err != nil {
		t.Fatalf("first instance: %v", err)
	}
	if _, err := NewMetrics(MetricsConfig{}); err != nil {
		t.Fatalf("second instance: %v", err)
	}
}
