package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProviderMetrics_ObserveChat(t *testing.T) {
	pm := New("chatrelay")

	pm.ObserveChat("openai", "gpt-4o-mini", 120*time.Millisecond, true, "")
	pm.ObserveChat("openai", "gpt-4o-mini", 80*time.Millisecond, true, "")
	pm.ObserveChat("gemini", "", time.Second, false, "protocol")

	if got := testutil.ToFloat64(pm.requests.WithLabelValues("openai", "gpt-4o-mini", OutcomeSuccess)); got != 2 {
		t.Errorf("openai successes: got %v", got)
	}
	if got := testutil.ToFloat64(pm.requests.WithLabelValues("gemini", "default", OutcomeError)); got != 1 {
		t.Errorf("gemini failures: got %v", got)
	}
	if got := testutil.ToFloat64(pm.errors.WithLabelValues("gemini", "protocol")); got != 1 {
		t.Errorf("gemini errors: got %v", got)
	}
	if got := testutil.CollectAndCount(pm.latency); got != 2 {
		t.Errorf("latency series: got %d", got)
	}
}

func TestProviderMetrics_Available(t *testing.T) {
	pm := New("chatrelay")
	pm.SetAvailable("claude", true)
	if got := testutil.ToFloat64(pm.available.WithLabelValues("claude")); got != 1 {
		t.Fatalf("available: got %v", got)
	}
	pm.SetAvailable("claude", false)
	if got := testutil.ToFloat64(pm.available.WithLabelValues("claude")); got != 0 {
		t.Fatalf("available: got %v", got)
	}
}

func TestProviderMetrics_NilIsNoop(t *testing.T) {
	var pm *ProviderMetrics
	pm.ObserveChat("openai", "gpt-4o", time.Second, true, "")
	pm.SetAvailable("openai", true)

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestProviderMetrics_Handler(t *testing.T) {
	pm := New("chatrelay")
	pm.ObserveChat("deepseek", "deepseek-chat", time.Second, true, "")

	srv := httptest.NewServer(pm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `chatrelay_provider_requests_total{model="deepseek-chat",outcome="success",provider="deepseek"} 1`) {
		t.Fatalf("exposition missing request counter:\n%s", body)
	}
}
