package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServerEndpoints(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zerolog.Nop())

	SessionsFlushed.Inc()
	WeeklyResets.WithLabelValues("success").Inc()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("unexpected health response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	for _, name := range []string{"basetrack_sessions_flushed_total", `basetrack_weekly_resets_total{result="success"}`} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
