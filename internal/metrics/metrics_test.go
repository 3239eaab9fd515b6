package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestStartMetricsServer(t *testing.T) {
	port, err := StartMetricsServer(0)
	if err != nil {
		t.Fatalf("start err: %v", err)
	}
	if port <= 0 {
		t.Fatalf("expected real port, got %d", port)
	}

	// 打一些指标，确认能在 /metrics 上看到
	SetStreamConnected("price", "BTC-USDT", true)
	RecordStreamMessage("price", "price_update", 128)
	RecordStaleDropped("price")
	RecordError("ws_disconnect", "BTC-USDT")
	UpdateBookMetrics("BTC-USDT", 50000, 2)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, name := range []string{
		"finora_stream_connected",
		"finora_stream_messages_total",
		"finora_stream_stale_dropped_total",
		"finora_error_count_total",
		"finora_book_mid_price",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metric %s missing from /metrics output", name)
		}
	}
}
