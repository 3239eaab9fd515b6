package main

import (
	"testing"
	"time"

	"github.com/finora/market-stream/internal/config"
)

func TestResolveMetricsPort(t *testing.T) {
	// 命令行端口优先
	if got := resolveMetricsPort(9100, 9200); got != 9100 {
		t.Errorf("expected flag port 9100, got %d", got)
	}
	// 未指定时回落到配置值
	if got := resolveMetricsPort(0, 9200); got != 9200 {
		t.Errorf("expected config port 9200, got %d", got)
	}
	// 两边都没给则随机端口
	if got := resolveMetricsPort(0, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestReconnectConfigConversion(t *testing.T) {
	rc := reconnectConfig(config.ReconnectConfig{
		MaxRetries:     3,
		InitialDelayMs: 500,
		MaxDelayMs:     30000,
		BackoffFactor:  1.5,
		PingIntervalMs: 10000,
		PongWaitMs:     15000,
		WriteWaitMs:    5000,
	})

	if rc.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", rc.MaxRetries)
	}
	if rc.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected initial delay 500ms, got %v", rc.InitialDelay)
	}
	if rc.MaxDelay != 30*time.Second {
		t.Errorf("expected max delay 30s, got %v", rc.MaxDelay)
	}
	if rc.BackoffFactor != 1.5 {
		t.Errorf("expected backoff factor 1.5, got %v", rc.BackoffFactor)
	}
	if rc.PingInterval != 10*time.Second || rc.PongWait != 15*time.Second || rc.WriteWait != 5*time.Second {
		t.Errorf("unexpected heartbeat conversion: %+v", rc)
	}
}
