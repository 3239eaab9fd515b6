package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/stream"
)

// fakeStream 返回固定状态，记录 Reconnect 次数
type fakeStream struct {
	state      stream.State
	reconnects int64
}

func (f *fakeStream) State() stream.State { return f.state }
func (f *fakeStream) Reconnect()          { atomic.AddInt64(&f.reconnects, 1) }

func (f *fakeStream) reconnectCount() int64 {
	return atomic.LoadInt64(&f.reconnects)
}

func TestWatchdogReconnectsStaleStream(t *testing.T) {
	stale := &fakeStream{state: stream.State{
		Key:       market.PriceKey("BTC/USDT"),
		Connected: true,
		LastRecv:  time.Now().Add(-time.Minute),
	}}

	w := NewWatchdog(Config{CheckInterval: time.Hour, StaleThreshold: 10 * time.Second})
	w.Watch("price/BTC-USDT", stale)

	w.checkAll()
	if stale.reconnectCount() != 1 {
		t.Errorf("expected 1 reconnect, got %d", stale.reconnectCount())
	}
}

func TestWatchdogIgnoresHealthyAndDisconnected(t *testing.T) {
	fresh := &fakeStream{state: stream.State{
		Key:       market.PriceKey("BTC/USDT"),
		Connected: true,
		LastRecv:  time.Now(),
	}}
	// 断线中的通道自己会退避重连，看门狗不插手
	down := &fakeStream{state: stream.State{
		Key:       market.PriceKey("ETH/USDT"),
		Connected: false,
		LastRecv:  time.Now().Add(-time.Minute),
	}}
	// 还没收到过任何消息的新连接不算停滞
	virgin := &fakeStream{state: stream.State{
		Key:       market.PriceKey("SOL/USDT"),
		Connected: true,
	}}

	w := NewWatchdog(Config{CheckInterval: time.Hour, StaleThreshold: 10 * time.Second})
	w.Watch("fresh", fresh)
	w.Watch("down", down)
	w.Watch("virgin", virgin)

	w.checkAll()
	for name, f := range map[string]*fakeStream{"fresh": fresh, "down": down, "virgin": virgin} {
		if f.reconnectCount() != 0 {
			t.Errorf("%s: unexpected reconnect", name)
		}
	}
}

func TestWatchdogStartStop(t *testing.T) {
	stale := &fakeStream{state: stream.State{
		Key:       market.PriceKey("BTC/USDT"),
		Connected: true,
		LastRecv:  time.Now().Add(-time.Minute),
	}}

	w := NewWatchdog(Config{CheckInterval: 10 * time.Millisecond, StaleThreshold: time.Second})
	w.Watch("price/BTC-USDT", stale)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && stale.reconnectCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if stale.reconnectCount() == 0 {
		t.Fatal("watchdog never triggered reconnect")
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return promptly")
	}
}

func TestWatchdogConfigDefaults(t *testing.T) {
	w := NewWatchdog(Config{})
	if w.cfg.CheckInterval != 5*time.Second {
		t.Errorf("expected default check interval 5s, got %v", w.cfg.CheckInterval)
	}
	if w.cfg.StaleThreshold != 30*time.Second {
		t.Errorf("expected default stale threshold 30s, got %v", w.cfg.StaleThreshold)
	}
}
