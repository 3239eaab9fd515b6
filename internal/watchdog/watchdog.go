package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/metrics"
	"github.com/finora/market-stream/internal/stream"
)

// Stream 可被看门狗监控的通道
type Stream interface {
	State() stream.State
	Reconnect()
}

// Config 看门狗配置
type Config struct {
	CheckInterval  time.Duration // 巡检间隔
	StaleThreshold time.Duration // 连接正常但多久无数据算停滞
}

func (c *Config) normalize() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 30 * time.Second
	}
}

// Watchdog 监控各通道的数据新鲜度：连接看着正常却长时间收不到消息时强制重连。
// 断线本身不用管，通道自己会退避重连。
type Watchdog struct {
	cfg     Config
	mu      sync.Mutex
	streams map[string]Stream

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog 创建看门狗
func NewWatchdog(cfg Config) *Watchdog {
	cfg.normalize()
	return &Watchdog{
		cfg:     cfg,
		streams: make(map[string]Stream),
	}
}

// Watch 登记一条需要监控的通道
func (w *Watchdog) Watch(name string, s Stream) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streams[name] = s
}

// Start 启动看门狗
func (w *Watchdog) Start(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(childCtx)
	}()
}

// Stop 停止看门狗
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.wg.Wait()
	}
}

func (w *Watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkAll()
		}
	}
}

func (w *Watchdog) checkAll() {
	now := time.Now()

	w.mu.Lock()
	targets := make(map[string]Stream, len(w.streams))
	for name, s := range w.streams {
		targets[name] = s
	}
	w.mu.Unlock()

	for name, s := range targets {
		st := s.State()
		if !st.Connected || st.LastRecv.IsZero() {
			continue
		}
		if age := now.Sub(st.LastRecv); age > w.cfg.StaleThreshold {
			log.Error().
				Str("stream", name).
				Str("key", st.Key.String()).
				Dur("age", age).
				Dur("stale_threshold", w.cfg.StaleThreshold).
				Msg("通道长时间无数据，触发强制重连")
			metrics.RecordError("ws_stale", st.Key.String())
			s.Reconnect()
		}
	}
}
