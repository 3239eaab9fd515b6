package stream

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
)

const defaultKlineWindow = 500

// KlineStream K 线通道：订阅标识是 (交易对, 周期) 二元组。
// kline_data 携带全量窗口，kline_update 携带最新一根：
// 开盘时间相同则覆盖未收盘的那根，否则追加并裁剪窗口。
type KlineStream struct {
	core   *channelCore
	window int

	mu      sync.RWMutex
	klines  []market.Kline
	hasData bool

	onUpdate func(key market.Key, klines []market.Kline)
}

// NewKlineStream 创建 K 线通道；window <= 0 时使用默认窗口大小
func NewKlineStream(baseURL string, cfg ReconnectConfig, window int) *KlineStream {
	if window <= 0 {
		window = defaultKlineWindow
	}
	s := &KlineStream{window: window}
	s.core = newChannelCore("kline", cfg, func(k market.Key) string {
		return baseURL + "/ws/klines/" + market.SanitizeSymbol(k.Symbol) + "/" + string(k.Interval) + "/"
	})
	s.core.handle = s.handle
	return s
}

// OnUpdate 注册更新回调（应在 Subscribe 之前设置）
func (s *KlineStream) OnUpdate(fn func(key market.Key, klines []market.Kline)) {
	s.onUpdate = fn
}

// Subscribe 切换到指定交易对和周期
func (s *KlineStream) Subscribe(symbol string, interval market.Interval) error {
	return s.core.subscribe(market.KlineKey(symbol, interval))
}

// Klines 返回当前窗口的副本
func (s *KlineStream) Klines() []market.Kline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasData {
		return nil
	}
	out := make([]market.Kline, len(s.klines))
	copy(out, s.klines)
	return out
}

// State 返回通道状态
func (s *KlineStream) State() State {
	return s.core.state()
}

// Reconnect 保持订阅不变，强制重建连接
func (s *KlineStream) Reconnect() {
	s.core.reconnect()
}

// Close 关闭通道
func (s *KlineStream) Close() {
	s.core.close()
}

func (s *KlineStream) handle(gen uint64, env envelope) {
	switch env.Type {
	case "kline_data":
		var klines []market.Kline
		if err := decodePayload(env.Data, &klines); err != nil {
			metrics.StreamDecodeErrors.WithLabelValues("kline").Inc()
			log.Warn().Err(err).Msg("K线快照解码失败")
			return
		}
		s.apply(gen, func() {
			if len(klines) > s.window {
				klines = klines[len(klines)-s.window:]
			}
			s.klines = klines
			s.hasData = true
		})

	case "kline_update":
		var k market.Kline
		if err := decodePayload(env.Data, &k); err != nil {
			metrics.StreamDecodeErrors.WithLabelValues("kline").Inc()
			log.Warn().Err(err).Msg("K线更新解码失败")
			return
		}
		s.apply(gen, func() {
			s.merge(k)
		})

	default:
	}
}

// apply 在代数校验通过后修改窗口并触发回调
func (s *KlineStream) apply(gen uint64, mutate func()) {
	var key market.Key
	var snapshot []market.Kline
	ok := s.core.ifCurrent(gen, func(k market.Key) {
		key = k
		s.mu.Lock()
		mutate()
		snapshot = make([]market.Kline, len(s.klines))
		copy(snapshot, s.klines)
		s.mu.Unlock()
	})
	if !ok {
		return
	}
	if s.onUpdate != nil {
		s.onUpdate(key, snapshot)
	}
}

// merge 合并一根最新 K 线（调用方持有 s.mu）
func (s *KlineStream) merge(k market.Kline) {
	s.hasData = true
	n := len(s.klines)
	if n > 0 && s.klines[n-1].OpenTime.Equal(k.OpenTime) {
		s.klines[n-1] = k
		return
	}
	s.klines = append(s.klines, k)
	if len(s.klines) > s.window {
		s.klines = s.klines[len(s.klines)-s.window:]
	}
}
