package stream

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
)

// PriceStream 行情通道：每个交易对一条连接
type PriceStream struct {
	core *channelCore

	mu        sync.RWMutex
	ticker    market.Ticker
	hasTicker bool

	onUpdate func(key market.Key, tk market.Ticker)
}

// NewPriceStream 创建行情通道
func NewPriceStream(baseURL string, cfg ReconnectConfig) *PriceStream {
	s := &PriceStream{}
	s.core = newChannelCore("price", cfg, func(k market.Key) string {
		return baseURL + "/ws/price/" + market.SanitizeSymbol(k.Symbol) + "/"
	})
	s.core.handle = s.handle
	return s
}

// OnUpdate 注册更新回调（应在 Subscribe 之前设置）
func (s *PriceStream) OnUpdate(fn func(key market.Key, tk market.Ticker)) {
	s.onUpdate = fn
}

// Subscribe 切换到指定交易对
func (s *PriceStream) Subscribe(symbol string) error {
	return s.core.subscribe(market.PriceKey(symbol))
}

// Ticker 返回最近一次收到的行情
func (s *PriceStream) Ticker() (market.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker, s.hasTicker
}

// State 返回通道状态
func (s *PriceStream) State() State {
	return s.core.state()
}

// Reconnect 保持订阅不变，强制重建连接
func (s *PriceStream) Reconnect() {
	s.core.reconnect()
}

// Close 关闭通道
func (s *PriceStream) Close() {
	s.core.close()
}

func (s *PriceStream) handle(gen uint64, env envelope) {
	switch env.Type {
	case "price_data", "price_update":
	default:
		return
	}

	var tk market.Ticker
	if err := decodePayload(env.Data, &tk); err != nil {
		metrics.StreamDecodeErrors.WithLabelValues("price").Inc()
		log.Warn().Err(err).Msg("行情数据解码失败")
		return
	}
	// 初始快照可能为空对象（交易对还没有行情）
	if tk.Price == 0 {
		return
	}

	var key market.Key
	ok := s.core.ifCurrent(gen, func(k market.Key) {
		key = k
		s.mu.Lock()
		s.ticker = tk
		s.hasTicker = true
		s.mu.Unlock()
	})
	if !ok {
		return
	}

	metrics.LastPrice.WithLabelValues(market.SanitizeSymbol(key.Symbol)).Set(tk.Price)
	if s.onUpdate != nil {
		s.onUpdate(key, tk)
	}
}
