package stream

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
)

// OrderBookStream 订单簿通道：每个交易对一条连接，收到的是全量快照
type OrderBookStream struct {
	core *channelCore

	mu      sync.RWMutex
	book    market.OrderBook
	hasBook bool

	onUpdate func(key market.Key, book market.OrderBook)
}

// NewOrderBookStream 创建订单簿通道
func NewOrderBookStream(baseURL string, cfg ReconnectConfig) *OrderBookStream {
	s := &OrderBookStream{}
	s.core = newChannelCore("orderbook", cfg, func(k market.Key) string {
		return baseURL + "/ws/orderbook/" + market.SanitizeSymbol(k.Symbol) + "/"
	})
	s.core.handle = s.handle
	return s
}

// OnUpdate 注册更新回调（应在 Subscribe 之前设置）
func (s *OrderBookStream) OnUpdate(fn func(key market.Key, book market.OrderBook)) {
	s.onUpdate = fn
}

// Subscribe 切换到指定交易对
func (s *OrderBookStream) Subscribe(symbol string) error {
	return s.core.subscribe(market.OrderBookKey(symbol))
}

// Book 返回最近一次收到的订单簿快照
func (s *OrderBookStream) Book() (market.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book, s.hasBook
}

// State 返回通道状态
func (s *OrderBookStream) State() State {
	return s.core.state()
}

// Reconnect 保持订阅不变，强制重建连接
func (s *OrderBookStream) Reconnect() {
	s.core.reconnect()
}

// Close 关闭通道
func (s *OrderBookStream) Close() {
	s.core.close()
}

func (s *OrderBookStream) handle(gen uint64, env envelope) {
	switch env.Type {
	case "orderbook_data", "orderbook_update":
	default:
		return // 未知类型忽略
	}

	var book market.OrderBook
	if err := decodePayload(env.Data, &book); err != nil {
		metrics.StreamDecodeErrors.WithLabelValues("orderbook").Inc()
		log.Warn().Err(err).Msg("订单簿数据解码失败")
		return
	}

	var key market.Key
	ok := s.core.ifCurrent(gen, func(k market.Key) {
		key = k
		s.mu.Lock()
		s.book = book
		s.hasBook = true
		s.mu.Unlock()
	})
	if !ok {
		return
	}

	if mid := book.MidPrice(); mid > 0 {
		metrics.UpdateBookMetrics(market.SanitizeSymbol(key.Symbol), mid, book.BestAsk()-book.BestBid())
	}
	if s.onUpdate != nil {
		s.onUpdate(key, book)
	}
}
