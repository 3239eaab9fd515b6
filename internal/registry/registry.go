package registry

import (
	"fmt"
	"sync"

	"github.com/finora/market-stream/internal/market"
)

// PairState 单个交易对的最新市场状态
type PairState struct {
	mu sync.RWMutex

	pair market.Pair

	ticker    market.Ticker
	hasTicker bool

	book    market.OrderBook
	hasBook bool

	// 每个周期一个有界窗口
	klines      map[market.Interval][]market.Kline
	klineWindow int
}

// Registry 全部交易对的内存态注册表。纯内存，不落盘。
type Registry struct {
	mu          sync.RWMutex
	pairs       map[string]*PairState // key 是 sanitized symbol
	klineWindow int
}

// NewRegistry 创建注册表；klineWindow 是每个周期保留的 K 线数量
func NewRegistry(klineWindow int) *Registry {
	if klineWindow <= 0 {
		klineWindow = 500
	}
	return &Registry{
		pairs:       make(map[string]*PairState),
		klineWindow: klineWindow,
	}
}

// AddPair 登记交易对
func (r *Registry) AddPair(p market.Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[market.SanitizeSymbol(p.Symbol)] = &PairState{
		pair:        p,
		klines:      make(map[market.Interval][]market.Kline),
		klineWindow: r.klineWindow,
	}
}

// Pair 查询交易对信息
func (r *Registry) Pair(symbol string) (market.Pair, bool) {
	st := r.get(symbol)
	if st == nil {
		return market.Pair{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.pair, true
}

// ActiveSymbols 返回 active 状态的交易对符号（原始符号，非 sanitized）
func (r *Registry) ActiveSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pairs))
	for _, st := range r.pairs {
		st.mu.RLock()
		if st.pair.Status == market.PairActive {
			out = append(out, st.pair.Symbol)
		}
		st.mu.RUnlock()
	}
	return out
}

// SetTicker 更新最新行情
func (r *Registry) SetTicker(symbol string, tk market.Ticker) error {
	st := r.get(symbol)
	if st == nil {
		return fmt.Errorf("registry: unknown pair %q", symbol)
	}
	st.mu.Lock()
	st.ticker = tk
	st.hasTicker = true
	st.mu.Unlock()
	return nil
}

// Ticker 查询最新行情
func (r *Registry) Ticker(symbol string) (market.Ticker, bool) {
	st := r.get(symbol)
	if st == nil {
		return market.Ticker{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.ticker, st.hasTicker
}

// SetOrderBook 更新订单簿快照
func (r *Registry) SetOrderBook(symbol string, book market.OrderBook) error {
	st := r.get(symbol)
	if st == nil {
		return fmt.Errorf("registry: unknown pair %q", symbol)
	}
	st.mu.Lock()
	st.book = book
	st.hasBook = true
	st.mu.Unlock()
	return nil
}

// OrderBook 查询订单簿快照
func (r *Registry) OrderBook(symbol string) (market.OrderBook, bool) {
	st := r.get(symbol)
	if st == nil {
		return market.OrderBook{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.book, st.hasBook
}

// UpsertKline 合并一根 K 线：开盘时间相同则覆盖，否则追加并裁剪窗口
func (r *Registry) UpsertKline(symbol string, interval market.Interval, k market.Kline) error {
	st := r.get(symbol)
	if st == nil {
		return fmt.Errorf("registry: unknown pair %q", symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	window := st.klines[interval]
	n := len(window)
	if n > 0 && window[n-1].OpenTime.Equal(k.OpenTime) {
		window[n-1] = k
	} else {
		window = append(window, k)
		if len(window) > st.klineWindow {
			window = window[len(window)-st.klineWindow:]
		}
	}
	st.klines[interval] = window
	return nil
}

// LastKline 返回指定周期最新的一根 K 线
func (r *Registry) LastKline(symbol string, interval market.Interval) (market.Kline, bool) {
	st := r.get(symbol)
	if st == nil {
		return market.Kline{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	window := st.klines[interval]
	if len(window) == 0 {
		return market.Kline{}, false
	}
	return window[len(window)-1], true
}

// Klines 返回指定周期的 K 线窗口副本
func (r *Registry) Klines(symbol string, interval market.Interval) []market.Kline {
	st := r.get(symbol)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	window := st.klines[interval]
	if len(window) == 0 {
		return nil
	}
	out := make([]market.Kline, len(window))
	copy(out, window)
	return out
}

func (r *Registry) get(symbol string) *PairState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pairs[market.SanitizeSymbol(symbol)]
}
