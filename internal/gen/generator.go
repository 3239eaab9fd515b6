package gen

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
	"github.com/finora/market-stream/internal/registry"
)

// Broadcaster 生成器的广播出口
type Broadcaster interface {
	Broadcast(group, msgType string, data interface{})
}

// Engine 模拟行情引擎：随机游走行情 + 订单簿 + K 线聚合，写入注册表并按分组广播
type Engine struct {
	cfg *config.Config
	reg *registry.Registry
	out Broadcaster

	prices *PriceGenerator
	books  *OrderBookGenerator
	klines *KlineAggregator
}

// NewEngine 创建模拟行情引擎并完成初始播种。
// 行情和订单簿循环跑在不同 goroutine 上，每个生成器持有自己的随机源。
func NewEngine(cfg *config.Config, reg *registry.Registry, out Broadcaster) *Engine {
	seed := time.Now().UnixNano()

	e := &Engine{
		cfg:    cfg,
		reg:    reg,
		out:    out,
		prices: NewPriceGenerator(cfg, reg, out, rand.New(rand.NewSource(seed))),
		books:  NewOrderBookGenerator(cfg, reg, out, rand.New(rand.NewSource(seed+1))),
		klines: NewKlineAggregator(cfg, reg, out, rand.New(rand.NewSource(seed+2))),
	}
	e.prices.onTick = e.klines.OnTick
	return e
}

// Run 启动行情与订单簿两个生成循环，阻塞到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	e.prices.Seed()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.prices.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.books.Run(ctx)
	}()
	wg.Wait()
	log.Info().Msg("模拟行情引擎已停止")
}

// basePriceFor 按符号家族推断初始基准价（配置里没给 base_price 时使用）
func basePriceFor(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "BTC"):
		return 50000.00
	case strings.Contains(symbol, "ETH"):
		return 3000.00
	case strings.Contains(symbol, "BNB"):
		return 400.00
	case strings.Contains(symbol, "SOL"):
		return 100.00
	default:
		return 1.00
	}
}

// roundTo 用 decimal 做精度裁剪，避免浮点尾数进入线上数据
func roundTo(v float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}

// uniform 返回 [lo, hi) 区间内的均匀随机数
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func recordTick(kind, symbol string) {
	metrics.GenTicks.WithLabelValues(kind, market.SanitizeSymbol(symbol)).Inc()
}
