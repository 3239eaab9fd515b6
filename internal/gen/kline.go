package gen

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/registry"
)

// KlineAggregator 把行情 tick 折叠成各周期的 K 线。
// tick 落在当前未收盘 K 线内则更新 HLCV，跨过周期边界则开新的一根。
type KlineAggregator struct {
	cfg *config.Config
	reg *registry.Registry
	out Broadcaster

	mu  sync.Mutex
	rng *rand.Rand
}

// NewKlineAggregator 创建 K 线聚合器
func NewKlineAggregator(cfg *config.Config, reg *registry.Registry, out Broadcaster, rng *rand.Rand) *KlineAggregator {
	return &KlineAggregator{cfg: cfg, reg: reg, out: out, rng: rng}
}

// OnTick 消费一个行情 tick，更新该交易对配置的全部周期
func (a *KlineAggregator) OnTick(symbol string, tk market.Ticker) {
	p := a.cfg.GetPairConfig(symbol)
	if p == nil {
		return
	}

	for _, ivStr := range p.Intervals {
		iv, err := market.ParseInterval(ivStr)
		if err != nil {
			continue
		}
		k := a.fold(symbol, iv, tk)
		if err := a.reg.UpsertKline(symbol, iv, k); err != nil {
			log.Error().Str("symbol", symbol).Str("interval", ivStr).Err(err).Msg("K线写入失败")
			continue
		}

		group := "klines_" + market.SanitizeSymbol(symbol) + "_" + string(iv)
		a.out.Broadcast(group, "kline_update", k)
		recordTick("kline", symbol)
	}
}

// fold 把 tick 并入所属周期的 K 线
func (a *KlineAggregator) fold(symbol string, iv market.Interval, tk market.Ticker) market.Kline {
	openTime := iv.Truncate(tk.Timestamp)

	last, ok := a.reg.LastKline(symbol, iv)
	if !ok || !last.OpenTime.Equal(openTime) {
		// 新的一根：OHLC 全部从当前价起步
		return market.Kline{
			OpenTime: openTime,
			Open:     tk.Price,
			High:     tk.Price,
			Low:      tk.Price,
			Close:    tk.Price,
			Volume:   a.tickVolume(),
		}
	}

	last.Close = tk.Price
	if tk.Price > last.High {
		last.High = tk.Price
	}
	if tk.Price < last.Low {
		last.Low = tk.Price
	}
	last.Volume = roundTo(last.Volume+a.tickVolume(), 6)
	return last
}

func (a *KlineAggregator) tickVolume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return roundTo(uniform(a.rng, 0.1, 5.0), 6)
}
