package gen

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/registry"
)

// PriceGenerator 行情随机游走生成器：每个周期对所有 active 交易对
// 以 ±0.1% 的步长更新价格，并广播 price_update。
type PriceGenerator struct {
	cfg *config.Config
	reg *registry.Registry
	out Broadcaster

	mu  sync.Mutex
	rng *rand.Rand

	// 每个 tick 额外回调（K 线聚合挂在这里）
	onTick func(symbol string, tk market.Ticker)
}

// NewPriceGenerator 创建行情生成器
func NewPriceGenerator(cfg *config.Config, reg *registry.Registry, out Broadcaster, rng *rand.Rand) *PriceGenerator {
	return &PriceGenerator{cfg: cfg, reg: reg, out: out, rng: rng}
}

// Seed 为还没有行情的交易对生成初始数据
func (g *PriceGenerator) Seed() {
	for _, p := range g.cfg.ActivePairs() {
		if _, ok := g.reg.Ticker(p.Symbol); ok {
			continue
		}
		tk := g.initial(p)
		if err := g.reg.SetTicker(p.Symbol, tk); err != nil {
			log.Error().Str("symbol", p.Symbol).Err(err).Msg("初始行情写入失败")
			continue
		}
		log.Info().Str("symbol", p.Symbol).Float64("price", tk.Price).Msg("初始行情已生成")
	}
}

// Run 主循环
func (g *PriceGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.GetPriceInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tickAll()
		}
	}
}

func (g *PriceGenerator) tickAll() {
	for _, p := range g.cfg.ActivePairs() {
		prev, ok := g.reg.Ticker(p.Symbol)
		if !ok {
			tk := g.initial(p)
			_ = g.reg.SetTicker(p.Symbol, tk)
			continue
		}

		tk := g.step(p, prev)
		if err := g.reg.SetTicker(p.Symbol, tk); err != nil {
			log.Error().Str("symbol", p.Symbol).Err(err).Msg("行情写入失败")
			continue
		}

		group := "price_" + market.SanitizeSymbol(p.Symbol)
		g.out.Broadcast(group, "price_update", tk)
		recordTick("price", p.Symbol)

		if g.onTick != nil {
			g.onTick(p.Symbol, tk)
		}
	}
}

// initial 初始行情：基准价 ±5% 抖动
func (g *PriceGenerator) initial(p config.PairConfig) market.Ticker {
	g.mu.Lock()
	defer g.mu.Unlock()

	base := p.BasePrice
	if base <= 0 {
		base = basePriceFor(p.Symbol)
	}
	price := base * (1 + uniform(g.rng, -0.05, 0.05))
	prec := int32(p.PricePrecision)

	return market.Ticker{
		Price:            roundTo(price, prec),
		High24h:          roundTo(price*1.02, prec),
		Low24h:           roundTo(price*0.98, prec),
		Volume24h:        roundTo(uniform(g.rng, 1000, 10000), 2),
		Change24h:        roundTo(uniform(g.rng, -5, 5), 4),
		ChangePercent24h: roundTo(uniform(g.rng, -5, 5), 4),
		Timestamp:        time.Now().UTC(),
	}
}

// step 随机游走一步：价格变动 ±0.1%
func (g *PriceGenerator) step(p config.PairConfig, prev market.Ticker) market.Ticker {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := prev.Price * uniform(g.rng, -0.001, 0.001)
	price := prev.Price + change
	prec := int32(p.PricePrecision)

	return market.Ticker{
		Price:            roundTo(price, prec),
		Change24h:        roundTo(change, 4),
		ChangePercent24h: roundTo(change/prev.Price*100, 4),
		Volume24h:        roundTo(uniform(g.rng, 1000, 10000), 2),
		High24h:          roundTo(price*1.02, prec),
		Low24h:           roundTo(price*0.98, prec),
		Timestamp:        time.Now().UTC(),
	}
}
