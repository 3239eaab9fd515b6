package gen

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/registry"
)

// OrderBookGenerator 订单簿生成器：围绕最新行情价构造对称的买卖档位，
// 档位偏移为 (i+1) × 价格 × U(0.0001, 0.0005)。
type OrderBookGenerator struct {
	cfg *config.Config
	reg *registry.Registry
	out Broadcaster

	mu  sync.Mutex
	rng *rand.Rand
}

// NewOrderBookGenerator 创建订单簿生成器
func NewOrderBookGenerator(cfg *config.Config, reg *registry.Registry, out Broadcaster, rng *rand.Rand) *OrderBookGenerator {
	return &OrderBookGenerator{cfg: cfg, reg: reg, out: out, rng: rng}
}

// Run 主循环
func (g *OrderBookGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.GetOrderBookInterval())
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

func (g *OrderBookGenerator) tickAll() {
	depth := g.cfg.Global.OrderBookDepth
	for _, p := range g.cfg.ActivePairs() {
		base := 0.0
		if tk, ok := g.reg.Ticker(p.Symbol); ok {
			base = tk.Price
		}
		if base <= 0 {
			base = basePriceFor(p.Symbol)
		}

		book := g.Generate(base, depth)
		if err := g.reg.SetOrderBook(p.Symbol, book); err != nil {
			log.Error().Str("symbol", p.Symbol).Err(err).Msg("订单簿写入失败")
			continue
		}

		group := "orderbook_" + market.SanitizeSymbol(p.Symbol)
		g.out.Broadcast(group, "orderbook_update", book)
		recordTick("orderbook", p.Symbol)
	}
}

// Generate 围绕基准价生成一份订单簿快照：Bids 降序、Asks 升序
func (g *OrderBookGenerator) Generate(basePrice float64, depth int) market.OrderBook {
	g.mu.Lock()
	defer g.mu.Unlock()

	bids := make([]market.PriceLevel, 0, depth)
	asks := make([]market.PriceLevel, 0, depth)

	for i := 0; i < depth; i++ {
		offset := float64(i+1) * basePrice * uniform(g.rng, 0.0001, 0.0005)
		bids = append(bids, g.level(basePrice-offset))
		asks = append(asks, g.level(basePrice+offset))
	}

	// 随机偏移不保证单调，排序后再发
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	return market.OrderBook{
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	}
}

// level 生成单个档位（调用方持有 g.mu）
func (g *OrderBookGenerator) level(price float64) market.PriceLevel {
	qty := uniform(g.rng, 0.1, 5.0)
	return market.PriceLevel{
		Price:    roundTo(price, 2),
		Quantity: roundTo(qty, 6),
		Total:    roundTo(price*qty, 2),
		Count:    1 + g.rng.Intn(10),
	}
}
