package market

import (
	"fmt"
	"strings"
	"time"
)

// PairStatus 交易对状态
type PairStatus string

const (
	PairActive      PairStatus = "active"
	PairInactive    PairStatus = "inactive"
	PairMaintenance PairStatus = "maintenance"
)

// Pair 交易对基础信息
type Pair struct {
	Symbol            string     `json:"symbol" mapstructure:"symbol"` // 例如 BTC/USDT
	BasePrice         float64    `json:"base_price" mapstructure:"base_price"`
	PricePrecision    int32      `json:"price_precision" mapstructure:"price_precision"`
	QuantityPrecision int32      `json:"quantity_precision" mapstructure:"quantity_precision"`
	Status            PairStatus `json:"status" mapstructure:"status"`
}

// PriceLevel 订单簿单个价位
type PriceLevel struct {
	Price    float64 `json:"price" mapstructure:"price"`
	Quantity float64 `json:"quantity" mapstructure:"quantity"`
	Total    float64 `json:"total" mapstructure:"total"`
	Count    int     `json:"count" mapstructure:"count"`
}

// OrderBook 订单簿快照，Bids 按价格降序，Asks 按价格升序
type OrderBook struct {
	Bids      []PriceLevel `json:"bids" mapstructure:"bids"`
	Asks      []PriceLevel `json:"asks" mapstructure:"asks"`
	Timestamp time.Time    `json:"timestamp" mapstructure:"timestamp"`
}

// BestBid 返回最优买价（无买单时返回 0）
func (ob *OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk 返回最优卖价（无卖单时返回 0）
func (ob *OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// MidPrice 返回中间价，单边为空时返回 0
func (ob *OrderBook) MidPrice() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Ticker 最新行情（24h 统计）
type Ticker struct {
	Price            float64   `json:"price" mapstructure:"price"`
	Change24h        float64   `json:"change_24h" mapstructure:"change_24h"`
	ChangePercent24h float64   `json:"change_percent_24h" mapstructure:"change_percent_24h"`
	Volume24h        float64   `json:"volume_24h" mapstructure:"volume_24h"`
	High24h          float64   `json:"high_24h" mapstructure:"high_24h"`
	Low24h           float64   `json:"low_24h" mapstructure:"low_24h"`
	Timestamp        time.Time `json:"timestamp" mapstructure:"timestamp"`
}

// Kline 单根 K 线（OHLCV）
type Kline struct {
	OpenTime time.Time `json:"open_time" mapstructure:"open_time"`
	Open     float64   `json:"open" mapstructure:"open"`
	High     float64   `json:"high" mapstructure:"high"`
	Low      float64   `json:"low" mapstructure:"low"`
	Close    float64   `json:"close" mapstructure:"close"`
	Volume   float64   `json:"volume" mapstructure:"volume"`
}

// Interval K 线周期
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval 解析周期字符串
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// Duration 返回周期对应的时长
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid 周期是否合法
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Truncate 把时间戳对齐到所属 K 线的开盘时间
func (i Interval) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

// SanitizeSymbol 把交易对符号转成可用于路径/分组名的形式（/ 替换为 -）
func SanitizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}
