package market

import "fmt"

// Key 订阅标识：决定"当前"连接归属的二元组（交易对 + 可选周期）。
// 周期只对 K 线通道有意义，其余通道留空。
type Key struct {
	Symbol   string
	Interval Interval
}

// PriceKey 行情通道订阅标识
func PriceKey(symbol string) Key {
	return Key{Symbol: symbol}
}

// OrderBookKey 订单簿通道订阅标识
func OrderBookKey(symbol string) Key {
	return Key{Symbol: symbol}
}

// KlineKey K 线通道订阅标识
func KlineKey(symbol string, interval Interval) Key {
	return Key{Symbol: symbol, Interval: interval}
}

// Validate 校验订阅标识
func (k Key) Validate() error {
	if k.Symbol == "" {
		return fmt.Errorf("subscription key: symbol required")
	}
	if k.Interval != "" && !k.Interval.Valid() {
		return fmt.Errorf("subscription key: unknown interval %q", k.Interval)
	}
	return nil
}

// String 返回日志用的标识串
func (k Key) String() string {
	if k.Interval == "" {
		return SanitizeSymbol(k.Symbol)
	}
	return SanitizeSymbol(k.Symbol) + "@" + string(k.Interval)
}
