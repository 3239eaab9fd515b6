package market

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	// 合法周期
	for _, s := range []string{"1m", "5m", "15m", "1h", "4h", "1d"} {
		iv, err := ParseInterval(s)
		if err != nil {
			t.Fatalf("ParseInterval(%q) err: %v", s, err)
		}
		if iv.Duration() <= 0 {
			t.Errorf("interval %q has non-positive duration", s)
		}
	}

	// 非法周期
	for _, s := range []string{"", "2m", "1w", "60"} {
		if _, err := ParseInterval(s); err == nil {
			t.Errorf("ParseInterval(%q) expected error", s)
		}
	}
}

func TestIntervalTruncate(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 37, 42, 123, time.UTC)

	cases := []struct {
		iv   Interval
		want time.Time
	}{
		{Interval1m, time.Date(2024, 3, 15, 10, 37, 0, 0, time.UTC)},
		{Interval5m, time.Date(2024, 3, 15, 10, 35, 0, 0, time.UTC)},
		{Interval15m, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{Interval1h, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)},
		{Interval4h, time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)},
		{Interval1d, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := c.iv.Truncate(ts)
		if !got.Equal(c.want) {
			t.Errorf("Truncate(%s): expected %v, got %v", c.iv, c.want, got)
		}
	}
}

func TestSanitizeSymbol(t *testing.T) {
	if got := SanitizeSymbol("BTC/USDT"); got != "BTC-USDT" {
		t.Errorf("expected BTC-USDT, got %s", got)
	}
	if got := SanitizeSymbol("BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("expected BTCUSDT, got %s", got)
	}
}

func TestKeyValidate(t *testing.T) {
	if err := PriceKey("BTC/USDT").Validate(); err != nil {
		t.Errorf("price key unexpected err: %v", err)
	}
	if err := KlineKey("BTC/USDT", Interval1m).Validate(); err != nil {
		t.Errorf("kline key unexpected err: %v", err)
	}

	// symbol 为空
	if err := (Key{}).Validate(); err == nil {
		t.Error("empty key expected error")
	}
	// 周期非法
	if err := (Key{Symbol: "BTC/USDT", Interval: "2m"}).Validate(); err == nil {
		t.Error("bad interval expected error")
	}
}

func TestKeyString(t *testing.T) {
	if got := PriceKey("BTC/USDT").String(); got != "BTC-USDT" {
		t.Errorf("expected BTC-USDT, got %s", got)
	}
	if got := KlineKey("BTC/USDT", Interval5m).String(); got != "BTC-USDT@5m" {
		t.Errorf("expected BTC-USDT@5m, got %s", got)
	}
}

func TestOrderBookBestAndMid(t *testing.T) {
	book := OrderBook{
		Bids: []PriceLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 2}},
		Asks: []PriceLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 2}},
	}
	if got := book.BestBid(); got != 99 {
		t.Errorf("expected best bid 99, got %.2f", got)
	}
	if got := book.BestAsk(); got != 101 {
		t.Errorf("expected best ask 101, got %.2f", got)
	}
	if got := book.MidPrice(); got != 100 {
		t.Errorf("expected mid 100, got %.2f", got)
	}

	// 单边为空
	empty := OrderBook{}
	if got := empty.MidPrice(); got != 0 {
		t.Errorf("expected mid 0 for empty book, got %.2f", got)
	}
}
