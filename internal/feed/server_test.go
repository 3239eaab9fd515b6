package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/registry"
)

// startTestServer 在随机端口上拉起推送服务
func startTestServer(t *testing.T) (*Server, *registry.Registry, string) {
	t.Helper()

	reg := registry.NewRegistry(100)
	reg.AddPair(market.Pair{Symbol: "BTC/USDT", BasePrice: 50000, Status: market.PairActive})

	s := NewServer(NewHub(), reg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Listener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return s, reg, ln.Addr().String()
}

func dialWS(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	var err error
	// 监听循环在 goroutine 里启动，给它一点就绪时间
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", path, err)
	return nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env.Type, env.Data
}

func TestServerHealthz(t *testing.T) {
	_, _, addr := startTestServer(t)

	var resp *http.Response
	var err error
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServerPriceSnapshotAndBroadcast(t *testing.T) {
	s, reg, addr := startTestServer(t)

	tk := market.Ticker{Price: 50000, Timestamp: time.Now().UTC()}
	if err := reg.SetTicker("BTC/USDT", tk); err != nil {
		t.Fatalf("set ticker: %v", err)
	}

	conn := dialWS(t, addr, "/ws/price/BTC-USDT/")

	// 连接建立后先收初始快照
	typ, data := readEnvelope(t, conn)
	if typ != "price_data" {
		t.Fatalf("expected price_data, got %s", typ)
	}
	var got market.Ticker
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal ticker: %v", err)
	}
	if got.Price != 50000 {
		t.Errorf("expected snapshot price 50000, got %.2f", got.Price)
	}

	// 随后收到分组广播
	s.Hub().Broadcast("price_BTC-USDT", "price_update", market.Ticker{Price: 50100})
	typ, data = readEnvelope(t, conn)
	if typ != "price_update" {
		t.Fatalf("expected price_update, got %s", typ)
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal ticker: %v", err)
	}
	if got.Price != 50100 {
		t.Errorf("expected broadcast price 50100, got %.2f", got.Price)
	}
}

func TestServerPriceSnapshotUnknownPair(t *testing.T) {
	_, _, addr := startTestServer(t)

	conn := dialWS(t, addr, "/ws/price/XRP-USDT/")

	// 未知交易对按协议发空对象
	typ, data := readEnvelope(t, conn)
	if typ != "price_data" {
		t.Fatalf("expected price_data, got %s", typ)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if len(obj) != 0 {
		t.Errorf("expected empty object, got %v", obj)
	}
}

func TestServerOrderBookSnapshot(t *testing.T) {
	_, reg, addr := startTestServer(t)

	book := market.OrderBook{
		Bids:      []market.PriceLevel{{Price: 49999, Quantity: 1}},
		Asks:      []market.PriceLevel{{Price: 50001, Quantity: 1}},
		Timestamp: time.Now().UTC(),
	}
	if err := reg.SetOrderBook("BTC/USDT", book); err != nil {
		t.Fatalf("set book: %v", err)
	}

	conn := dialWS(t, addr, "/ws/orderbook/BTC-USDT/")
	typ, data := readEnvelope(t, conn)
	if typ != "orderbook_data" {
		t.Fatalf("expected orderbook_data, got %s", typ)
	}
	var got market.OrderBook
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal book: %v", err)
	}
	if got.BestBid() != 49999 || got.BestAsk() != 50001 {
		t.Errorf("unexpected snapshot: bid %.2f ask %.2f", got.BestBid(), got.BestAsk())
	}

	// 没有数据的交易对发空簿
	conn2 := dialWS(t, addr, "/ws/orderbook/XRP-USDT/")
	typ, data = readEnvelope(t, conn2)
	if typ != "orderbook_data" {
		t.Fatalf("expected orderbook_data, got %s", typ)
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal book: %v", err)
	}
	if len(got.Bids) != 0 || len(got.Asks) != 0 {
		t.Errorf("expected empty book, got %d bids %d asks", len(got.Bids), len(got.Asks))
	}
}

func TestServerKlinesSnapshotAndInvalidInterval(t *testing.T) {
	_, reg, addr := startTestServer(t)

	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	k := market.Kline{OpenTime: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	if err := reg.UpsertKline("BTC/USDT", market.Interval1m, k); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	conn := dialWS(t, addr, "/ws/klines/BTC-USDT/1m/")
	typ, data := readEnvelope(t, conn)
	if typ != "kline_data" {
		t.Fatalf("expected kline_data, got %s", typ)
	}
	var klines []market.Kline
	if err := json.Unmarshal(data, &klines); err != nil {
		t.Fatalf("unmarshal klines: %v", err)
	}
	if len(klines) != 1 || klines[0].Close != 1.5 {
		t.Errorf("unexpected snapshot: %+v", klines)
	}

	// 非法周期：连接升级后被服务端立即关闭
	bad := dialWS(t, addr, "/ws/klines/BTC-USDT/2m/")
	_ = bad.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := bad.ReadMessage(); err == nil {
		t.Error("expected connection closed for invalid interval")
	}
}

func TestServerTradingSubscribeUnsubscribe(t *testing.T) {
	s, _, addr := startTestServer(t)
	hub := s.Hub()

	conn := dialWS(t, addr, "/ws/trading/lobby/")

	// 连接建立即加入房间分组
	waitGroupSize(t, hub, "trading_lobby", 1)

	// 动态订阅交易对分组
	sub, _ := json.Marshal(map[string]string{"type": "subscribe", "trading_pair": "BTC/USDT"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	waitGroupSize(t, hub, "trading_BTC-USDT", 1)

	hub.Broadcast("trading_BTC-USDT", "trade_update", map[string]float64{"price": 50000})
	typ, _ := readEnvelope(t, conn)
	if typ != "trade_update" {
		t.Errorf("expected trade_update, got %s", typ)
	}

	// 退订后从分组移除
	unsub, _ := json.Marshal(map[string]string{"type": "unsubscribe", "trading_pair": "BTC/USDT"})
	if err := conn.WriteMessage(websocket.TextMessage, unsub); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	waitGroupSize(t, hub, "trading_BTC-USDT", 0)
}

func waitGroupSize(t *testing.T, hub *Hub, group string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GroupSize(group) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("group %s did not reach size %d (got %d)", group, want, hub.GroupSize(group))
}
