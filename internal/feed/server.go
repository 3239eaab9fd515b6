package feed

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/registry"
)

const writeWait = 10 * time.Second

// wsClient 包装一条推送连接；写操作串行化
type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) close() {
	_ = c.conn.Close()
}

// Server 行情推送服务：每个通道一条路由，连接按分组接收广播
type Server struct {
	app *fiber.App
	hub *Hub
	reg *registry.Registry
}

// NewServer 创建推送服务
func NewServer(hub *Hub, reg *registry.Registry) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "finora-market-stream",
		AppName:               "finora-market-stream",
		DisableStartupMessage: true,
	})

	s := &Server{app: app, hub: hub, reg: reg}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/orderbook/:pair", websocket.New(s.handleOrderBook))
	app.Get("/ws/price/:pair", websocket.New(s.handlePrice))
	app.Get("/ws/klines/:pair/:interval", websocket.New(s.handleKlines))
	app.Get("/ws/trading/:room", websocket.New(s.handleTrading))

	return s
}

// Hub 返回广播中心
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen 启动监听（阻塞）
func (s *Server) Listen(addr string) error {
	log.Info().Str("addr", addr).Msg("行情推送服务启动")
	return s.app.Listen(addr)
}

// Listener 在已有的监听器上启动服务（阻塞）
func (s *Server) Listener(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("行情推送服务启动")
	return s.app.Listener(ln)
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleOrderBook 订单簿通道：入组、发初始快照、驻留到断开
func (s *Server) handleOrderBook(conn *websocket.Conn) {
	pair := market.SanitizeSymbol(conn.Params("pair"))
	group := "orderbook_" + pair
	client := &wsClient{id: uuid.New(), conn: conn}

	s.hub.Add(group, client.id, client)
	defer s.hub.Discard(group, client.id)

	// 初始快照；没有数据时按协议发空簿
	book, ok := s.reg.OrderBook(pair)
	if !ok {
		book = market.OrderBook{Bids: []market.PriceLevel{}, Asks: []market.PriceLevel{}, Timestamp: time.Now().UTC()}
	}
	if err := s.hub.SendTo(client, "orderbook_data", book); err != nil {
		return
	}

	drain(conn)
}

// handlePrice 行情通道
func (s *Server) handlePrice(conn *websocket.Conn) {
	pair := market.SanitizeSymbol(conn.Params("pair"))
	group := "price_" + pair
	client := &wsClient{id: uuid.New(), conn: conn}

	s.hub.Add(group, client.id, client)
	defer s.hub.Discard(group, client.id)

	// 初始行情；未知交易对发空对象
	var initial interface{} = map[string]interface{}{}
	if tk, ok := s.reg.Ticker(pair); ok {
		initial = tk
	}
	if err := s.hub.SendTo(client, "price_data", initial); err != nil {
		return
	}

	drain(conn)
}

// handleKlines K 线通道：订阅标识是 (交易对, 周期)
func (s *Server) handleKlines(conn *websocket.Conn) {
	pair := market.SanitizeSymbol(conn.Params("pair"))
	interval, err := market.ParseInterval(conn.Params("interval"))
	if err != nil {
		log.Warn().Str("pair", pair).Str("interval", conn.Params("interval")).Msg("非法K线周期，拒绝连接")
		_ = conn.Close()
		return
	}
	group := "klines_" + pair + "_" + string(interval)
	client := &wsClient{id: uuid.New(), conn: conn}

	s.hub.Add(group, client.id, client)
	defer s.hub.Discard(group, client.id)

	klines := s.reg.Klines(pair, interval)
	if klines == nil {
		klines = []market.Kline{}
	}
	if err := s.hub.SendTo(client, "kline_data", klines); err != nil {
		return
	}

	drain(conn)
}

// tradingOp 交易房间内客户端主动发的订阅指令
type tradingOp struct {
	Type        string `json:"type"`
	TradingPair string `json:"trading_pair"`
}

// handleTrading 交易房间：支持客户端运行中加退订交易对分组
func (s *Server) handleTrading(conn *websocket.Conn) {
	room := conn.Params("room")
	client := &wsClient{id: uuid.New(), conn: conn}

	joined := map[string]struct{}{"trading_" + room: {}}
	s.hub.Add("trading_"+room, client.id, client)
	defer func() {
		for g := range joined {
			s.hub.Discard(g, client.id)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var op tradingOp
		if err := json.Unmarshal(raw, &op); err != nil || op.TradingPair == "" {
			continue
		}
		group := "trading_" + market.SanitizeSymbol(op.TradingPair)
		switch op.Type {
		case "subscribe":
			if _, ok := joined[group]; !ok {
				joined[group] = struct{}{}
				s.hub.Add(group, client.id, client)
			}
		case "unsubscribe":
			if _, ok := joined[group]; ok {
				delete(joined, group)
				s.hub.Discard(group, client.id)
			}
		}
	}
}

// drain 消费入站消息直到连接断开；推送通道不处理客户端消息
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
