package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
)

// ErrClosed 通道已关闭后再订阅返回该错误
var ErrClosed = errors.New("stream: channel closed")

// State 通道状态快照
type State struct {
	Key        market.Key // 当前订阅标识
	Connected  bool       // 是否已连接
	LastErr    error      // 最近一次连接/读取错误
	LastRecv   time.Time  // 最近一次收到有效消息的时间
	Generation uint64     // 订阅代数，每次 Subscribe 递增
}

// channelCore 单个数据通道的连接生命周期核心。
// 不变量：旧订阅标识下建立的连接不允许再改写通道状态——
// 每次 Subscribe 递增代数，读循环携带启动时的代数，代数不匹配的消息一律丢弃。
type channelCore struct {
	name   string // orderbook / price / kline
	cfg    ReconnectConfig
	urlFor func(market.Key) string
	handle func(gen uint64, env envelope)

	mu        sync.RWMutex
	gen       uint64
	key       market.Key
	conn      *conn
	connected bool
	connects  int // 当前订阅标识下的成功建连次数
	lastErr   error
	lastRecv  time.Time
	closed    bool
}

func newChannelCore(name string, cfg ReconnectConfig, urlFor func(market.Key) string) *channelCore {
	return &channelCore{
		name:   name,
		cfg:    cfg,
		urlFor: urlFor,
	}
}

// subscribe 切换订阅标识：拆掉旧连接，为新标识建立连接。
// 相同标识重复订阅是 no-op。
func (c *channelCore) subscribe(key market.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil && key == c.key {
		c.mu.Unlock()
		return nil
	}

	old := c.conn
	oldKey := c.key
	c.gen++
	gen := c.gen
	c.key = key
	c.connected = false
	c.connects = 0
	c.lastErr = nil

	nc := newConn(
		c.urlFor(key),
		c.cfg,
		func(raw []byte) { c.dispatch(gen, raw) },
		func(connected bool, err error) { c.onState(gen, key, connected, err) },
	)
	c.conn = nc
	c.mu.Unlock()

	// 旧连接必须关闭；其回调携带旧代数，关闭前后都改不了状态
	if old != nil {
		old.stop()
		metrics.StreamConnected.DeleteLabelValues(c.name, oldKey.String())
	}

	log.Info().Str("channel", c.name).Str("key", key.String()).Msg("订阅切换")
	nc.start()
	return nil
}

// dispatch 读循环消息入口：先按代数过滤，再解析外层协议
func (c *channelCore) dispatch(gen uint64, raw []byte) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		metrics.RecordStaleDropped(c.name)
		return
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		c.mu.Unlock()
		metrics.StreamDecodeErrors.WithLabelValues(c.name).Inc()
		log.Warn().Str("channel", c.name).Err(err).Msg("丢弃无法解析的消息")
		return
	}
	c.lastRecv = time.Now()
	c.mu.Unlock()

	metrics.RecordStreamMessage(c.name, env.Type, len(raw))
	if c.handle != nil {
		c.handle(gen, env)
	}
}

// ifCurrent 在持锁状态下校验代数后执行 fn，保证过期连接改不了任何状态
func (c *channelCore) ifCurrent(gen uint64, fn func(key market.Key)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		metrics.RecordStaleDropped(c.name)
		return false
	}
	fn(c.key)
	return true
}

// reconnect 保持订阅标识不变，强制换一条新连接（看门狗在数据停滞时触发）
func (c *channelCore) reconnect() {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return
	}
	old := c.conn
	c.gen++
	gen := c.gen
	key := c.key
	c.connected = false

	nc := newConn(
		c.urlFor(key),
		c.cfg,
		func(raw []byte) { c.dispatch(gen, raw) },
		func(connected bool, err error) { c.onState(gen, key, connected, err) },
	)
	c.conn = nc
	c.mu.Unlock()

	old.stop()
	log.Warn().Str("channel", c.name).Str("key", key.String()).Msg("强制重连")
	nc.start()
}

// onState 连接状态回调；旧代数的状态翻转同样被忽略
func (c *channelCore) onState(gen uint64, key market.Key, connected bool, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	if err != nil {
		c.lastErr = err
	}
	first := false
	if connected {
		c.connects++
		first = c.connects == 1
	}
	c.mu.Unlock()

	metrics.SetStreamConnected(c.name, key.String(), connected)
	if connected {
		// 订阅后的首次建连不算重连
		if !first {
			metrics.StreamReconnects.WithLabelValues(c.name, key.String()).Inc()
		}
	} else if err != nil {
		metrics.RecordError("ws_disconnect", key.String())
	}
}

// state 返回状态快照
func (c *channelCore) state() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		Key:        c.key,
		Connected:  c.connected,
		LastErr:    c.lastErr,
		LastRecv:   c.lastRecv,
		Generation: c.gen,
	}
}

// close 关闭通道；之后的 Subscribe 返回 ErrClosed
func (c *channelCore) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++ // 在途消息立刻过期
	old := c.conn
	key := c.key
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if old != nil {
		old.stop()
		metrics.StreamConnected.DeleteLabelValues(c.name, key.String())
	}
}
