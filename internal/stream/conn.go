package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ReconnectConfig WebSocket 重连配置
type ReconnectConfig struct {
	MaxRetries       int           // 最大连续拨号失败次数（0=无限）
	InitialDelay     time.Duration // 初始重连延迟
	MaxDelay         time.Duration // 最大重连延迟
	BackoffFactor    float64       // 退避系数
	PingInterval     time.Duration // 心跳间隔
	PongWait         time.Duration // Pong 等待时间
	WriteWait        time.Duration // 写超时
	HandshakeTimeout time.Duration // 握手超时
}

// DefaultReconnectConfig 默认配置
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:       0, // 无限重试
		InitialDelay:     1 * time.Second,
		MaxDelay:         60 * time.Second,
		BackoffFactor:    2.0,
		PingInterval:     20 * time.Second,
		PongWait:         30 * time.Second,
		WriteWait:        10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// nextDelay 计算下一次重连延迟
func (c ReconnectConfig) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.BackoffFactor)
	if next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// conn 管理单条 WebSocket 连接：拨号、心跳、读循环、意外断开后的退避重连。
// 一个 conn 只对应一个订阅标识；标识切换由上层通过 stop + 新建 conn 完成。
type conn struct {
	url string
	cfg ReconnectConfig

	onMessage func([]byte)
	onState   func(connected bool, err error)

	mu         sync.Mutex
	ws         *websocket.Conn
	reconnects int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newConn(url string, cfg ReconnectConfig, onMessage func([]byte), onState func(bool, error)) *conn {
	return &conn{
		url:       url,
		cfg:       cfg,
		onMessage: onMessage,
		onState:   onState,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// start 启动连接主循环
func (c *conn) start() {
	go c.run()
}

// stop 关闭连接并等待主循环退出。重复、并发调用都是安全的。
// 先关底层连接以打断阻塞中的 ReadMessage，保证切换订阅时旧连接立即退出。
func (c *conn) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.closeWS()
	<-c.doneCh
}

// reconnectCount 返回累计（重）连接次数
func (c *conn) reconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// run 主循环：拨号失败退避重试，连接断开后重新拨号
func (c *conn) run() {
	defer close(c.doneCh)
	defer c.closeWS()

	delay := c.cfg.InitialDelay
	retries := 0

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		ws, err := c.dial()
		if err != nil {
			if c.onState != nil {
				c.onState(false, err)
			}
			if c.cfg.MaxRetries > 0 && retries >= c.cfg.MaxRetries {
				log.Error().Str("url", c.url).Int("retries", retries).Msg("ws max retries reached, giving up")
				return
			}
			retries++
			log.Warn().Str("url", c.url).Err(err).Dur("retry_in", delay).Msg("ws dial failed")
			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
				delay = c.cfg.nextDelay(delay)
				continue
			}
		}

		// 拨号期间可能已经被 stop，丢弃刚建好的连接
		select {
		case <-c.stopCh:
			_ = ws.Close()
			return
		default:
		}

		// 连接成功，重置退避状态
		retries = 0
		delay = c.cfg.InitialDelay

		c.mu.Lock()
		c.ws = ws
		c.reconnects++
		c.mu.Unlock()

		if c.onState != nil {
			c.onState(true, nil)
		}

		hbStop := make(chan struct{})
		go c.heartbeatLoop(ws, hbStop)

		readErr := c.readLoop(ws)
		close(hbStop)
		c.closeWS()

		if c.onState != nil {
			c.onState(false, readErr)
		}

		select {
		case <-c.stopCh:
			return
		default:
		}

		log.Warn().Str("url", c.url).Err(readErr).Dur("retry_in", delay).Msg("ws disconnected, reconnecting")
		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}
		delay = c.cfg.nextDelay(delay)
	}
}

// dial 建立连接并装好 Pong 处理器
func (c *conn) dial() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:             websocket.DefaultDialer.Proxy,
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		ReadBufferSize:    websocket.DefaultDialer.ReadBufferSize,
		WriteBufferSize:   websocket.DefaultDialer.WriteBufferSize,
		EnableCompression: websocket.DefaultDialer.EnableCompression,
	}
	ws, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return nil, err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	return ws, nil
}

// readLoop 读取消息直到出错；每条消息后顺延读超时
func (c *conn) readLoop(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// heartbeatLoop 周期性发送 Ping；写失败交给读循环的超时兜底
func (c *conn) heartbeatLoop(ws *websocket.Conn, hbStop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-hbStop:
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("url", c.url).Err(err).Msg("ws heartbeat failed")
				return
			}
		}
	}
}

// closeWS 关闭底层连接
func (c *conn) closeWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}
