package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// 订阅端指标
	StreamConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finora_stream_connected",
			Help: "通道连接状态 (1=已连接, 0=断开)",
		},
		[]string{"channel", "key"},
	)

	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_stream_reconnects_total",
			Help: "通道重连次数（不含订阅后的首次建连）",
		},
		[]string{"channel", "key"},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_stream_messages_total",
			Help: "收到的消息数量（按类型统计）",
		},
		[]string{"channel", "type"},
	)

	StreamBytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_stream_bytes_received_total",
			Help: "WebSocket接收字节数（下行流量）",
		},
		[]string{"channel"},
	)

	StreamStaleDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_stream_stale_dropped_total",
			Help: "因订阅标识已切换而丢弃的消息数",
		},
		[]string{"channel"},
	)

	StreamDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_stream_decode_errors_total",
			Help: "消息解码失败次数",
		},
		[]string{"channel"},
	)

	// 行情指标
	LastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finora_last_price",
			Help: "最新成交价",
		},
		[]string{"symbol"},
	)

	BookMidPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finora_book_mid_price",
			Help: "订单簿中间价",
		},
		[]string{"symbol"},
	)

	BookSpread = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finora_book_spread",
			Help: "买一卖一价差",
		},
		[]string{"symbol"},
	)

	// 推送端指标
	FeedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finora_feed_clients",
			Help: "分组内的客户端连接数",
		},
		[]string{"group"},
	)

	FeedBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_feed_broadcasts_total",
			Help: "分组广播次数（按消息类型统计）",
		},
		[]string{"type"},
	)

	FeedSendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_feed_send_errors_total",
			Help: "推送失败而被剔除的客户端数",
		},
		[]string{"group"},
	)

	// 生成器指标
	GenTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_gen_ticks_total",
			Help: "生成器产出的数据点数量",
		},
		[]string{"kind", "symbol"},
	)

	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finora_error_count_total",
			Help: "错误计数",
		},
		[]string{"type", "key"},
	)
)

func init() {
	// 注册所有指标
	prometheus.MustRegister(
		StreamConnected,
		StreamReconnects,
		StreamMessages,
		StreamBytesReceived,
		StreamStaleDropped,
		StreamDecodeErrors,
		LastPrice,
		BookMidPrice,
		BookSpread,
		FeedClients,
		FeedBroadcasts,
		FeedSendErrors,
		GenTicks,
		ErrorCount,
	)
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器启动失败")
		}
	}()

	return actualPort, nil
}

// SetStreamConnected 更新通道连接状态
func SetStreamConnected(channel, key string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	StreamConnected.WithLabelValues(channel, key).Set(v)
}

// RecordStreamMessage 记录收到的一条消息
func RecordStreamMessage(channel, msgType string, bytes int) {
	StreamMessages.WithLabelValues(channel, msgType).Inc()
	StreamBytesReceived.WithLabelValues(channel).Add(float64(bytes))
}

// RecordStaleDropped 记录丢弃的过期消息
func RecordStaleDropped(channel string) {
	StreamStaleDropped.WithLabelValues(channel).Inc()
}

// RecordError 记录错误
func RecordError(errType, key string) {
	ErrorCount.WithLabelValues(errType, key).Inc()
}

// UpdateBookMetrics 更新订单簿指标
func UpdateBookMetrics(symbol string, mid, spread float64) {
	BookMidPrice.WithLabelValues(symbol).Set(mid)
	BookSpread.WithLabelValues(symbol).Set(spread)
}
