package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
	"github.com/finora/market-stream/internal/stream"
	"github.com/finora/market-stream/internal/watchdog"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configFile  = flag.String("config", "config.yaml", "配置文件路径")
	logLevel    = flag.String("log", "info", "日志级别 (debug, info, warn, error)")
	metricsPort = flag.Int("metrics", 0, "Prometheus 端口（0=使用配置值）")
)

// pairStreams 一个交易对的三条通道
type pairStreams struct {
	book  *stream.OrderBookStream
	price *stream.PriceStream
	kline *stream.KlineStream
}

func main() {
	flag.Parse()

	setupLogger(*logLevel)

	log.Info().Msg("finora 行情订阅端启动中...")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	rc := reconnectConfig(cfg.Reconnect)
	baseURL := cfg.Global.FeedBaseURL

	if _, err := metrics.StartMetricsServer(resolveMetricsPort(*metricsPort, cfg.Global.MetricsPort)); err != nil {
		log.Error().Err(err).Msg("启动监控服务器失败")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 数据停滞看门狗：停滞阈值按行情生成间隔放宽
	wd := watchdog.NewWatchdog(watchdog.Config{
		CheckInterval:  5 * time.Second,
		StaleThreshold: 6 * cfg.GetPriceInterval(),
	})

	// 每个 active 交易对订阅三个通道
	all := make([]*pairStreams, 0, len(cfg.Pairs))
	for _, p := range cfg.ActivePairs() {
		ps := &pairStreams{
			book:  stream.NewOrderBookStream(baseURL, rc),
			price: stream.NewPriceStream(baseURL, rc),
			kline: stream.NewKlineStream(baseURL, rc, cfg.Global.KlineWindow),
		}

		ps.price.OnUpdate(func(key market.Key, tk market.Ticker) {
			log.Debug().
				Str("symbol", key.Symbol).
				Float64("price", tk.Price).
				Float64("change_pct", tk.ChangePercent24h).
				Msg("行情更新")
		})
		ps.book.OnUpdate(func(key market.Key, book market.OrderBook) {
			log.Debug().
				Str("symbol", key.Symbol).
				Int("bids", len(book.Bids)).
				Int("asks", len(book.Asks)).
				Float64("mid", book.MidPrice()).
				Msg("订单簿更新")
		})
		ps.kline.OnUpdate(func(key market.Key, klines []market.Kline) {
			log.Debug().
				Str("key", key.String()).
				Int("count", len(klines)).
				Msg("K线更新")
		})

		if err := ps.price.Subscribe(p.Symbol); err != nil {
			log.Fatal().Str("symbol", p.Symbol).Err(err).Msg("行情订阅失败")
		}
		if err := ps.book.Subscribe(p.Symbol); err != nil {
			log.Fatal().Str("symbol", p.Symbol).Err(err).Msg("订单簿订阅失败")
		}
		iv, _ := market.ParseInterval(p.Intervals[0])
		if err := ps.kline.Subscribe(p.Symbol, iv); err != nil {
			log.Fatal().Str("symbol", p.Symbol).Err(err).Msg("K线订阅失败")
		}

		sanitized := market.SanitizeSymbol(p.Symbol)
		wd.Watch("price/"+sanitized, ps.price)
		wd.Watch("orderbook/"+sanitized, ps.book)
		wd.Watch("kline/"+sanitized+"@"+p.Intervals[0], ps.kline)

		log.Info().Str("symbol", p.Symbol).Str("interval", p.Intervals[0]).Msg("交易对订阅完成")
		all = append(all, ps)
	}

	wd.Start(ctx)

	log.Info().Int("pairs", len(all)).Msg("finora 行情订阅端启动完成")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info().Msg("收到退出信号，正在关闭...")

	cancel()
	wd.Stop()
	for _, ps := range all {
		ps.price.Close()
		ps.book.Close()
		ps.kline.Close()
	}

	log.Info().Msg("finora 行情订阅端已关闭")
}

// resolveMetricsPort 命令行指定的端口优先，没给时用配置值
func resolveMetricsPort(flagPort, cfgPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	return cfgPort
}

// reconnectConfig 把配置里的毫秒值换成重连参数
func reconnectConfig(rc config.ReconnectConfig) stream.ReconnectConfig {
	out := stream.DefaultReconnectConfig()
	out.MaxRetries = rc.MaxRetries
	out.InitialDelay = time.Duration(rc.InitialDelayMs) * time.Millisecond
	out.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	out.BackoffFactor = rc.BackoffFactor
	out.PingInterval = time.Duration(rc.PingIntervalMs) * time.Millisecond
	out.PongWait = time.Duration(rc.PongWaitMs) * time.Millisecond
	out.WriteWait = time.Duration(rc.WriteWaitMs) * time.Millisecond
	return out
}

// setupLogger 设置日志
func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
