package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finora/market-stream/internal/config"
	"github.com/finora/market-stream/internal/feed"
	"github.com/finora/market-stream/internal/gen"
	"github.com/finora/market-stream/internal/market"
	"github.com/finora/market-stream/internal/metrics"
	"github.com/finora/market-stream/internal/registry"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configFile = flag.String("config", "config.yaml", "配置文件路径")
	logLevel   = flag.String("log", "info", "日志级别 (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// 单实例锁，防止多进程启动
	lockFile := "/tmp/finora_feedd.lock"
	lock, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		log.Fatal().Err(err).Msg("创建锁文件失败")
	}
	err = syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		log.Fatal().Msg("已有一个feedd进程在运行")
	}
	defer func() {
		syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		lock.Close()
		os.Remove(lockFile)
	}()

	setupLogger(*logLevel)

	log.Info().Msg("finora 行情推送服务启动中...")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	log.Info().
		Int("pairs", len(cfg.Pairs)).
		Str("listen", cfg.Global.FeedListenAddr).
		Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 注册交易对
	reg := registry.NewRegistry(cfg.Global.KlineWindow)
	for _, p := range cfg.Pairs {
		reg.AddPair(market.Pair{
			Symbol:            p.Symbol,
			BasePrice:         p.BasePrice,
			PricePrecision:    int32(p.PricePrecision),
			QuantityPrecision: int32(p.QuantityPrecision),
			Status:            market.PairStatus(p.Status),
		})
		log.Info().Str("symbol", p.Symbol).Str("status", p.Status).Msg("交易对已登记")
	}

	// 启动Prometheus监控
	if _, err := metrics.StartMetricsServer(cfg.Global.MetricsPort); err != nil {
		log.Error().Err(err).Msg("启动监控服务器失败")
	}

	hub := feed.NewHub()
	server := feed.NewServer(hub, reg)

	// 启动模拟行情引擎
	engine := gen.NewEngine(cfg, reg, hub)
	go engine.Run(ctx)

	// 启动推送服务
	go func() {
		if err := server.Listen(cfg.Global.FeedListenAddr); err != nil {
			log.Fatal().Err(err).Msg("推送服务启动失败")
		}
	}()

	log.Info().Msg("finora 行情推送服务启动完成")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info().Msg("收到退出信号，正在关闭...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("推送服务关闭失败")
	}

	log.Info().Msg("finora 行情推送服务已关闭")
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
