package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Global    GlobalConfig    `mapstructure:"global"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Pairs     []PairConfig    `mapstructure:"pairs"`
}

// GlobalConfig 全局配置
type GlobalConfig struct {
	LogLevel            string `mapstructure:"log_level"`             // 日志级别
	MetricsPort         int    `mapstructure:"metrics_port"`          // Prometheus 端口
	FeedListenAddr      string `mapstructure:"feed_listen_addr"`      // 推送服务监听地址
	FeedBaseURL         string `mapstructure:"feed_base_url"`         // 订阅端连接的 ws 基础地址
	PriceIntervalMs     int    `mapstructure:"price_interval_ms"`     // 行情生成间隔 (ms)
	OrderBookIntervalMs int    `mapstructure:"orderbook_interval_ms"` // 订单簿生成间隔 (ms)
	OrderBookDepth      int    `mapstructure:"orderbook_depth"`       // 订单簿档位数
	KlineWindow         int    `mapstructure:"kline_window"`          // 每个周期保留的 K 线数量
}

// ReconnectConfig 订阅端重连配置
type ReconnectConfig struct {
	MaxRetries     int     `mapstructure:"max_retries"`      // 最大重试次数（0=无限）
	InitialDelayMs int     `mapstructure:"initial_delay_ms"` // 初始重连延迟 (ms)
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`     // 最大重连延迟 (ms)
	BackoffFactor  float64 `mapstructure:"backoff_factor"`   // 退避系数
	PingIntervalMs int     `mapstructure:"ping_interval_ms"` // 心跳间隔 (ms)
	PongWaitMs     int     `mapstructure:"pong_wait_ms"`     // Pong 等待时间 (ms)
	WriteWaitMs    int     `mapstructure:"write_wait_ms"`    // 写超时 (ms)
}

// PairConfig 单个交易对配置
type PairConfig struct {
	Symbol            string   `mapstructure:"symbol"`             // 交易对符号 (e.g., BTC/USDT)
	BasePrice         float64  `mapstructure:"base_price"`         // 初始基准价（0 则按符号推断）
	PricePrecision    int      `mapstructure:"price_precision"`    // 价格精度
	QuantityPrecision int      `mapstructure:"quantity_precision"` // 数量精度
	Status            string   `mapstructure:"status"`             // active / inactive / maintenance
	Intervals         []string `mapstructure:"intervals"`          // 订阅的 K 线周期
}

var (
	globalConfig *Config
	configPath   string
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	configPath = path
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FINORA")
	// 显式绑定嵌套字段的环境变量（生产推荐）
	viper.BindEnv("global.feed_base_url", "FINORA_FEED_BASE_URL")
	viper.BindEnv("global.feed_listen_addr", "FINORA_FEED_LISTEN_ADDR")
	viper.BindEnv("global.metrics_port", "FINORA_METRICS_PORT")
	viper.BindEnv("global.log_level", "FINORA_LOG_LEVEL")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 验证配置
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = &cfg

	// 启动热重载监听
	go watchConfig()

	log.Info().Str("path", path).Msg("配置加载成功")
	return &cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return globalConfig
}

// validateConfig 验证配置有效性并填充默认值
func validateConfig(cfg *Config) error {
	g := &cfg.Global
	if g.FeedBaseURL == "" {
		return fmt.Errorf("feed_base_url 不能为空")
	}
	if g.FeedListenAddr == "" {
		g.FeedListenAddr = ":8765"
	}
	if g.PriceIntervalMs == 0 {
		g.PriceIntervalMs = 5000 // 行情默认 5s 更新一次
	}
	if g.PriceIntervalMs < 100 || g.PriceIntervalMs > 60000 {
		return fmt.Errorf("price_interval_ms 必须在 100-60000 之间")
	}
	if g.OrderBookIntervalMs == 0 {
		g.OrderBookIntervalMs = 2000 // 订单簿默认 2s 更新一次
	}
	if g.OrderBookIntervalMs < 100 || g.OrderBookIntervalMs > 60000 {
		return fmt.Errorf("orderbook_interval_ms 必须在 100-60000 之间")
	}
	if g.OrderBookDepth == 0 {
		g.OrderBookDepth = 15
	}
	if g.OrderBookDepth < 1 || g.OrderBookDepth > 100 {
		return fmt.Errorf("orderbook_depth 必须在 1-100 之间")
	}
	if g.KlineWindow == 0 {
		g.KlineWindow = 500
	}
	if g.KlineWindow < 10 {
		return fmt.Errorf("kline_window 必须 >= 10")
	}

	r := &cfg.Reconnect
	if r.InitialDelayMs == 0 {
		r.InitialDelayMs = 1000
	}
	if r.MaxDelayMs == 0 {
		r.MaxDelayMs = 60000
	}
	if r.MaxDelayMs < r.InitialDelayMs {
		return fmt.Errorf("max_delay_ms 必须 >= initial_delay_ms")
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2.0
	}
	if r.BackoffFactor <= 1.0 {
		return fmt.Errorf("backoff_factor 必须 > 1.0")
	}
	if r.PingIntervalMs == 0 {
		r.PingIntervalMs = 20000
	}
	if r.PongWaitMs == 0 {
		r.PongWaitMs = 30000
	}
	if r.PongWaitMs <= r.PingIntervalMs {
		return fmt.Errorf("pong_wait_ms 必须 > ping_interval_ms")
	}
	if r.WriteWaitMs == 0 {
		r.WriteWaitMs = 10000
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries 不能为负数")
	}

	// 交易对配置验证
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("至少需要配置一个交易对")
	}

	for i := range cfg.Pairs {
		p := &cfg.Pairs[i]
		if p.Symbol == "" {
			return fmt.Errorf("pairs[%d]: symbol 不能为空", i)
		}
		if p.BasePrice < 0 {
			return fmt.Errorf("pairs[%d]: base_price 不能为负数", i)
		}
		if p.PricePrecision == 0 {
			p.PricePrecision = 2
		}
		if p.PricePrecision < 0 || p.PricePrecision > 8 {
			return fmt.Errorf("pairs[%d]: price_precision 必须在 0-8 之间", i)
		}
		if p.QuantityPrecision == 0 {
			p.QuantityPrecision = 6
		}
		if p.QuantityPrecision < 0 || p.QuantityPrecision > 8 {
			return fmt.Errorf("pairs[%d]: quantity_precision 必须在 0-8 之间", i)
		}
		switch p.Status {
		case "":
			p.Status = "active"
		case "active", "inactive", "maintenance":
		default:
			return fmt.Errorf("pairs[%d]: status %q 不合法", i, p.Status)
		}
		if len(p.Intervals) == 0 {
			p.Intervals = []string{"1m"}
		}
		for _, iv := range p.Intervals {
			switch iv {
			case "1m", "5m", "15m", "1h", "4h", "1d":
			default:
				return fmt.Errorf("pairs[%d]: interval %q 不合法", i, iv)
			}
		}
		cfg.Pairs[i] = *p
	}

	return nil
}

// watchConfig 监听配置文件变化并热重载
func watchConfig() {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")

		var newCfg Config
		if err := viper.Unmarshal(&newCfg); err != nil {
			log.Error().Err(err).Msg("重载配置失败")
			return
		}

		if err := validateConfig(&newCfg); err != nil {
			log.Error().Err(err).Msg("新配置验证失败，保持旧配置")
			return
		}

		globalConfig = &newCfg
		log.Info().Msg("配置热重载成功")
	})
}

// GetPriceInterval 获取行情生成间隔
func (c *Config) GetPriceInterval() time.Duration {
	return time.Duration(c.Global.PriceIntervalMs) * time.Millisecond
}

// GetOrderBookInterval 获取订单簿生成间隔
func (c *Config) GetOrderBookInterval() time.Duration {
	return time.Duration(c.Global.OrderBookIntervalMs) * time.Millisecond
}

// GetPairConfig 根据交易对符号获取配置
func (c *Config) GetPairConfig(symbol string) *PairConfig {
	for i := range c.Pairs {
		if c.Pairs[i].Symbol == symbol {
			return &c.Pairs[i]
		}
	}
	return nil
}

// GetAllSymbols 获取所有交易对符号列表
func (c *Config) GetAllSymbols() []string {
	symbols := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		symbols[i] = p.Symbol
	}
	return symbols
}

// ActivePairs 返回 active 状态的交易对
func (c *Config) ActivePairs() []PairConfig {
	out := make([]PairConfig, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Status == "active" {
			out = append(out, p)
		}
	}
	return out
}
