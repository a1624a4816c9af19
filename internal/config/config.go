// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	NATS       NATSConfig                `mapstructure:"nats"`
	Trading    TradingConfig             `mapstructure:"trading"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	Agents     AgentsConfig              `mapstructure:"agents"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RedisConfig contains Redis settings for the latest-price cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // seconds
}

// Addr returns host:port for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

// TradingConfig contains pipeline-wide trading settings
type TradingConfig struct {
	Mode     string   `mapstructure:"mode"`     // "paper" or "live"
	Symbols  []string `mapstructure:"symbols"`  // ["BTC/USDT", "ETH/USDT"]
	Exchange string   `mapstructure:"exchange"` // default exchange id
}

// ExchangeConfig contains exchange-specific settings
type ExchangeConfig struct {
	APIKey      string             `mapstructure:"api_key"`
	SecretKey   string             `mapstructure:"secret_key"`
	Testnet     bool               `mapstructure:"testnet"`
	RateLimitMS int                `mapstructure:"rate_limit_ms"`
	Fees        FeeConfig          `mapstructure:"fees"`
	Balances    map[string]float64 `mapstructure:"balances"` // paper-mode starting balances
}

// FeeConfig contains the exchange fee and slippage model
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`         // Maker fee fraction (0.001 = 0.1%)
	Taker        float64 `mapstructure:"taker"`         // Taker fee fraction (0.001 = 0.1%)
	BaseSlippage float64 `mapstructure:"base_slippage"` // Base slippage fraction (0.0005 = 0.05%)
	MarketImpact float64 `mapstructure:"market_impact"` // Impact per unit quantity
	MaxSlippage  float64 `mapstructure:"max_slippage"`  // Slippage cap fraction
}

// AgentsConfig groups per-worker configuration sections
type AgentsConfig struct {
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Collector CollectorConfig `mapstructure:"collector"`
	Technical TechnicalConfig `mapstructure:"technical"`
}

// StrategyConfig configures the signal fusion core
type StrategyConfig struct {
	FusionStrategy          string  `mapstructure:"fusion_strategy"` // bayesian, consensus, time_decay, hybrid
	MinSignals              int     `mapstructure:"min_signals"`
	SignalTimeoutSeconds    int     `mapstructure:"signal_timeout_seconds"`
	MinConfidence           float64 `mapstructure:"min_confidence"`
	DecisionIntervalSeconds int     `mapstructure:"decision_interval_seconds"`
	MetricsPort             int     `mapstructure:"metrics_port"`
}

// RiskConfig configures the risk core
type RiskConfig struct {
	AccountBalance       float64            `mapstructure:"account_balance"`
	MaxPortfolioRisk     float64            `mapstructure:"max_portfolio_risk"` // fraction of balance
	MaxPositionRisk      float64            `mapstructure:"max_position_risk"`  // fraction of balance per trade
	PositionSizingMethod string             `mapstructure:"position_sizing_method"`
	StopLossMethod       string             `mapstructure:"stop_loss_method"`
	MinRRRatio           float64            `mapstructure:"min_rr_ratio"`
	FallbackPrices       map[string]float64 `mapstructure:"fallback_prices"` // per-symbol, honored with a warning
	MetricsPort          int                `mapstructure:"metrics_port"`
}

// ExecutionConfig configures the execution core
type ExecutionConfig struct {
	ExchangeID                string  `mapstructure:"exchange_id"` // key into exchanges, or "paper"
	Testnet                   bool    `mapstructure:"testnet"`
	MaxSlippagePct            float64 `mapstructure:"max_slippage_pct"`
	MonitoringIntervalSeconds int     `mapstructure:"monitoring_interval_seconds"`
	MetricsPort               int     `mapstructure:"metrics_port"`
}

// CollectorConfig configures the market data collector
type CollectorConfig struct {
	ExchangeID      string   `mapstructure:"exchange_id"`
	Symbols         []string `mapstructure:"symbols"` // empty = trading.symbols
	Timeframe       string   `mapstructure:"timeframe"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	BookDepth       int      `mapstructure:"book_depth"`
	MetricsPort     int      `mapstructure:"metrics_port"`
}

// TechnicalConfig configures the technical analysis worker
type TechnicalConfig struct {
	Symbols         []string `mapstructure:"symbols"` // empty = trading.symbols
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	LookbackBars    int      `mapstructure:"lookback_bars"`
	Timeframe       string   `mapstructure:"timeframe"`
	MetricsPort     int      `mapstructure:"metrics_port"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides: TRADEWIND_DATABASE_HOST etc.
	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEWIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Invalid configuration is fatal at startup
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "tradewind")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradewind")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 60)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "TRADING")

	// Trading defaults
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("trading.exchange", "paper")

	// Strategy agent defaults
	v.SetDefault("agents.strategy.fusion_strategy", "hybrid")
	v.SetDefault("agents.strategy.min_signals", 2)
	v.SetDefault("agents.strategy.signal_timeout_seconds", 300)
	v.SetDefault("agents.strategy.min_confidence", 0.60)
	v.SetDefault("agents.strategy.decision_interval_seconds", 30)
	v.SetDefault("agents.strategy.metrics_port", 9101)

	// Risk agent defaults
	v.SetDefault("agents.risk.account_balance", 10000.0)
	v.SetDefault("agents.risk.max_portfolio_risk", 0.20)
	v.SetDefault("agents.risk.max_position_risk", 0.05)
	v.SetDefault("agents.risk.position_sizing_method", "hybrid")
	v.SetDefault("agents.risk.stop_loss_method", "atr")
	v.SetDefault("agents.risk.min_rr_ratio", 1.5)
	v.SetDefault("agents.risk.metrics_port", 9102)

	// Execution agent defaults
	v.SetDefault("agents.execution.exchange_id", "paper")
	v.SetDefault("agents.execution.testnet", true)
	v.SetDefault("agents.execution.max_slippage_pct", 1.0)
	v.SetDefault("agents.execution.monitoring_interval_seconds", 10)
	v.SetDefault("agents.execution.metrics_port", 9103)

	// Collector agent defaults
	v.SetDefault("agents.collector.exchange_id", "paper")
	v.SetDefault("agents.collector.timeframe", "1m")
	v.SetDefault("agents.collector.interval_seconds", 30)
	v.SetDefault("agents.collector.book_depth", 10)
	v.SetDefault("agents.collector.metrics_port", 9104)

	// Technical agent defaults
	v.SetDefault("agents.technical.interval_seconds", 60)
	v.SetDefault("agents.technical.lookback_bars", 100)
	v.SetDefault("agents.technical.timeframe", "1m")
	v.SetDefault("agents.technical.metrics_port", 9105)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)

	// Paper exchange defaults
	v.SetDefault("exchanges.paper.testnet", true)
	v.SetDefault("exchanges.paper.fees.maker", 0.001)
	v.SetDefault("exchanges.paper.fees.taker", 0.001)
	v.SetDefault("exchanges.paper.fees.base_slippage", 0.0005)
	v.SetDefault("exchanges.paper.fees.market_impact", 0.0001)
	v.SetDefault("exchanges.paper.fees.max_slippage", 0.003)
	v.SetDefault("exchanges.paper.balances.USDT", 10000.0)
}
