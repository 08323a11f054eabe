package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Allocation AllocationConfig `mapstructure:"allocation"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	PaaS       PaaSConfig       `mapstructure:"paas"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
	// Revision identifies the deployed agent; it is part of every run signature.
	// "localhost" disables activity log persistence.
	Revision    string `mapstructure:"revision"`
	TradingMode string `mapstructure:"trading_mode"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Allocation     string `mapstructure:"allocation"`
	Reconciliation string `mapstructure:"reconciliation"`
	// AllocationStrategies is the strategy list passed to scheduled allocations.
	AllocationStrategies []string `mapstructure:"allocation_strategies"`
	// Timeout bounds one scheduled run.
	Timeout time.Duration `mapstructure:"timeout"`
}

type BrokerConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Account            string        `mapstructure:"account"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	// OrderAckDelay is the pause after each order submission before the broker's
	// order list is read back.
	OrderAckDelay time.Duration `mapstructure:"order_ack_delay"`
	AccountValues RetryConfig   `mapstructure:"account_values"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type CacheConfig struct {
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisDB     int           `mapstructure:"redis_db"`
	ContractTTL time.Duration `mapstructure:"contract_ttl"`
}

// AllocationConfig can be overridden at runtime from the runtime_configs
// table, hence the json tags.
type AllocationConfig struct {
	Exposure                   ExposureConfig `mapstructure:"exposure" json:"exposure"`
	RetryCheckMinutes          int            `mapstructure:"retry_check_minutes" json:"retryCheckMinutes"`
	AdaptivePriority           string         `mapstructure:"adaptive_priority" json:"adaptivePriority"`
	CashBalanceThresholdInBase float64        `mapstructure:"cash_balance_threshold_in_base" json:"cashBalanceThresholdInBase"`
}

type ExposureConfig struct {
	Overall    float64            `mapstructure:"overall" json:"overall"`
	Strategies map[string]float64 `mapstructure:"strategies" json:"strategies"`
}

type StrategiesConfig struct {
	Static map[string]map[string]float64   `mapstructure:"static"`
	Remote map[string]RemoteStrategyConfig `mapstructure:"remote"`
	Dummy  DummyStrategyConfig             `mapstructure:"dummy"`
}

type RemoteStrategyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DummyStrategyConfig struct {
	Symbol                   string `mapstructure:"symbol"`
	Exchange                 string `mapstructure:"exchange"`
	Currency                 string `mapstructure:"currency"`
	ExpiryScheme             string `mapstructure:"expiry_scheme"`
	RolloverDaysBeforeExpiry int    `mapstructure:"rollover_days_before_expiry"`
}

type PaaSConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.revision", "localhost")
	v.SetDefault("app.trading_mode", "paper")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", false)
	v.SetDefault("cron.allocation", "")
	v.SetDefault("cron.reconciliation", "")
	v.SetDefault("cron.allocation_strategies", []string{})
	v.SetDefault("cron.timeout", "10m")

	v.SetDefault("broker.base_url", "https://localhost:5000/v1/api")
	v.SetDefault("broker.timeout", "30s")
	v.SetDefault("broker.account", "")
	v.SetDefault("broker.insecure_skip_verify", true)
	v.SetDefault("broker.order_ack_delay", "2s")
	v.SetDefault("broker.account_values.max_attempts", 60)
	v.SetDefault("broker.account_values.initial_interval", "1s")
	v.SetDefault("broker.account_values.max_interval", "5s")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.contract_ttl", "24h")

	v.SetDefault("allocation.exposure.overall", 0)
	v.SetDefault("allocation.retry_check_minutes", 0)
	v.SetDefault("allocation.adaptive_priority", "Normal")
	v.SetDefault("allocation.cash_balance_threshold_in_base", 1000)

	v.SetDefault("strategies.dummy.symbol", "MNQ")
	v.SetDefault("strategies.dummy.exchange", "GLOBEX")
	v.SetDefault("strategies.dummy.currency", "USD")
	v.SetDefault("strategies.dummy.expiry_scheme", "q")
	v.SetDefault("strategies.dummy.rollover_days_before_expiry", 2)

	v.SetDefault("paas.base_url", "")
	v.SetDefault("paas.api_key", "")
	v.SetDefault("paas.agent", "allocator")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
