package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/etnz/backtest"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds every setting of the etfbt application.
type AppConfig struct {
	LogLevel string           `mapstructure:"log_level"`
	Provider string           `mapstructure:"provider"` // eodhd, yahoo or archive
	Backtest BacktestDefaults `mapstructure:"backtest"`
	EODHD    EODHDConfig      `mapstructure:"eodhd"`
	Yahoo    YahooConfig      `mapstructure:"yahoo"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Database DatabaseConfig   `mapstructure:"database"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Archive  ArchiveConfig    `mapstructure:"archive"`
	Server   ServerConfig     `mapstructure:"server"`
}

// BacktestDefaults are the run parameters used when a flag is not set.
type BacktestDefaults struct {
	Allocation            string  `mapstructure:"allocation"`
	InitialCapital        float64 `mapstructure:"initial_capital"`
	Years                 int     `mapstructure:"years"`
	Frequency             string  `mapstructure:"rebalance_frequency"`
	WithdrawalRate        float64 `mapstructure:"withdrawal_rate"`
	DividendTaxRate       float64 `mapstructure:"dividend_tax_rate"`
	CapitalGainsTaxRate   float64 `mapstructure:"capital_gains_tax_rate"`
	CapitalGainsExemption float64 `mapstructure:"capital_gains_exemption"`
	TransactionCostRate   float64 `mapstructure:"transaction_cost_rate"`
	RiskFreeRate          float64 `mapstructure:"risk_free_rate"`
	Currency              string  `mapstructure:"currency"`
}

type EODHDConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Exchange string `mapstructure:"exchange"`
}

type YahooConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig tunes the client of the market data provider.
type HTTPConfig struct {
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 for none
	Burst           int           `mapstructure:"burst"`
	Retries         uint          `mapstructure:"retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpen     time.Duration `mapstructure:"breaker_open"`
	CacheDir        string        `mapstructure:"cache_dir"`
}

type DatabaseConfig struct {
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig locates the JSONL market data folder.
type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	Parallelism int           `mapstructure:"parallelism"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	d := backtest.DefaultConfig()
	v.SetDefault("log_level", "info")
	v.SetDefault("provider", "eodhd")

	v.SetDefault("backtest.allocation", backtest.DefaultAllocation().String())
	v.SetDefault("backtest.initial_capital", d.InitialCapital)
	v.SetDefault("backtest.years", d.Years)
	v.SetDefault("backtest.rebalance_frequency", d.Frequency.String())
	v.SetDefault("backtest.withdrawal_rate", d.WithdrawalRate)
	v.SetDefault("backtest.dividend_tax_rate", d.DividendTaxRate)
	v.SetDefault("backtest.capital_gains_tax_rate", d.CapitalGainsTaxRate)
	v.SetDefault("backtest.capital_gains_exemption", d.CapitalGainsExemption)
	v.SetDefault("backtest.transaction_cost_rate", d.TransactionCostRate)
	v.SetDefault("backtest.risk_free_rate", d.RiskFreeRate)
	v.SetDefault("backtest.currency", d.Currency)

	v.SetDefault("eodhd.api_key", "")
	v.SetDefault("eodhd.base_url", "https://eodhd.com")
	v.SetDefault("eodhd.exchange", "US")
	v.SetDefault("yahoo.base_url", "https://query1.finance.yahoo.com")

	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.retries", 3)
	v.SetDefault("http.backoff", "2s")
	v.SetDefault("http.breaker_failures", 5)
	v.SetDefault("http.breaker_open", "30s")
	v.SetDefault("http.cache_dir", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("archive.dir", "")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.parallelism", 4)
	v.SetDefault("server.timeout", "2m")
}

// LoadConfig reads the optional .env file, then the configuration file at path, or
// backtest.yaml in the working directory when path is empty, then BACKTEST_ environment
// variables (BACKTEST_EODHD_API_KEY overrides eodhd.api_key).
func LoadConfig(path string) (*AppConfig, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("eodhd.api_key", "BACKTEST_EODHD_API_KEY", "EODHD_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("backtest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var c AppConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &c, nil
}

// Config returns the engine parameters of the defaults.
func (d BacktestDefaults) Config() (backtest.Config, error) {
	c := backtest.DefaultConfig()
	a, err := backtest.ParseAllocation(d.Allocation)
	if err != nil {
		return c, err
	}
	freq, err := backtest.ParsePeriod(d.Frequency)
	if err != nil {
		return c, err
	}
	c.Allocation = a
	c.Frequency = freq
	c.InitialCapital = d.InitialCapital
	c.Years = d.Years
	c.WithdrawalRate = d.WithdrawalRate
	c.DividendTaxRate = d.DividendTaxRate
	c.CapitalGainsTaxRate = d.CapitalGainsTaxRate
	c.CapitalGainsExemption = d.CapitalGainsExemption
	c.TransactionCostRate = d.TransactionCostRate
	c.RiskFreeRate = d.RiskFreeRate
	c.Currency = d.Currency
	return c, nil
}
