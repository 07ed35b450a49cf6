package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Alpaca   Alpaca   `mapstructure:"alpaca"`
	Trading  Trading  `mapstructure:"trading"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Backtest Backtest `mapstructure:"backtest"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Alpaca holds the brokerage API credentials and transport settings.
type Alpaca struct {
	ApiKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	Paper          bool    `mapstructure:"paper"`
	TradingURL     string  `mapstructure:"trading_url"`
	DataURL        string  `mapstructure:"data_url"`
	DataFeed       string  `mapstructure:"data_feed"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// Trading holds the parameters of the one-percent strategy.
type Trading struct {
	InvestmentAmount float64       `mapstructure:"investment_amount"`
	TargetProfitPct  float64       `mapstructure:"target_profit_pct"`
	StopLossPct      float64       `mapstructure:"stop_loss_pct"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	VolumeThreshold  float64       `mapstructure:"volume_threshold"`
	FillPollInterval time.Duration `mapstructure:"fill_poll_interval"`
	FillTimeout      time.Duration `mapstructure:"fill_timeout"`
}

// Ledger holds where trades are recorded and the default summary window.
type Ledger struct {
	Dir         string `mapstructure:"dir"`
	SummaryDays int    `mapstructure:"summary_days"`
}

// Backtest holds the defaults of the historical replay.
type Backtest struct {
	Days           int     `mapstructure:"days"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	VolumeLookback int     `mapstructure:"volume_lookback"`
	VolumeSpike    float64 `mapstructure:"volume_spike"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps the credential variables of the .env file onto config keys.
var envBindings = map[string]string{
	"alpaca.api_key":    "ALPACA_API_KEY",
	"alpaca.secret_key": "ALPACA_API_SECRET",
	"alpaca.paper":      "ALPACA_PAPER",
}

// LoadConfig reads configuration from path/config.yml, the .env file in the
// working directory and environment variables, in increasing priority.
// A missing config file is not an error.
func LoadConfig(path string) (config Config, err error) {
	// Variables already in the environment win over .env entries.
	if err = godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("could not load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err = v.BindEnv(key, env); err != nil {
			return config, err
		}
	}

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("could not read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("could not decode config: %w", err)
	}
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("alpaca.paper", true)
	v.SetDefault("alpaca.trading_url", "")
	v.SetDefault("alpaca.data_url", "")
	v.SetDefault("alpaca.data_feed", "iex")
	v.SetDefault("alpaca.rate_limit", 3) // requests per second
	v.SetDefault("alpaca.rate_limit_burst", 5)
	v.SetDefault("alpaca.max_retries", 3)

	v.SetDefault("trading.investment_amount", 10000)
	v.SetDefault("trading.target_profit_pct", 0.01)
	v.SetDefault("trading.stop_loss_pct", 0.005)
	v.SetDefault("trading.tick_interval", time.Minute)
	v.SetDefault("trading.volume_threshold", 0.8)
	v.SetDefault("trading.fill_poll_interval", time.Second)
	v.SetDefault("trading.fill_timeout", 2*time.Minute)

	v.SetDefault("ledger.dir", "trades")
	v.SetDefault("ledger.summary_days", 7)

	v.SetDefault("backtest.days", 30)
	v.SetDefault("backtest.initial_capital", 10000)
	v.SetDefault("backtest.volume_lookback", 20)
	v.SetDefault("backtest.volume_spike", 1.2)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "onepercent.db")
}

// Validate checks the values the trading and ledger components rely on.
func (c Config) Validate() error {
	switch {
	case c.Trading.TargetProfitPct <= 0:
		return errors.New("trading.target_profit_pct must be positive")
	case c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1:
		return errors.New("trading.stop_loss_pct must be between 0 and 1")
	case c.Trading.TickInterval <= 0:
		return errors.New("trading.tick_interval must be positive")
	case c.Trading.FillPollInterval <= 0:
		return errors.New("trading.fill_poll_interval must be positive")
	case c.Trading.FillTimeout <= 0:
		return errors.New("trading.fill_timeout must be positive")
	case c.Ledger.Dir == "":
		return errors.New("ledger.dir is empty")
	case c.Ledger.SummaryDays <= 0:
		return errors.New("ledger.summary_days must be positive")
	case c.Alpaca.RateLimit <= 0 || c.Alpaca.RateLimitBurst <= 0:
		return errors.New("alpaca rate limit and burst must be positive")
	}
	return nil
}

// HasCredentials reports whether API keys are set to something other than
// the placeholders written by EnsureEnvFile.
func (a Alpaca) HasCredentials() bool {
	return a.ApiKey != "" && a.SecretKey != "" &&
		a.ApiKey != envTemplate["ALPACA_API_KEY"] && a.SecretKey != envTemplate["ALPACA_API_SECRET"]
}

var envTemplate = map[string]string{
	"ALPACA_API_KEY":    "your_api_key",
	"ALPACA_API_SECRET": "your_api_secret",
	"ALPACA_PAPER":      "True",
}

// EnsureEnvFile writes a credentials template to path when no file exists.
// It reports whether the template was created.
func EnsureEnvFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := godotenv.Write(envTemplate, path); err != nil {
		return false, fmt.Errorf("could not write %s: %w", path, err)
	}
	return true, nil
}
