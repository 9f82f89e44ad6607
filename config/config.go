// Package config loads trader, optimizer and backtest settings from the
// environment, optionally layered over a YAML file named by FXTRADER_CONFIG.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fxtrader/internal/model"
)

// Config holds all application configuration.
type Config struct {
	// Broker
	BrokerURL        string
	BrokerStreamURL  string
	BrokerToken      string
	BrokerAccountID  string
	BrokerUser       string
	BrokerPassword   string
	BrokerTOTPSecret string

	// Trading
	TradeInstruments string // comma-separated, e.g. "USD_JPY,EUR_USD"
	TradeDuration    string
	AlertDurations   string // comma-separated durations the scanner watches
	UsePercent       float64
	StopLimitPercent float64
	PastPeriod       int
	NumRanking       int
	BackTest         bool
	DryRun           bool
	PaperBalance     float64
	PlaceStopOrders  bool

	// Coordinator
	CycleInterval  time.Duration
	ReconcileEvery int

	// Optimizer
	OptimizeEvery time.Duration
	ParamsPath    string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisOptional bool
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads the trader configuration and exits when a required value is
// missing.
func Load() *Config {
	return mustLoad(true)
}

// LoadOffline is Load for tools that never talk to the broker (optimizer).
func LoadOffline() *Config {
	return mustLoad(false)
}

func mustLoad(requireBroker bool) *Config {
	cfg, err := LoadFrom(viper.New(), requireBroker)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// LoadFrom reads the configuration through v. Tests pass a viper with
// values already Set.
func LoadFrom(v *viper.Viper, requireBroker bool) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("FXTRADER_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		BrokerURL:        v.GetString("BROKER_API_URL"),
		BrokerStreamURL:  v.GetString("BROKER_STREAM_URL"),
		BrokerToken:      v.GetString("BROKER_TOKEN"),
		BrokerAccountID:  v.GetString("BROKER_ACCOUNT_ID"),
		BrokerUser:       v.GetString("BROKER_USER"),
		BrokerPassword:   v.GetString("BROKER_PASSWORD"),
		BrokerTOTPSecret: v.GetString("BROKER_TOTP_SECRET"),

		TradeInstruments: v.GetString("TRADE_INSTRUMENTS"),
		TradeDuration:    v.GetString("TRADE_DURATION"),
		AlertDurations:   v.GetString("ALERT_DURATIONS"),
		UsePercent:       v.GetFloat64("USE_PERCENT"),
		StopLimitPercent: v.GetFloat64("STOP_LIMIT_PERCENT"),
		PastPeriod:       v.GetInt("PAST_PERIOD"),
		NumRanking:       v.GetInt("NUM_RANKING"),
		BackTest:         v.GetBool("BACK_TEST"),
		DryRun:           v.GetBool("DRY_RUN"),
		PaperBalance:     v.GetFloat64("PAPER_BALANCE"),
		PlaceStopOrders:  v.GetBool("PLACE_STOP_ORDERS"),

		CycleInterval:  v.GetDuration("CYCLE_INTERVAL"),
		ReconcileEvery: v.GetInt("RECONCILE_EVERY"),

		OptimizeEvery: v.GetDuration("OPTIMIZE_EVERY"),
		ParamsPath:    v.GetString("PARAMS_PATH"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisOptional: v.GetBool("REDIS_OPTIONAL"),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		LogLevel:      v.GetString("LOG_LEVEL"),

		WebhookURL:       v.GetString("WEBHOOK_URL"),
		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   v.GetString("TELEGRAM_CHAT_ID"),
	}
	if err := cfg.Validate(requireBroker); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TRADE_INSTRUMENTS", "USD_JPY")
	v.SetDefault("TRADE_DURATION", "1m")
	v.SetDefault("ALERT_DURATIONS", "5m,15m,30m,1h,1d")
	v.SetDefault("USE_PERCENT", 0.8)
	v.SetDefault("STOP_LIMIT_PERCENT", 0.1)
	v.SetDefault("PAST_PERIOD", 365)
	v.SetDefault("NUM_RANKING", 3)
	v.SetDefault("PAPER_BALANCE", 1_000_000)
	v.SetDefault("CYCLE_INTERVAL", "5s")
	v.SetDefault("RECONCILE_EVERY", 180)
	v.SetDefault("OPTIMIZE_EVERY", "1h")
	v.SetDefault("PARAMS_PATH", "data/params.yaml")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("SQLITE_PATH", "data/fxtrader.db")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
}

// Paper reports whether orders go to the in-memory paper broker.
func (c *Config) Paper() bool { return c.DryRun || c.BackTest }

// Validate checks required values. Broker credentials are only checked
// when requireBroker is set and trading is live.
func (c *Config) Validate(requireBroker bool) error {
	var errs []error
	if requireBroker && !c.Paper() {
		for key, val := range map[string]string{
			"BROKER_API_URL":    c.BrokerURL,
			"BROKER_STREAM_URL": c.BrokerStreamURL,
			"BROKER_ACCOUNT_ID": c.BrokerAccountID,
		} {
			if val == "" {
				errs = append(errs, fmt.Errorf("required %s not set", key))
			}
		}
		if c.BrokerToken == "" && (c.BrokerUser == "" || c.BrokerPassword == "") {
			errs = append(errs, errors.New("BROKER_TOKEN or BROKER_USER/BROKER_PASSWORD required"))
		}
	}
	if _, err := model.ParseDuration(c.TradeDuration); err != nil {
		errs = append(errs, fmt.Errorf("TRADE_DURATION: %w", err))
	}
	if c.UsePercent <= 0 || c.UsePercent > 1 {
		errs = append(errs, fmt.Errorf("USE_PERCENT must be in (0,1]: %g", c.UsePercent))
	}
	if c.StopLimitPercent < 0 || c.StopLimitPercent >= 1 {
		errs = append(errs, fmt.Errorf("STOP_LIMIT_PERCENT must be in [0,1): %g", c.StopLimitPercent))
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, fmt.Errorf("CYCLE_INTERVAL must be positive: %s", c.CycleInterval))
	}
	if c.ReconcileEvery <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_EVERY must be positive: %d", c.ReconcileEvery))
	}
	if len(c.Instruments()) == 0 {
		errs = append(errs, errors.New("TRADE_INSTRUMENTS is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Instruments splits TradeInstruments into symbols.
func (c *Config) Instruments() []string {
	return splitList(c.TradeInstruments)
}

// Duration returns the trading candle duration.
func (c *Config) Duration() model.Duration {
	return model.Duration(c.TradeDuration)
}

// ParseDurations parses a comma-separated duration list, skipping invalid
// entries.
func ParseDurations(s string) []model.Duration {
	var out []model.Duration
	for _, p := range splitList(s) {
		d, err := model.ParseDuration(p)
		if err != nil {
			log.Printf("[config] skipping invalid duration: %q", p)
			continue
		}
		out = append(out, d)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
