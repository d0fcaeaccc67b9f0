package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service struct {
		Name      string `mapstructure:"name"`
		AdminPort int    `mapstructure:"admin_port"`
		Debug     bool   `mapstructure:"debug"`
	} `mapstructure:"service"`

	DB string `mapstructure:"db_dsn"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Broker struct {
		Mode      string        `mapstructure:"mode"` // sim only for now
		FillDelay time.Duration `mapstructure:"fill_delay"`
	} `mapstructure:"broker"`

	Feed struct {
		Mode        string   `mapstructure:"mode"` // ws | sim
		URL         string   `mapstructure:"url"`
		Instruments []string `mapstructure:"instruments"`
	} `mapstructure:"feed"`

	Gate struct {
		// DedupeWindow defaults to one dispatcher tick when unset.
		DedupeWindow  time.Duration `mapstructure:"dedupe_window"`
		Cooldown      time.Duration `mapstructure:"cooldown"`
		VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
		VerifyPoll    time.Duration `mapstructure:"verify_poll"`
	} `mapstructure:"gate"`

	Risk struct {
		MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`
		MaxOpenPositions    int     `mapstructure:"max_open_positions"`
		MaxConcurrentOrders int     `mapstructure:"max_concurrent_orders"`
	} `mapstructure:"risk"`

	Dispatch struct {
		Tick       time.Duration `mapstructure:"tick"`
		Staleness  time.Duration `mapstructure:"staleness"`
		TickBudget time.Duration `mapstructure:"tick_budget"`
	} `mapstructure:"dispatch"`

	Reconcile struct {
		Interval time.Duration `mapstructure:"interval"`
		Budget   time.Duration `mapstructure:"budget"`
	} `mapstructure:"reconcile"`

	Watch struct {
		Tick time.Duration `mapstructure:"tick"`
	} `mapstructure:"watch"`

	Webhook struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"webhook"`

	Health struct {
		Addr         string        `mapstructure:"addr"`
		SummaryEvery time.Duration `mapstructure:"summary_every"` // 0 disables the notifier summary
	} `mapstructure:"health"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`

	StrategiesFile string `mapstructure:"strategies_file"`
}

// DedupeWindow resolves the tunable dedupe window; the documented
// default is one dispatcher tick.
func (c *Config) DedupeWindow() time.Duration {
	if c.Gate.DedupeWindow > 0 {
		return c.Gate.DedupeWindow
	}
	return c.Dispatch.Tick
}

func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("values_local")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.name", "trade_engine")
	v.SetDefault("service.admin_port", 9100)
	v.SetDefault("broker.mode", "sim")
	v.SetDefault("broker.fill_delay", "100ms")
	v.SetDefault("feed.mode", "sim")
	v.SetDefault("gate.cooldown", "60s")
	v.SetDefault("gate.verify_timeout", "30s")
	v.SetDefault("gate.verify_poll", "500ms")
	v.SetDefault("risk.max_daily_loss", 0.0) // 0 = disabled
	v.SetDefault("risk.max_open_positions", 10)
	v.SetDefault("risk.max_concurrent_orders", 4)
	v.SetDefault("dispatch.tick", "5s")
	v.SetDefault("dispatch.staleness", "5m")
	v.SetDefault("dispatch.tick_budget", "4s")
	v.SetDefault("reconcile.interval", "60s")
	v.SetDefault("reconcile.budget", "30s")
	v.SetDefault("watch.tick", "2s")
	v.SetDefault("webhook.addr", ":8091")
	v.SetDefault("health.addr", ":8080")
	v.SetDefault("health.summary_every", "30m")
	v.SetDefault("tracing.host", "127.0.0.1")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("strategies_file", "configs/strategies.yaml")

	if err := v.ReadInConfig(); err != nil {
		// env-only deployments run without a config file
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
