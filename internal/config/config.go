package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"goldwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	ExchangeRate ExchangeRateConfig `mapstructure:"exchange_rate"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Show         ShowConfig         `mapstructure:"show"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone decides where a trading day starts for baseline resets.
	Timezone string `mapstructure:"timezone"`
}

// SourcesConfig lists the price sources in display order: polling sources first,
// then the streaming feed.
type SourcesConfig struct {
	Selected  string                `mapstructure:"selected"`
	Polling   []PollingSourceConfig `mapstructure:"polling"`
	Streaming StreamingSourceConfig `mapstructure:"streaming"`
}

// PollingSourceConfig describes one REST price endpoint.
type PollingSourceConfig struct {
	ID         string            `mapstructure:"id"`
	Name       string            `mapstructure:"name"`
	URL        string            `mapstructure:"url"`
	PricePaths []string          `mapstructure:"price_paths"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Headers    map[string]string `mapstructure:"headers"`
}

// StreamingSourceConfig describes the WebSocket quote feed.
type StreamingSourceConfig struct {
	Enabled              bool              `mapstructure:"enabled"`
	ID                   string            `mapstructure:"id"`
	Name                 string            `mapstructure:"name"`
	DiscoveryURL         string            `mapstructure:"discovery_url"`
	BackupURL            string            `mapstructure:"backup_url"`
	Symbol               string            `mapstructure:"symbol"`
	DiscoveryTimeout     time.Duration     `mapstructure:"discovery_timeout"`
	HandshakeTimeout     time.Duration     `mapstructure:"handshake_timeout"`
	ReadTimeout          time.Duration     `mapstructure:"read_timeout"`
	FetchTimeout         time.Duration     `mapstructure:"fetch_timeout"`
	MaxReconnectAttempts int               `mapstructure:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration     `mapstructure:"reconnect_interval"`
	Headers              map[string]string `mapstructure:"headers"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Immediate     bool          `mapstructure:"immediate"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	// ThresholdPct of zero disables alerting.
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	QueueSize    int            `mapstructure:"queue_size"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExchangeRateConfig configures the USD rate fallback chain.
type ExchangeRateConfig struct {
	Currency              string        `mapstructure:"currency"`
	PrimaryURL            string        `mapstructure:"primary_url"`
	PrimaryTimeout        time.Duration `mapstructure:"primary_timeout"`
	SecondaryURL          string        `mapstructure:"secondary_url"`
	SecondaryTimeout      time.Duration `mapstructure:"secondary_timeout"`
	SecondaryCurrencyName string        `mapstructure:"secondary_currency_name"`
	SecondaryColumn       int           `mapstructure:"secondary_column"`
	SecondaryUnit         float64       `mapstructure:"secondary_unit"`
	TTL                   time.Duration `mapstructure:"ttl"`
	DefaultRate           float64       `mapstructure:"default_rate"`
}

// HTTPConfig holds headers shared by every upstream request.
type HTTPConfig struct {
	Headers map[string]string `mapstructure:"headers"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the journal.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the latest-price mirror.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	TLS       bool          `mapstructure:"tls"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ShowConfig sets CLI show behaviour.
type ShowConfig struct {
	Limit int `mapstructure:"limit"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("GOLDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv exports variables from ./.env without overriding the real environment.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goldwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("sources.polling", []map[string]interface{}{
		{
			"id":      "jd_zheshang",
			"name":    "浙商银行",
			"url":     "https://api.jdjygold.com/gw2/generic/jrm/h5/m/stdLatestPrice?productSku=1961543816",
			"timeout": "5s",
		},
		{
			"id":      "jd_minsheng",
			"name":    "民生银行",
			"url":     "https://api.jdjygold.com/gw/generic/hj/h5/m/latestPrice",
			"timeout": "5s",
		},
	})

	v.SetDefault("sources.streaming.enabled", true)
	v.SetDefault("sources.streaming.id", "london_gold")
	v.SetDefault("sources.streaming.name", "伦敦金")
	v.SetDefault("sources.streaming.discovery_url", "https://www.jrjr.com/api/getDomainInfo")
	v.SetDefault("sources.streaming.backup_url", "wss://alb-1ko0lowmvacsqia0ij.cn-shenzhen.alb.aliyuncs.com:26203")
	v.SetDefault("sources.streaming.symbol", "GOLD")
	v.SetDefault("sources.streaming.discovery_timeout", "5s")
	v.SetDefault("sources.streaming.handshake_timeout", "15s")
	v.SetDefault("sources.streaming.read_timeout", "60s")
	v.SetDefault("sources.streaming.fetch_timeout", "5s")
	v.SetDefault("sources.streaming.max_reconnect_attempts", 5)
	v.SetDefault("sources.streaming.reconnect_interval", "5s")

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.immediate", true)
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.threshold_pct", 1.0)
	v.SetDefault("alerting.queue_size", 16)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("exchange_rate.currency", "CNY")
	v.SetDefault("exchange_rate.primary_url", "https://api.exchangerate-api.com/v4/latest/USD")
	v.SetDefault("exchange_rate.primary_timeout", "5s")
	v.SetDefault("exchange_rate.secondary_url", "https://www.boc.cn/sourcedb/whpj/")
	v.SetDefault("exchange_rate.secondary_timeout", "10s")
	v.SetDefault("exchange_rate.secondary_currency_name", "美元")
	v.SetDefault("exchange_rate.secondary_column", 3)
	v.SetDefault("exchange_rate.secondary_unit", 100.0)
	v.SetDefault("exchange_rate.ttl", "1h")
	v.SetDefault("exchange_rate.default_rate", 7.2)

	v.SetDefault("http.headers", map[string]string{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		"Referer":    "https://jiage.jd.com/",
		"Accept":     "application/json, text/plain, */*",
	})

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 4)
	v.SetDefault("redis.key_prefix", "goldwatch:")
	v.SetDefault("redis.ttl", "10m")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("show.limit", 20)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// applySourceDefaults fills per-source gaps from the shared settings.
func (c *Config) applySourceDefaults() {
	for i := range c.Sources.Polling {
		p := &c.Sources.Polling[i]
		if p.Name == "" {
			p.Name = p.ID
		}
		p.Headers = mergeHeaders(c.HTTP.Headers, p.Headers)
	}
	c.Sources.Streaming.Headers = mergeHeaders(c.HTTP.Headers, c.Sources.Streaming.Headers)
}

func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// SourceIDs lists configured source ids in display order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources.Polling)+1)
	for _, p := range c.Sources.Polling {
		ids = append(ids, p.ID)
	}
	if c.Sources.Streaming.Enabled {
		ids = append(ids, c.Sources.Streaming.ID)
	}
	return ids
}

// Location resolves app.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || strings.EqualFold(c.App.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone: %w", err)
	}
	return loc, nil
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	ids := c.SourceIDs()
	if len(ids) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("source id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate source id %q", id)
		}
		seen[id] = struct{}{}
	}
	for _, p := range c.Sources.Polling {
		if p.URL == "" {
			return fmt.Errorf("sources.polling[%s].url is required", p.ID)
		}
	}
	if s := c.Sources.Streaming; s.Enabled {
		if s.DiscoveryURL == "" && s.BackupURL == "" {
			return fmt.Errorf("sources.streaming needs discovery_url or backup_url")
		}
		if s.MaxReconnectAttempts < 0 {
			return fmt.Errorf("sources.streaming.max_reconnect_attempts cannot be negative")
		}
	}
	if c.Sources.Selected != "" {
		if _, ok := seen[c.Sources.Selected]; !ok {
			return fmt.Errorf("sources.selected %q is not a configured source", c.Sources.Selected)
		}
	}

	if c.ExchangeRate.DefaultRate <= 0 {
		return fmt.Errorf("exchange_rate.default_rate must be greater than zero")
	}
	if c.ExchangeRate.TTL <= 0 {
		return fmt.Errorf("exchange_rate.ttl must be greater than zero")
	}
	if c.ExchangeRate.SecondaryUnit <= 0 {
		return fmt.Errorf("exchange_rate.secondary_unit must be greater than zero")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled")
	}
	if c.Show.Limit <= 0 {
		return fmt.Errorf("show.limit must be greater than zero")
	}
	return nil
}

// ResolveLimit returns either the CLI override or config default.
func (c *Config) ResolveLimit(override int) int {
	if override > 0 {
		return override
	}
	return c.Show.Limit
}
