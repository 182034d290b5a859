// Package config loads and validates lurk configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// Transport names accepted by client.transport.
const (
	TransportHTTP  = "http"
	TransportColly = "colly"
)

// History providers accepted by history.provider.
const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
	HistoryNone     = "none"
)

// DefaultUserAgent identifies lurk to providers.
const DefaultUserAgent = "lurk/1.0 (+https://github.com/JakeFAU/lurk)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig               `mapstructure:"logging"`
	Client   ClientConfig                `mapstructure:"client"`
	Search   map[string]lurk.SearchSpec  `mapstructure:"search"`
	Checkers map[string]lurk.CheckerSpec `mapstructure:"checkers"`
	Notify   NotifyConfig                `mapstructure:"notify"`
	History  HistoryConfig               `mapstructure:"history"`
	Server   ServerConfig                `mapstructure:"server"`
	Watch    WatchConfig                 `mapstructure:"watch"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ClientConfig governs the provider clients and their dispatchers.
type ClientConfig struct {
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Transport         string            `mapstructure:"transport"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	UserAgent         string            `mapstructure:"user_agent"`
	Headers           map[string]string `mapstructure:"headers"`
}

// NotifyConfig selects the notification sinks.
type NotifyConfig struct {
	Log       LogSinkConfig      `mapstructure:"log"`
	Telegram  TelegramSinkConfig `mapstructure:"telegram"`
	Kafka     KafkaSinkConfig    `mapstructure:"kafka"`
	PubSub    PubSubSinkConfig   `mapstructure:"pubsub"`
	CacheSize int                `mapstructure:"cache_size"`
}

// LogSinkConfig toggles the log sink.
type LogSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TelegramSinkConfig holds Bot API credentials.
type TelegramSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
	BaseURL string `mapstructure:"base_url"`
}

// KafkaSinkConfig holds producer settings.
type KafkaSinkConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// PubSubSinkConfig holds the target topic.
type PubSubSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HistoryConfig selects where run reports are kept.
type HistoryConfig struct {
	Provider string         `mapstructure:"provider"`
	Limit    int            `mapstructure:"limit"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the run history database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the watch-mode HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// WatchConfig controls the periodic scheduler.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LURK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, lurk.Configf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decode); err != nil {
		return Config{}, lurk.Configf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindEnv maps the short, documented secret variables onto their keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"notify.telegram.token":   "LURK_TELEGRAM_TOKEN",
		"notify.telegram.chat_id": "LURK_TELEGRAM_CHAT_ID",
		"history.postgres.dsn":    "LURK_POSTGRES_DSN",
		"server.api_key":          "LURK_API_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("client.requests_per_second", 10)
	v.SetDefault("client.transport", TransportHTTP)
	v.SetDefault("client.timeout", "15s")
	v.SetDefault("client.user_agent", DefaultUserAgent)
	v.SetDefault("notify.log.enabled", true)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("notify.kafka.client_id", "lurk")
	v.SetDefault("notify.pubsub.enabled", false)
	v.SetDefault("notify.cache_size", 1024)
	v.SetDefault("history.provider", HistoryMemory)
	v.SetDefault("history.limit", 50)
	v.SetDefault("history.postgres.table", "lurk_runs")
	v.SetDefault("history.postgres.max_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("watch.interval", "10m")
}

// Validate enforces required values and reasonable limits. Search merging
// rules are checked later, when the work list is planned.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Client.RequestsPerSecond > 0, "client.requests_per_second must be > 0")
	check(c.Client.Transport == TransportHTTP || c.Client.Transport == TransportColly,
		"client.transport must be %q or %q, got %q", TransportHTTP, TransportColly, c.Client.Transport)
	check(c.Client.Timeout > 0, "client.timeout must be > 0")
	check(c.Notify.CacheSize > 0, "notify.cache_size must be > 0")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be in 1..65535")
	check(c.Watch.Interval > 0, "watch.interval must be > 0")
	check(c.History.Limit > 0, "history.limit must be > 0")

	switch c.History.Provider {
	case HistoryMemory, HistoryNone:
	case HistoryPostgres:
		check(c.History.Postgres.DSN != "", "history.postgres.dsn is required when history.provider is postgres")
	default:
		check(false, "unknown history.provider %q", c.History.Provider)
	}

	if t := c.Notify.Telegram; t.Enabled {
		check(t.Token != "", "notify.telegram.token is required (LURK_TELEGRAM_TOKEN)")
		check(t.ChatID != "", "notify.telegram.chat_id is required (LURK_TELEGRAM_CHAT_ID)")
	}
	if k := c.Notify.Kafka; k.Enabled {
		check(len(k.Brokers) > 0, "notify.kafka.brokers is required")
		check(k.Topic != "", "notify.kafka.topic is required")
	}
	if p := c.Notify.PubSub; p.Enabled {
		check(p.ProjectID != "" && p.Topic != "", "notify.pubsub.project_id and notify.pubsub.topic are required")
	}

	for id, s := range c.Search {
		check(s.Query != "", "search.%s.query is required", id)
		check(s.Notify.Valid(), "search.%s.notify: unknown mode %q", id, s.Notify)
	}
	for name, chk := range c.Checkers {
		for id, s := range chk.Search {
			check(s.Notify.Valid(), "checkers.%s.search.%s.notify: unknown mode %q", name, id, s.Notify)
		}
	}

	if len(errs) > 0 {
		return &lurk.ConfigurationError{Err: errors.Join(errs...)}
	}
	return nil
}
