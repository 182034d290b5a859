package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lurk/internal/lurk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lurk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 10.0, cfg.Client.RequestsPerSecond)
	require.Equal(t, TransportHTTP, cfg.Client.Transport)
	require.Equal(t, 15*time.Second, cfg.Client.Timeout)
	require.Equal(t, DefaultUserAgent, cfg.Client.UserAgent)
	require.True(t, cfg.Notify.Log.Enabled)
	require.Equal(t, 1024, cfg.Notify.CacheSize)
	require.Equal(t, HistoryMemory, cfg.History.Provider)
	require.Equal(t, 50, cfg.History.Limit)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10*time.Minute, cfg.Watch.Interval)
	require.Empty(t, cfg.Search)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: true
  level: debug
client:
  requests_per_second: 2.5
  transport: colly
  timeout: 30s
  headers:
    Accept-Language: en-CA
search:
  gpu:
    query: "4070"
    notify: once
    filters:
      max_price: 1500
      categories: ["Video Cards"]
  cpu:
    query: 7800x3d
    enabled: false
checkers:
  best-buy:
    search:
      gpu:
        filters:
          min_price: 500
          stores: ["199", "203"]
          zip_code: M6K1Y5
  memory-express:
    enabled: false
notify:
  telegram:
    enabled: true
    token: abc
    chat_id: "42"
  kafka:
    enabled: true
    brokers: [localhost:9092]
    topic: lurk.found
history:
  provider: postgres
  postgres:
    dsn: postgres://lurk@localhost/lurk
server:
  port: 9090
  api_key: secret
watch:
  interval: 90s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 2.5, cfg.Client.RequestsPerSecond)
	require.Equal(t, TransportColly, cfg.Client.Transport)
	require.Equal(t, 30*time.Second, cfg.Client.Timeout)
	require.Equal(t, "en-CA", cfg.Client.Headers["accept-language"], "viper lowercases map keys")

	gpu := cfg.Search["gpu"]
	require.Equal(t, "4070", gpu.Query)
	require.Equal(t, lurk.NotifyOnce, gpu.Notify)
	require.NotNil(t, gpu.Filters)
	require.Equal(t, 1500.0, *gpu.Filters.MaxPrice)
	require.Nil(t, gpu.Filters.MinPrice)
	require.Equal(t, []string{"Video Cards"}, gpu.Filters.Categories)
	require.False(t, cfg.Search["cpu"].IsEnabled())

	bb := cfg.Checkers["best-buy"]
	require.True(t, bb.IsEnabled())
	override := bb.Search["gpu"]
	require.Empty(t, override.Query)
	require.Equal(t, 500.0, *override.Filters.MinPrice)
	require.Nil(t, override.Filters.MaxPrice)
	require.Equal(t, []string{"199", "203"}, override.Filters.Stores)
	require.Equal(t, "M6K1Y5", *override.Filters.ZipCode)
	require.False(t, cfg.Checkers["memory-express"].IsEnabled())

	require.Equal(t, "abc", cfg.Notify.Telegram.Token)
	require.Equal(t, []string{"localhost:9092"}, cfg.Notify.Kafka.Brokers)
	require.Equal(t, "lurk", cfg.Notify.Kafka.ClientID)
	require.Equal(t, HistoryPostgres, cfg.History.Provider)
	require.Equal(t, "lurk_runs", cfg.History.Postgres.Table)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 90*time.Second, cfg.Watch.Interval)
}

func TestLoadTelegramFromEnv(t *testing.T) {
	t.Setenv("LURK_TELEGRAM_TOKEN", "from-env")
	t.Setenv("LURK_TELEGRAM_CHAT_ID", "7")
	t.Setenv("LURK_CLIENT_REQUESTS_PER_SECOND", "0.5")

	path := writeConfig(t, "notify:\n  telegram:\n    enabled: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Notify.Telegram.Token)
	require.Equal(t, "7", cfg.Notify.Telegram.ChatID)
	require.Equal(t, 0.5, cfg.Client.RequestsPerSecond)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *lurk.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func validConfig() Config {
	return Config{
		Client:  ClientConfig{RequestsPerSecond: 10, Transport: TransportHTTP, Timeout: time.Second},
		Notify:  NotifyConfig{CacheSize: 10},
		History: HistoryConfig{Provider: HistoryMemory, Limit: 10},
		Server:  ServerConfig{Port: 8080},
		Watch:   WatchConfig{Interval: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero rate", mutate: func(c *Config) { c.Client.RequestsPerSecond = 0 }, wantErr: "requests_per_second"},
		{name: "unknown transport", mutate: func(c *Config) { c.Client.Transport = "curl" }, wantErr: "client.transport"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "zero interval", mutate: func(c *Config) { c.Watch.Interval = 0 }, wantErr: "watch.interval"},
		{name: "unknown history", mutate: func(c *Config) { c.History.Provider = "redis" }, wantErr: "history.provider"},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.History.Provider = HistoryPostgres },
			wantErr: "history.postgres.dsn",
		},
		{
			name:    "telegram without token",
			mutate:  func(c *Config) { c.Notify.Telegram = TelegramSinkConfig{Enabled: true, ChatID: "1"} },
			wantErr: "LURK_TELEGRAM_TOKEN",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Notify.Kafka = KafkaSinkConfig{Enabled: true, Topic: "t"} },
			wantErr: "notify.kafka.brokers",
		},
		{
			name:    "pubsub without topic",
			mutate:  func(c *Config) { c.Notify.PubSub = PubSubSinkConfig{Enabled: true, ProjectID: "p"} },
			wantErr: "notify.pubsub",
		},
		{
			name:    "global search without query",
			mutate:  func(c *Config) { c.Search = map[string]lurk.SearchSpec{"gpu": {}} },
			wantErr: "search.gpu.query",
		},
		{
			name: "bad notify mode in override",
			mutate: func(c *Config) {
				c.Checkers = map[string]lurk.CheckerSpec{
					"best-buy": {Search: map[string]lurk.SearchSpec{"gpu": {Notify: "daily"}}},
				}
			},
			wantErr: "checkers.best-buy.search.gpu.notify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *lurk.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
