package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "auto", c.Feed.Provider)
	assert.Equal(t, 90*time.Second, c.Feed.FreshnessWindow)
	assert.Equal(t, time.Minute, c.Store.BucketWidth)
	assert.Equal(t, []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK"}, c.Feed.Symbols)
	assert.Equal(t, 30*time.Second, c.Feed.Yahoo.PollInterval)
	assert.Equal(t, 60*time.Second, c.Feed.AlphaVantage.PollInterval)
	assert.Equal(t, 5*time.Second, c.Feed.Finnhub.PollInterval)
	assert.Equal(t, "-EQ", c.Feed.AngelOne.Suffix)
	assert.Equal(t, "wss://smartapis.angelone.in/websocket", c.Feed.AngelOne.WebSocketURL)
	assert.Equal(t, 10*time.Second, c.Feed.Synthetic.PollInterval)
	assert.Equal(t, "sqlite", c.Rules.Driver)
	assert.Equal(t, []string{"log"}, c.Notifier.Channels)
	assert.False(t, c.Live.Disabled)
	assert.Equal(t, []string{"*"}, c.Server.CORSOrigins)
	assert.Equal(t, time.Second, c.Server.SlowRequest)
	assert.Equal(t, []string{"finnhub", "yahoo", "alphavantage"}, c.ProviderOrder())
}

func TestParseExplicitProvider(t *testing.T) {
	c, err := Parse([]byte("feed:\n  provider: yahoo\n  symbols: [TCS]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo"}, c.ProviderOrder())
	assert.Equal(t, []string{"TCS"}, c.Feed.Symbols)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown provider":        "feed:\n  provider: bloomberg\n",
		"webhook without url":     "notifier:\n  channels: [webhook]\n",
		"kafka channel disabled":  "notifier:\n  channels: [kafka]\n",
		"redis queue disabled":    "notifier:\n  queue: redis\n",
		"unknown rules driver":    "rules:\n  driver: mysql\n",
		"kafka provider disabled": "feed:\n  provider: kafka\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	env := map[string]string{
		"FEED_PROVIDER":        "synthetic",
		"SYMBOLS":              "TCS, INFY ,",
		"FINNHUB_API_KEY":      "fh",
		"ANGEL_API_KEY":        "ak",
		"ANGEL_CLIENT_CODE":    "C123",
		"ANGEL_PASSWORD":       "pw",
		"ANGEL_TOTP":           "123456",
		"KAFKA_BROKERS":        "k1:9092,k2:9092",
		"REDIS_HOST":           "redis",
		"NOTIFIER_WEBHOOK_URL": "http://hook",
		"PORT":                 "9090",
	}
	c.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "synthetic", c.Feed.Provider)
	assert.Equal(t, []string{"TCS", "INFY"}, c.Feed.Symbols)
	assert.Equal(t, "fh", c.Feed.Finnhub.APIKey)
	assert.Equal(t, "ak", c.Feed.AngelOne.APIKey)
	assert.Equal(t, "C123", c.Feed.AngelOne.ClientCode)
	assert.Equal(t, "pw", c.Feed.AngelOne.Password)
	assert.Equal(t, "123456", c.Feed.AngelOne.TOTP)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis", c.Redis.Host)
	assert.Equal(t, "http://hook", c.Notifier.WebhookURL)
	assert.Equal(t, 9090, c.Server.Port)
	require.NoError(t, c.Validate())

	c.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "not-a-port"
		}
		return ""
	})
	assert.Equal(t, 9090, c.Server.Port)
}

func TestLoadWithEnvAppliesOverridesBeforeValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notifier:\n  channels: [kafka]\n"), 0o600))
	t.Setenv("KAFKA_BROKERS", "localhost:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.True(t, c.Kafka.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
