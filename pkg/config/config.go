package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vijayshreepathak/QuantAlert/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"dev" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8000" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Feed struct {
		// Provider is a provider name or "auto" for ordered fallback.
		Provider        string        `yaml:"provider" default:"auto" validate:"oneof=auto yahoo alphavantage finnhub angelone kafka synthetic"`
		Fallback        []string      `yaml:"fallback" default:"[\"finnhub\",\"yahoo\",\"alphavantage\"]" validate:"dive,oneof=yahoo alphavantage finnhub angelone kafka"`
		Symbols         []string      `yaml:"symbols" default:"[\"RELIANCE\",\"TCS\",\"INFY\",\"HDFCBANK\",\"ICICIBANK\"]" validate:"min=1"`
		FreshnessWindow time.Duration `yaml:"freshness_window" default:"90s"`
		RequestTimeout  time.Duration `yaml:"request_timeout" default:"10s"`
		Yahoo           struct {
			BaseURL      string            `yaml:"base_url" default:"https://query1.finance.yahoo.com/v8/finance/chart"`
			Suffix       string            `yaml:"suffix" default:".NS"`
			SymbolMap    map[string]string `yaml:"symbol_map"`
			PollInterval time.Duration     `yaml:"poll_interval" default:"30s"`
		} `yaml:"yahoo"`
		AlphaVantage struct {
			APIKey       string            `yaml:"api_key"`
			BaseURL      string            `yaml:"base_url" default:"https://www.alphavantage.co/query"`
			Suffix       string            `yaml:"suffix" default:".BSE"`
			SymbolMap    map[string]string `yaml:"symbol_map"`
			PollInterval time.Duration     `yaml:"poll_interval" default:"60s"`
			// RequestsPerMinute is the free-tier call budget.
			RequestsPerMinute int `yaml:"requests_per_minute" default:"5"`
		} `yaml:"alphavantage"`
		Finnhub struct {
			APIKey         string            `yaml:"api_key"`
			WebSocketURL   string            `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
			SymbolMap      map[string]string `yaml:"symbol_map"`
			PollInterval   time.Duration     `yaml:"poll_interval" default:"5s"`
			ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration     `yaml:"ping_interval" default:"30s"`
		} `yaml:"finnhub"`
		AngelOne struct {
			APIKey         string            `yaml:"api_key"`
			ClientCode     string            `yaml:"client_code"`
			Password       string            `yaml:"password"`
			TOTP           string            `yaml:"totp"`
			LoginURL       string            `yaml:"login_url" default:"https://apiconnect.angelbroking.com/rest/auth/angelbroking/user/v1/loginByPassword"`
			WebSocketURL   string            `yaml:"websocket_url" default:"wss://smartapis.angelone.in/websocket"`
			Suffix         string            `yaml:"suffix" default:"-EQ"`
			SymbolMap      map[string]string `yaml:"symbol_map"`
			PollInterval   time.Duration     `yaml:"poll_interval" default:"5s"`
			ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration     `yaml:"ping_interval" default:"30s"`
		} `yaml:"angelone"`
		Kafka struct {
			Topic        string        `yaml:"topic" default:"market.ticks"`
			GroupID      string        `yaml:"group_id" default:"quantalert-feed"`
			PollInterval time.Duration `yaml:"poll_interval" default:"5s"`
		} `yaml:"kafka"`
		Synthetic struct {
			Seed         int64              `yaml:"seed" default:"42"`
			Seeds        map[string]float64 `yaml:"seeds"`
			PollInterval time.Duration      `yaml:"poll_interval" default:"10s"`
		} `yaml:"synthetic"`
	} `yaml:"feed"`
	Store struct {
		BucketWidth       time.Duration `yaml:"bucket_width" default:"1m"`
		MaxTicksPerSymbol int           `yaml:"max_ticks_per_symbol" default:"10000" validate:"gte=0"`
		LaneBuffer        int           `yaml:"lane_buffer" default:"256" validate:"gt=0"`
	} `yaml:"store"`
	Rules struct {
		Driver             string        `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres memory"`
		DSN                string        `yaml:"dsn" default:"quantalert.db"`
		CacheTTL           time.Duration `yaml:"cache_ttl" default:"5s"`
		LockTTL            time.Duration `yaml:"lock_ttl" default:"10s"`
		PersistenceTimeout time.Duration `yaml:"persistence_timeout" default:"5s"`
	} `yaml:"rules"`
	Notifier struct {
		Channels   []string      `yaml:"channels" default:"[\"log\"]" validate:"min=1,dive,oneof=log webhook kafka"`
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
		Workers    int           `yaml:"workers" default:"4" validate:"gt=0"`
		QueueSize  int           `yaml:"queue_size" default:"1024" validate:"gt=0"`
		// Queue selects the dispatcher: in-process pool or the redis job queue.
		Queue string `yaml:"queue" default:"memory" validate:"oneof=memory redis"`
	} `yaml:"notifier"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		TickTopic    string   `yaml:"tick_topic" default:"quantalert.ticks"`
		TriggerTopic string   `yaml:"trigger_topic" default:"quantalert.triggers"`
		LogTopic     string   `yaml:"log_topic" default:"quantalert.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		// AutoTopics lets the producer create missing topics; meant for local brokers.
		AutoTopics bool `yaml:"auto_create_topics"`
		Producer   struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"quantalert"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"quantalert"`
	} `yaml:"redis"`
	Archive struct {
		BatchSize     int           `yaml:"batch_size" default:"500" validate:"gt=0"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"2s"`
		BufferSize    int           `yaml:"buffer_size" default:"5000" validate:"gt=0"`
		// SnapshotSchedule is a six-field cron spec (with seconds).
		SnapshotSchedule string `yaml:"snapshot_schedule" default:"5 * * * * *"`
	} `yaml:"archive"`
	Live struct {
		Disabled     bool          `yaml:"disabled"`
		ClientBuffer int           `yaml:"client_buffer" default:"64" validate:"gt=0"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"live"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from raw YAML.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// ApplyEnv overrides settings from the environment using getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("FEED_PROVIDER"); v != "" {
		c.Feed.Provider = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = splitList(v)
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Feed.Finnhub.APIKey = v
	}
	if v := getenv("ANGEL_API_KEY"); v != "" {
		c.Feed.AngelOne.APIKey = v
	}
	if v := getenv("ANGEL_CLIENT_CODE"); v != "" {
		c.Feed.AngelOne.ClientCode = v
	}
	if v := getenv("ANGEL_PASSWORD"); v != "" {
		c.Feed.AngelOne.Password = v
	}
	if v := getenv("ANGEL_TOTP"); v != "" {
		c.Feed.AngelOne.TOTP = v
	}
	if v := getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		c.Feed.AlphaVantage.APIKey = v
	}
	if v := getenv("RULES_DRIVER"); v != "" {
		c.Rules.Driver = v
	}
	if v := getenv("RULES_DSN"); v != "" {
		c.Rules.DSN = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("NOTIFIER_WEBHOOK_URL"); v != "" {
		c.Notifier.WebhookURL = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.BucketWidth <= 0 {
		return fmt.Errorf("store.bucket_width must be positive")
	}
	if c.Feed.FreshnessWindow <= 0 {
		return fmt.Errorf("feed.freshness_window must be positive")
	}
	for _, ch := range c.Notifier.Channels {
		if ch == "webhook" && c.Notifier.WebhookURL == "" {
			return fmt.Errorf("notifier.webhook_url is required for the webhook channel")
		}
		if ch == "kafka" && !c.Kafka.Enabled {
			return fmt.Errorf("notifier channel kafka requires kafka.enabled")
		}
	}
	if c.Notifier.Queue == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("notifier.queue redis requires redis.enabled")
	}
	if c.Feed.Provider == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("feed.provider kafka requires kafka.enabled")
	}
	if c.Rules.Driver != "memory" && c.Rules.DSN == "" {
		return fmt.Errorf("rules.dsn is required for driver %s", c.Rules.Driver)
	}
	return nil
}

// ProviderOrder returns the providers to try, in priority order.
func (c *Config) ProviderOrder() []string {
	if c.Feed.Provider != "auto" {
		return []string{c.Feed.Provider}
	}
	return c.Feed.Fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
