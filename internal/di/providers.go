package di

import (
	"context"
	"fmt"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/internal/handler/api"
	"github.com/vijayshreepathak/QuantAlert/internal/handler/live"
	mid "github.com/vijayshreepathak/QuantAlert/internal/middleware"
	internalrepo "github.com/vijayshreepathak/QuantAlert/internal/repository"
	"github.com/vijayshreepathak/QuantAlert/internal/service/feeds"
	"github.com/vijayshreepathak/QuantAlert/internal/service/notifier"
	"github.com/vijayshreepathak/QuantAlert/internal/service/ratelimit"
	"github.com/vijayshreepathak/QuantAlert/internal/usecase"
	"github.com/vijayshreepathak/QuantAlert/pkg/cache"
	pkgch "github.com/vijayshreepathak/QuantAlert/pkg/clickhouse"
	"github.com/vijayshreepathak/QuantAlert/pkg/config"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	pkgkafka "github.com/vijayshreepathak/QuantAlert/pkg/kafka"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/metrics"
	"github.com/vijayshreepathak/QuantAlert/pkg/queue"
	"github.com/vijayshreepathak/QuantAlert/pkg/server"
)

const serviceName = "quantalert"

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoTopics),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. With Kafka enabled, repeated warnings and
// errors are aggregated and shipped to the log topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	lgr, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	// Children copy the collector, so it has to be in place before anything calls With.
	if producer != nil && cfg.Kafka.LogTopic != "" {
		lgr.AddCollector(&logger.CollectionConfig{
			Service:   serviceName,
			Topic:     cfg.Kafka.LogTopic,
			Publisher: producer,
		})
	}
	return lgr, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(20, 4, 5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache returns a memory cache fronting Redis when available, or a plain memory cache.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(10000), cache.WithLayeredMemoryTTL(time.Second))
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000), cache.WithMemoryCleanup(time.Minute))
}

// ProvideRuleRepository opens the configured rule store and fronts it with the cache.
func ProvideRuleRepository(cfg *config.Config, c cache.Service, lgr *logger.Logger) (repository.RuleRepository, error) {
	var inner repository.RuleRepository
	switch cfg.Rules.Driver {
	case "sqlite":
		r, err := internalrepo.NewSQLiteRuleRepository(cfg.Rules.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite rules: %w", err)
		}
		inner = r
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r, err := internalrepo.NewPostgresRuleRepository(ctx, cfg.Rules.DSN, 10)
		if err != nil {
			return nil, fmt.Errorf("postgres rules: %w", err)
		}
		inner = r
	default:
		inner = internalrepo.NewMemoryRuleRepository()
	}
	if cfg.Rules.CacheTTL <= 0 {
		return inner, nil
	}
	return internalrepo.NewCachedRuleRepository(inner, c, cfg.Rules.CacheTTL, lgr.With(logger.String("component", "rules"))), nil
}

// ProvideRuleLocker serialises evaluation per rule; across replicas when Redis backs the cache.
func ProvideRuleLocker(cfg *config.Config, rc *cache.RedisCache, c cache.Service) usecase.RuleLocker {
	if rc != nil {
		return usecase.NewCacheLocker(c, cfg.Rules.LockTTL)
	}
	return usecase.NewKeyedMutex()
}

// ProvideQueue creates the notification job queue. Failed deliveries are dead-lettered, never retried.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, lgr *logger.Logger) queue.Queue {
	qcfg := &queue.QueueConfig{
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
	}
	qlgr := lgr.With(logger.String("component", "notify_queue"))
	if cfg.Notifier.Queue == "redis" && rc != nil {
		return queue.NewRedisQueue(qlgr, qcfg, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	}
	return queue.NewMemoryQueue(qlgr, qcfg)
}

// ProvideNotifier fans a trigger out to every configured channel.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, lgr *logger.Logger) (repository.Notifier, error) {
	channels := make([]repository.Notifier, 0, len(cfg.Notifier.Channels))
	for _, ch := range cfg.Notifier.Channels {
		switch ch {
		case notifier.ChannelLog:
			channels = append(channels, notifier.NewLogNotifier(lgr.With(logger.String("component", "notifier"))))
		case notifier.ChannelWebhook:
			channels = append(channels, notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout))
		case notifier.ChannelKafka:
			if producer == nil {
				return nil, fmt.Errorf("notifier channel %s: kafka disabled", ch)
			}
			channels = append(channels, notifier.NewKafkaNotifier(producer, cfg.Kafka.TriggerTopic))
		default:
			return nil, fmt.Errorf("unknown notifier channel %q", ch)
		}
	}
	return notifier.NewMultiNotifier(channels...), nil
}

// ProvideNotificationDispatcher creates the dispatcher delivering triggers off the tick path.
func ProvideNotificationDispatcher(
	cfg *config.Config,
	q queue.Queue,
	n repository.Notifier,
	rules repository.RuleRepository,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.NotificationDispatcher {
	return usecase.NewNotificationDispatcher(q, n, rules, m,
		lgr.With(logger.String("component", "dispatcher")), cfg.Notifier.Timeout)
}

// ProvideTimeSeriesStore creates the in-memory tick and OHLCV store.
func ProvideTimeSeriesStore(cfg *config.Config) *usecase.TimeSeriesStore {
	return usecase.NewTimeSeriesStore(cfg.Store.BucketWidth, cfg.Store.MaxTicksPerSymbol)
}

// ProvideRuleEvaluator creates the evaluator run for every recorded tick.
func ProvideRuleEvaluator(
	cfg *config.Config,
	rules repository.RuleRepository,
	store *usecase.TimeSeriesStore,
	locker usecase.RuleLocker,
	dispatcher *usecase.NotificationDispatcher,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.RuleEvaluator {
	return usecase.NewRuleEvaluator(rules, store, locker, dispatcher, m,
		lgr.With(logger.String("component", "evaluator")), cfg.Rules.PersistenceTimeout)
}

// ProvideHub creates the websocket hub, or nil when live updates are disabled.
func ProvideHub(cfg *config.Config, lgr *logger.Logger) *live.Hub {
	if cfg.Live.Disabled {
		return nil
	}
	return live.NewHub(lgr.With(logger.String("component", "live")), cfg.Live.ClientBuffer, cfg.Live.WriteTimeout)
}

// ProvideClickHouseClient creates a ClickHouse client with the archive schema, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithConnMaxLifetime(30*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ArchiveSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideTickArchive wraps the ClickHouse client, or returns nil without one.
func ProvideTickArchive(ch *pkgch.Client, lgr *logger.Logger) *internalrepo.ClickHouseTickArchive {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseTickArchive(ch, lgr.With(logger.String("component", "archive")))
}

// ProvideArchiveBuffer batches ticks in front of the archive, or returns nil without one.
func ProvideArchiveBuffer(cfg *config.Config, archive *internalrepo.ClickHouseTickArchive, m repository.Metrics, lgr *logger.Logger) *mid.ArchiveBuffer {
	if archive == nil {
		return nil
	}
	return mid.NewArchiveBuffer(archive, m, lgr.With(logger.String("component", "archive_buffer")),
		mid.WithBatchSize(cfg.Archive.BatchSize),
		mid.WithBufferSize(cfg.Archive.BufferSize),
		mid.WithFlushInterval(cfg.Archive.FlushInterval),
	)
}

// ProvideTickPublisher emits ticks and candles to the tick topic, or returns nil without Kafka.
func ProvideTickPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.TickTopic)
}

// ProvideTickEgress routes recorded ticks to the optional backends.
func ProvideTickEgress(
	cfg *config.Config,
	pub *internalrepo.KafkaPublisher,
	buf *mid.ArchiveBuffer,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.TickEgress {
	var (
		p    repository.Publisher
		sink usecase.ArchiveSink
	)
	if pub != nil {
		p = pub
	}
	if buf != nil {
		sink = buf
	}
	return usecase.NewTickEgress(p, sink, m, lgr.With(logger.String("component", "egress")), cfg.Kafka.Producer.WriteTimeout)
}

// ProvideTickPipeline creates the orchestrator's sink.
func ProvideTickPipeline(
	cfg *config.Config,
	store *usecase.TimeSeriesStore,
	evaluator *usecase.RuleEvaluator,
	hub *live.Hub,
	egress *usecase.TickEgress,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.TickPipeline {
	var b repository.Broadcaster
	if hub != nil {
		b = hub
	}
	return usecase.NewTickPipeline(store, evaluator, b, egress, m,
		lgr.With(logger.String("component", "pipeline")), cfg.Store.LaneBuffer)
}

// ProvideLimiter creates the token-bucket limiter shared by the API and rate-capped providers.
func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideFeedSources builds the candidates in configured order. A lone "synthetic"
// leaves the list empty so the fallback runs directly.
func ProvideFeedSources(cfg *config.Config, rl *ratelimit.Limiter, m repository.Metrics, lgr *logger.Logger) ([]repository.FeedSource, error) {
	fl := lgr.With(logger.String("component", "feed"))
	fresh := cfg.Feed.FreshnessWindow
	var out []repository.FeedSource
	for _, name := range cfg.ProviderOrder() {
		switch name {
		case feeds.Yahoo:
			y := cfg.Feed.Yahoo
			out = append(out, feeds.NewYahooFeed(feeds.YahooConfig{
				BaseURL:      y.BaseURL,
				Suffix:       y.Suffix,
				SymbolMap:    y.SymbolMap,
				PollInterval: y.PollInterval,
				Timeout:      cfg.Feed.RequestTimeout,
				Freshness:    fresh,
			}, m, fl))
		case feeds.AlphaVantage:
			av := cfg.Feed.AlphaVantage
			out = append(out, feeds.NewAlphaVantageFeed(feeds.AlphaVantageConfig{
				APIKey:            av.APIKey,
				BaseURL:           av.BaseURL,
				Suffix:            av.Suffix,
				SymbolMap:         av.SymbolMap,
				PollInterval:      av.PollInterval,
				RequestsPerMinute: av.RequestsPerMinute,
				Timeout:           cfg.Feed.RequestTimeout,
				Freshness:         fresh,
			}, rl, m, fl))
		case feeds.Finnhub:
			fh := cfg.Feed.Finnhub
			out = append(out, feeds.NewFinnhubFeed(feeds.FinnhubConfig{
				APIKey:         fh.APIKey,
				WebSocketURL:   fh.WebSocketURL,
				SymbolMap:      fh.SymbolMap,
				Symbols:        cfg.Feed.Symbols,
				PollInterval:   fh.PollInterval,
				ReconnectDelay: fh.ReconnectDelay,
				PingInterval:   fh.PingInterval,
				Freshness:      fresh,
			}, m, fl))
		case feeds.AngelOne:
			ao := cfg.Feed.AngelOne
			out = append(out, feeds.NewAngelOneFeed(feeds.AngelOneConfig{
				APIKey:         ao.APIKey,
				ClientCode:     ao.ClientCode,
				Password:       ao.Password,
				TOTP:           ao.TOTP,
				LoginURL:       ao.LoginURL,
				WebSocketURL:   ao.WebSocketURL,
				Suffix:         ao.Suffix,
				SymbolMap:      ao.SymbolMap,
				Symbols:        cfg.Feed.Symbols,
				PollInterval:   ao.PollInterval,
				ReconnectDelay: ao.ReconnectDelay,
				PingInterval:   ao.PingInterval,
				Timeout:        cfg.Feed.RequestTimeout,
				Freshness:      fresh,
			}, m, fl))
		case feeds.Kafka:
			kc := cfg.Kafka.Consumer
			out = append(out, feeds.NewKafkaFeed(feeds.KafkaConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Feed.Kafka.Topic,
				PollInterval: cfg.Feed.Kafka.PollInterval,
				Freshness:    fresh,
				Consumer: []pkgkafka.ConsumerOption{
					pkgkafka.WithConsumerGroupID(cfg.Feed.Kafka.GroupID),
					pkgkafka.WithConsumerAutoOffsetReset("latest"),
					pkgkafka.WithConsumerWorkers(kc.Workers),
					pkgkafka.WithConsumerBufferSize(kc.BufferSize),
					pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
					pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
					pkgkafka.WithConsumerDLQ(kc.DLQTopic),
				},
			}, m, fl))
		case feeds.Synthetic:
		default:
			return nil, fmt.Errorf("unknown feed provider %q", name)
		}
	}
	return out, nil
}

// ProvideFeedOrchestrator owns the polling loop with the synthetic feed as last resort.
func ProvideFeedOrchestrator(
	cfg *config.Config,
	sources []repository.FeedSource,
	pipeline *usecase.TickPipeline,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.FeedOrchestrator {
	s := cfg.Feed.Synthetic
	fallback := feeds.NewSyntheticFeed(s.Seed, s.Seeds, s.PollInterval)
	return usecase.NewFeedOrchestrator(sources, fallback, cfg.Feed.Symbols, pipeline.Submit,
		cfg.Feed.RequestTimeout, m, lgr.With(logger.String("component", "orchestrator")))
}

// ProvideSnapshotJob schedules the OHLCV snapshot, or returns nil with nowhere to write it.
func ProvideSnapshotJob(
	cfg *config.Config,
	store *usecase.TimeSeriesStore,
	archive *internalrepo.ClickHouseTickArchive,
	pub *internalrepo.KafkaPublisher,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.SnapshotJob {
	if archive == nil && pub == nil {
		return nil
	}
	var (
		a repository.TickArchive
		p repository.Publisher
	)
	if archive != nil {
		a = archive
	}
	if pub != nil {
		p = pub
	}
	return usecase.NewSnapshotJob(cfg.Archive.SnapshotSchedule, store, a, p, m,
		lgr.With(logger.String("component", "snapshot")))
}

// ProvideMarketHandler creates the read API.
func ProvideMarketHandler(
	cfg *config.Config,
	lgr *logger.Logger,
	store *usecase.TimeSeriesStore,
	orch *usecase.FeedOrchestrator,
	rules repository.RuleRepository,
	archive *internalrepo.ClickHouseTickArchive,
	rl *ratelimit.Limiter,
	hub *live.Hub,
) *api.MarketHandler {
	var ca api.CandleArchive
	if archive != nil {
		ca = archive
	}
	h := api.NewMarketHandler(lgr.With(logger.String("component", "api")), store, orch, rules, ca, cfg.Feed.Symbols, rl)
	if hub != nil {
		h.WithLive(hub)
	}
	return h
}

// ProvideHTTPServer creates the Echo server with every route handler.
func ProvideHTTPServer(cfg *config.Config, lgr *logger.Logger, market *api.MarketHandler, hub *live.Hub) *xhttp.Server {
	handlers := []xhttp.Handler{market}
	if hub != nil {
		handlers = append(handlers, hub)
	}
	return xhttp.NewServer(lgr.With(logger.String("component", "http")), handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(len(cfg.Server.CORSOrigins) > 0, cfg.Server.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
	)
}

// ProvideInfra lists the clients the app closes last, producers before the stores they feed.
func ProvideInfra(
	rules repository.RuleRepository,
	c cache.Service,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
) server.Infra {
	infra := server.Infra{{Name: "rule repository", Close: rules.Close}}
	if producer != nil {
		infra = append(infra, server.Closer{Name: "kafka producer", Close: producer.Close})
	}
	if ch != nil {
		infra = append(infra, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	// Closing the layered cache closes the Redis client too.
	infra = append(infra, server.Closer{Name: "cache", Close: c.Close})
	return infra
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	dispatcher *usecase.NotificationDispatcher,
	pipeline *usecase.TickPipeline,
	egress *usecase.TickEgress,
	buf *mid.ArchiveBuffer,
	snapshot *usecase.SnapshotJob,
	orch *usecase.FeedOrchestrator,
	hub *live.Hub,
	httpServer *xhttp.Server,
	infra server.Infra,
) *server.App {
	return server.New(cfg, lgr, dispatcher, pipeline, egress, buf, snapshot, orch, hub, httpServer, infra)
}
