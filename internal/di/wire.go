//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/vijayshreepathak/QuantAlert/pkg/config"
	"github.com/vijayshreepathak/QuantAlert/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideRuleRepository,
		ProvideTickArchive,
		ProvideTickPublisher,
		ProvideArchiveBuffer,

		// Notification path
		ProvideQueue,
		ProvideNotifier,
		ProvideNotificationDispatcher,

		// Use cases
		ProvideTimeSeriesStore,
		ProvideRuleLocker,
		ProvideRuleEvaluator,
		ProvideHub,
		ProvideTickEgress,
		ProvideTickPipeline,
		ProvideLimiter,
		ProvideFeedSources,
		ProvideFeedOrchestrator,
		ProvideSnapshotJob,

		// HTTP
		ProvideMarketHandler,
		ProvideHTTPServer,

		// Application server
		ProvideInfra,
		ProvideApp,
	)
	return &server.App{}, nil
}
