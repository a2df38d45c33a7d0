//go:build wireinject
// +build wireinject

package di

import (
	"TrendScan/pkg/config"
	"TrendScan/pkg/server"

	"github.com/google/wire"
)

// coreSet wires the scan chain and the storage tiers.
var coreSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,

	// Infrastructure clients
	ProvideRedisCache,
	ProvideCacheService,
	ProvideBarCache,
	ProvidePostgresClient,
	ProvideClickHouseClient,
	ProvideKafkaProducer,

	// Storage tiers
	ProvideSignalStore,
	ProvideAnalyticsStore,
	ProvideFallbackStore,
	ProvidePublisher,

	// Scan chain
	ProvideBarSource,
	ProvideLoader,
	ProvideFitter,
	ProvideSimulator,
	ProvideOptimizer,
	ProvidePipeline,
	ProvideScanner,
)

// InitializeApp wires the serve-mode daemon.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		coreSet,
		ProvideOpsHandler,
		ProvideFeedCollector,
		ProvideRetentionQueue,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeRuntime wires the one-shot scan runtime.
func InitializeRuntime(cfg *config.Config) (*Runtime, error) {
	wire.Build(
		coreSet,
		ProvideRuntime,
	)
	return &Runtime{}, nil
}
