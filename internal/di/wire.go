//go:build wireinject
// +build wireinject

package di

import (
	"PollPulse/pkg/config"
	"PollPulse/pkg/server"

	"github.com/google/wire"
)

var backendSet = wire.NewSet(
	// Infrastructure clients
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideCache,
	ProvideClickHouseClient,

	// Repositories
	ProvidePollStore,
	ProvideVotePublisher,
	ProvideVoteStore,

	// Use cases
	ProvideStatsHub,
	ProvideVoteGuard,
	ProvideVotePipeline,
	ProvidePollService,
	ProvideVoteEventsHandler,
	ProvideKafkaConsumer,

	// HTTP
	ProvideLimiter,
	ProvidePollsHandler,
	ProvideStreamHandler,

	ProvideApp,
)

// InitializeApp wires up the poll backend.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(backendSet)
	return &server.App{}, nil
}

// InitializeWatcher wires up the streaming client core.
func InitializeWatcher(cfg *config.Config, voterID string) (*Watcher, error) {
	wire.Build(
		ProvideClientLogger,
		ProvideMetrics,
		ProvidePollAPI,
		ProvideStreamFactory,
		ProvideStreamManager,
		ProvideReconciler,
		ProvideWatcher,
	)
	return &Watcher{}, nil
}
