package di

import (
	"context"
	"fmt"
	"time"

	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/internal/handler/api"
	mid "PollPulse/internal/middleware"
	internalrepo "PollPulse/internal/repository"
	"PollPulse/internal/service/pollapi"
	"PollPulse/internal/service/ratelimit"
	"PollPulse/internal/service/stream"
	"PollPulse/internal/usecase"
	"PollPulse/pkg/cache"
	pkgch "PollPulse/pkg/clickhouse"
	"PollPulse/pkg/config"
	pkgkafka "PollPulse/pkg/kafka"
	applogger "PollPulse/pkg/logger"
	"PollPulse/pkg/metrics"
	"PollPulse/pkg/server"
)

const connectTimeout = 10 * time.Second

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchTimeout, cfg.Kafka.Producer.Async),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. When a collect topic is configured
// and Kafka is up, repeated errors are also shipped there.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Topic:     cfg.Log.CollectTopic,
			Publisher: producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideCache returns the Redis cache when Redis is enabled, the in-memory
// one otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Vote.GuardCapacity)), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func redisOf(c cache.Service) *cache.RedisCache {
	rc, _ := c.(*cache.RedisCache)
	return rc
}

// ProvidePollStore picks the poll store named by store.type.
func ProvidePollStore(cfg *config.Config, c cache.Service) (domrepo.PollStore, error) {
	if cfg.Store.Type != "redis" {
		return internalrepo.NewMemoryPollStore(), nil
	}
	rc := redisOf(c)
	if rc == nil {
		return nil, fmt.Errorf("store.type=redis needs a redis cache")
	}
	return internalrepo.NewRedisPollStore(rc.Client(), cfg.Redis.Prefix), nil
}

// ProvideStatsHub relays stats through Redis pub/sub when Redis is enabled so
// every backend instance sees every vote.
func ProvideStatsHub(cfg *config.Config, c cache.Service, l *applogger.Logger, m domrepo.Metrics) *usecase.StatsHub {
	opts := []usecase.HubOption{
		usecase.WithSubscriberBuffer(cfg.Stream.SubscriberBuffer),
		usecase.WithHubLogger(l),
		usecase.WithHubMetrics(m),
	}
	if rc := redisOf(c); rc != nil {
		opts = append(opts, usecase.WithRelay(internalrepo.NewRedisStatsRelay(rc.Client(), cfg.Redis.Prefix, l)))
	}
	return usecase.NewStatsHub(opts...)
}

func ProvideVoteGuard(cfg *config.Config, c cache.Service) *usecase.VoteGuard {
	return usecase.NewVoteGuard(c, cfg.Vote.DuplicateTTL)
}

// ProvideVotePublisher wraps the producer; nil without Kafka.
func ProvideVotePublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.VotePublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaVotePublisher(producer, cfg.Kafka.Topic)
}

// ProvideVotePipeline buffers vote events in front of the publisher.
func ProvideVotePipeline(cfg *config.Config, pub domrepo.VotePublisher, m domrepo.Metrics, l *applogger.Logger) *mid.VotePipeline {
	if pub == nil {
		return nil
	}
	return mid.NewVotePipeline(pub, m,
		mid.WithBufferSize(cfg.Vote.PipelineBuffer),
		mid.WithBackoff(cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		mid.WithPipelineLogger(l),
	)
}

func ProvidePollService(
	store domrepo.PollStore,
	guard *usecase.VoteGuard,
	hub *usecase.StatsHub,
	pipe *mid.VotePipeline,
	l *applogger.Logger,
	m domrepo.Metrics,
) *usecase.PollService {
	opts := []usecase.PollServiceOption{
		usecase.WithPollLogger(l),
		usecase.WithPollMetrics(m),
	}
	if pipe != nil {
		opts = append(opts, usecase.WithVoteSink(pipe))
	}
	return usecase.NewPollService(store, guard, hub, opts...)
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Vote.RateLimit.Capacity, cfg.Vote.RateLimit.RefillPerSec)
}

func ProvidePollsHandler(l *applogger.Logger, svc *usecase.PollService, limiter *ratelimit.Limiter) *api.PollsEchoHandler {
	return api.NewPollsEchoHandler(l, svc, limiter)
}

func ProvideStreamHandler(cfg *config.Config, l *applogger.Logger, svc *usecase.PollService) *api.StreamEchoHandler {
	return api.NewStreamEchoHandler(l, svc, cfg.Stream.HeartbeatInterval)
}

// ProvideClickHouseClient connects the audit database; nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func ProvideVoteStore(ch *pkgch.Client, l *applogger.Logger) domrepo.VoteStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseVoteStore(ch, l)
}

// ProvideKafkaConsumer creates the audit consumer; it only runs when there is
// somewhere to store what it reads.
func ProvideKafkaConsumer(cfg *config.Config, store domrepo.VoteStore, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || store == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideVoteEventsHandler(cfg *config.Config, store domrepo.VoteStore, m domrepo.Metrics, l *applogger.Logger) *usecase.VoteEventsHandler {
	if store == nil {
		return nil
	}
	return usecase.NewVoteEventsHandler(cfg.Kafka.Topic, store, m, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	polls *api.PollsEchoHandler,
	streams *api.StreamEchoHandler,
	svc *usecase.PollService,
	store domrepo.PollStore,
	c cache.Service,
	limiter *ratelimit.Limiter,
	pipe *mid.VotePipeline,
	pub domrepo.VotePublisher,
	consumer *pkgkafka.Consumer,
	audit *usecase.VoteEventsHandler,
	voteStore domrepo.VoteStore,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
) *server.App {
	return server.New(cfg, server.Deps{
		Log:        l,
		Polls:      polls,
		Streams:    streams,
		Hub:        svc.Hub(),
		Store:      store,
		Cache:      c,
		Limiter:    limiter,
		Pipeline:   pipe,
		Publisher:  pub,
		Consumer:   consumer,
		Audit:      audit,
		VoteStore:  voteStore,
		ClickHouse: ch,
		Producer:   producer,
	})
}

// Watcher bundles the client core used by cmd/watch.
type Watcher struct {
	Log        *applogger.Logger
	API        *pollapi.Client
	Manager    *usecase.StreamManager
	Reconciler *usecase.StatsReconciler
}

// Close tears the client core down in dependency order.
func (w *Watcher) Close() {
	_ = w.Reconciler.Close()
	_ = w.Manager.Close()
}

// ProvideClientLogger is the watcher's logger. It writes to stderr so the
// rendered view on stdout stays readable.
func ProvideClientLogger(cfg *config.Config) (*applogger.Logger, error) {
	out := cfg.Log.Output
	if out == "" || out == "stdout" {
		out = "stderr"
	}
	return applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: "console", Output: out})
}

func ProvidePollAPI(cfg *config.Config, voterID string, l *applogger.Logger) *pollapi.Client {
	opts := []pollapi.Option{
		pollapi.WithRequestTimeout(cfg.Client.RequestTimeout),
		pollapi.WithLogger(l),
	}
	if voterID != "" {
		opts = append(opts, pollapi.WithVoterID(voterID))
	}
	return pollapi.New(cfg.Client.BaseURL, opts...)
}

func ProvideStreamFactory(cfg *config.Config, l *applogger.Logger) (stream.Factory, error) {
	return stream.NewFactory(cfg.Client.Transport, cfg.Client.BaseURL,
		stream.WithLogger(l),
		stream.WithPingInterval(cfg.Client.PingInterval),
	)
}

func ProvideStreamManager(cfg *config.Config, f stream.Factory, l *applogger.Logger, m domrepo.Metrics) *usecase.StreamManager {
	return usecase.NewStreamManager(f,
		usecase.WithReconnectDelay(cfg.Client.ReconnectDelay),
		usecase.WithManagerLogger(l),
		usecase.WithManagerMetrics(m),
	)
}

func ProvideReconciler(cfg *config.Config, mgr *usecase.StreamManager, client *pollapi.Client, l *applogger.Logger, m domrepo.Metrics) *usecase.StatsReconciler {
	return usecase.NewStatsReconciler(mgr, client,
		usecase.WithDecreasePolicy(usecase.DecreasePolicy(cfg.Client.DecreasePolicy)),
		usecase.WithReconcilerLogger(l),
		usecase.WithReconcilerMetrics(m),
	)
}

func ProvideWatcher(l *applogger.Logger, client *pollapi.Client, mgr *usecase.StreamManager, r *usecase.StatsReconciler) *Watcher {
	return &Watcher{Log: l, API: client, Manager: mgr, Reconciler: r}
}
