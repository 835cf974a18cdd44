package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/internal/handler/api"
	mid "PollPulse/internal/middleware"
	"PollPulse/internal/service/ratelimit"
	"PollPulse/internal/usecase"
	"PollPulse/pkg/cache"
	pkgch "PollPulse/pkg/clickhouse"
	"PollPulse/pkg/config"
	xhttp "PollPulse/pkg/http"
	pkgkafka "PollPulse/pkg/kafka"
	applogger "PollPulse/pkg/logger"
)

const limiterSweepInterval = time.Minute

// Deps groups everything App starts and stops. Optional pieces are nil when
// the matching backend is disabled in config.
type Deps struct {
	Log        *applogger.Logger
	Polls      *api.PollsEchoHandler
	Streams    *api.StreamEchoHandler
	Hub        *usecase.StatsHub
	Store      domrepo.PollStore
	Cache      cache.Service
	Limiter    *ratelimit.Limiter
	Pipeline   *mid.VotePipeline
	Publisher  domrepo.VotePublisher
	Consumer   *pkgkafka.Consumer
	Audit      *usecase.VoteEventsHandler
	VoteStore  domrepo.VoteStore
	ClickHouse *pkgch.Client
	Producer   *pkgkafka.Producer
}

// App encapsulates the backend lifecycle.
type App struct {
	cfg  *config.Config
	deps Deps
	log  *applogger.Logger

	httpServer *xhttp.Server
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, deps Deps) *App {
	l := deps.Log
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, deps: deps, log: l}
}

// Start brings up background workers and the HTTP server without blocking.
func (a *App) Start(ctx context.Context) error {
	if a.deps.VoteStore != nil {
		if err := a.deps.VoteStore.Init(ctx); err != nil {
			return err
		}
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	workers := 0
	finished := make(chan struct{}, 3)

	workers++
	go func() {
		defer func() { finished <- struct{}{} }()
		if err := a.deps.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("stats relay stopped", applogger.Error(err))
		}
	}()

	if a.deps.Pipeline != nil {
		a.deps.Pipeline.Start(ctx)
	}

	if a.deps.Limiter != nil {
		workers++
		go func() {
			defer func() { finished <- struct{}{} }()
			t := time.NewTicker(limiterSweepInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if n := a.deps.Limiter.Sweep(); n > 0 {
						a.log.Debug("rate limiter swept", applogger.Int("buckets", n))
					}
				}
			}
		}()
	}

	go func() {
		for i := 0; i < workers; i++ {
			<-finished
		}
		close(a.done)
	}()

	if a.deps.Consumer != nil && a.deps.Audit != nil {
		a.deps.Consumer.WithConsumerHook(pkgkafka.EventIDHook())
		a.deps.Consumer.RegisterHandler(a.deps.Audit)
		if err := a.deps.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.deps.Audit.Topic()))
	}

	a.httpServer = xhttp.NewServer(xhttp.Handlers{a.deps.Polls, a.deps.Streams},
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithBasePath(a.cfg.Server.BasePath),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithMetrics(a.cfg.Metrics.Enabled, a.cfg.Metrics.Path),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("poll backend started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("store", a.cfg.Store.Type),
		applogger.Bool("kafka", a.cfg.Kafka.Enabled),
		applogger.Bool("clickhouse", a.cfg.ClickHouse.Enabled),
	)
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Shutdown(ctx)
	return nil
}

// Shutdown stops streams first so the HTTP server can drain, then workers,
// then infrastructure clients.
func (a *App) Shutdown(ctx context.Context) {
	if a.deps.Streams != nil {
		a.deps.Streams.Shutdown()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.cancel != nil && a.done != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			a.log.Warn("background workers did not stop in time")
		}
	}
	if a.deps.Pipeline != nil {
		if err := a.deps.Pipeline.Stop(ctx); err != nil {
			a.log.Warn("vote pipeline stop error", applogger.Error(err))
		}
	}
	if a.deps.Consumer != nil {
		if err := a.deps.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.log.RemoveCollector()

	// the publisher owns the producer
	if a.deps.Publisher != nil {
		if err := a.deps.Publisher.Close(); err != nil {
			a.log.Warn("vote publisher close error", applogger.Error(err))
		}
	} else if a.deps.Producer != nil {
		_ = a.deps.Producer.Close()
	}
	if a.deps.ClickHouse != nil {
		if err := a.deps.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.deps.Store != nil {
		_ = a.deps.Store.Close()
	}
	if a.deps.Cache != nil {
		if err := a.deps.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
