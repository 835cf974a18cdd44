package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/pkg/cache"
	applogger "PollPulse/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisStatsRelay carries stats snapshots between backend instances over
// Redis pub/sub.
type RedisStatsRelay struct {
	client  *redis.Client
	channel string
	log     *applogger.Logger
}

func NewRedisStatsRelay(client *redis.Client, prefix string, l *applogger.Logger) *RedisStatsRelay {
	if l == nil {
		l = applogger.Nop()
	}
	return &RedisStatsRelay{client: client, channel: cache.Key(prefix, "stats"), log: l}
}

var _ domrepo.StatsRelay = (*RedisStatsRelay)(nil)

func (r *RedisStatsRelay) Publish(ctx context.Context, s models.StatsSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("relay stats: %w", err)
	}
	return nil
}

func (r *RedisStatsRelay) Subscribe(ctx context.Context, fn func(models.StatsSnapshot)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("stats relay subscribed", applogger.String("channel", r.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.channel)
			}
			var s models.StatsSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				r.log.Warn("dropping malformed relayed stats", applogger.Error(err))
				continue
			}
			fn(s)
		}
	}
}

// Close is a no-op; the client belongs to the cache layer.
func (r *RedisStatsRelay) Close() error { return nil }
