package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	"PollPulse/pkg/cache"

	"github.com/redis/go-redis/v9"
)

const (
	totalField = "total"
	maxTxRetry = 5
)

// RedisPollStore keeps each poll as a JSON document plus a hash of counts:
//
//	<prefix>:poll:<id>          poll JSON, counts zeroed
//	<prefix>:poll:<id>:counts   option id -> count, "total" -> total
//	<prefix>:polls              sorted set of ids by creation time
//	<prefix>:seq:poll|option    id sequences
type RedisPollStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisPollStore(client *redis.Client, prefix string) *RedisPollStore {
	return &RedisPollStore{client: client, prefix: prefix, now: time.Now}
}

var _ domrepo.PollStore = (*RedisPollStore)(nil)

func (s *RedisPollStore) key(parts ...interface{}) string {
	return cache.Key(append([]interface{}{s.prefix}, parts...)...)
}

func (s *RedisPollStore) pollKey(id models.PollID) string   { return s.key("poll", id) }
func (s *RedisPollStore) countsKey(id models.PollID) string { return s.key("poll", id, "counts") }
func (s *RedisPollStore) indexKey() string                  { return s.key("polls") }

func decodePoll(raw string, counts map[string]string) (*models.Poll, error) {
	var p models.Poll
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	applyCounts(&p, counts)
	return &p, nil
}

func applyCounts(p *models.Poll, counts map[string]string) {
	p.TotalVotes, _ = strconv.ParseInt(counts[totalField], 10, 64)
	for i := range p.Options {
		p.Options[i].Count, _ = strconv.ParseInt(counts[strconv.FormatInt(p.Options[i].ID, 10)], 10, 64)
	}
}

func encodePoll(p *models.Poll) ([]byte, error) {
	c := p.Clone()
	c.TotalVotes = 0
	for i := range c.Options {
		c.Options[i].Count = 0
		c.Options[i].Percentage = 0
	}
	return json.Marshal(c)
}

func (s *RedisPollStore) List(ctx context.Context, skip, limit int) ([]*models.Poll, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(skip + limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), int64(skip), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list poll ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Poll{}, nil
	}

	docs := make([]*redis.StringCmd, len(ids))
	counts := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range ids {
			id, _ := strconv.ParseInt(raw, 10, 64)
			docs[i] = pipe.Get(ctx, s.pollKey(models.PollID(id)))
			counts[i] = pipe.HGetAll(ctx, s.countsKey(models.PollID(id)))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load polls: %w", err)
	}

	out := make([]*models.Poll, 0, len(ids))
	for i := range ids {
		raw, err := docs[i].Result()
		if errors.Is(err, redis.Nil) {
			// deleted between the index read and the load
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load poll %s: %w", ids[i], err)
		}
		p, err := decodePoll(raw, counts[i].Val())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisPollStore) load(ctx context.Context, c redis.Cmdable, id models.PollID) (*models.Poll, error) {
	raw, err := c.Get(ctx, s.pollKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll %d: %w", id, err)
	}
	counts, err := c.HGetAll(ctx, s.countsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get counts %d: %w", id, err)
	}
	return decodePoll(raw, counts)
}

func (s *RedisPollStore) Get(ctx context.Context, id models.PollID) (*models.Poll, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisPollStore) Create(ctx context.Context, p *models.Poll) (*models.Poll, error) {
	pid, err := s.client.Incr(ctx, s.key("seq", "poll")).Result()
	if err != nil {
		return nil, fmt.Errorf("next poll id: %w", err)
	}
	last, err := s.client.IncrBy(ctx, s.key("seq", "option"), int64(len(p.Options))).Result()
	if err != nil {
		return nil, fmt.Errorf("next option ids: %w", err)
	}

	c := p.Clone()
	c.ID = models.PollID(pid)
	c.CreatedAt = s.now().UTC()
	c.UpdatedAt = c.CreatedAt
	first := last - int64(len(c.Options)) + 1
	for i := range c.Options {
		c.Options[i].ID = first + int64(i)
		c.Options[i].PollID = c.ID
	}

	doc, err := encodePoll(c)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.pollKey(c.ID), doc, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.CreatedAt.UnixNano()), Member: c.ID.String()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store poll: %w", err)
	}
	applyCounts(c, nil)
	return c, nil
}

// watch runs fn in an optimistic transaction on the poll key, retrying on
// concurrent modification.
func (s *RedisPollStore) watch(ctx context.Context, id models.PollID, fn func(tx *redis.Tx) error) error {
	var err error
	for i := 0; i < maxTxRetry; i++ {
		err = s.client.Watch(ctx, fn, s.pollKey(id))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("poll %d: too much contention: %w", id, err)
}

func (s *RedisPollStore) Update(ctx context.Context, p *models.Poll) (*models.Poll, error) {
	var out *models.Poll
	err := s.watch(ctx, p.ID, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		cur.Title = p.Title
		cur.Question = p.Question
		cur.VoteType = p.VoteType
		cur.StartTime = p.StartTime
		cur.EndTime = p.EndTime
		cur.UpdatedAt = s.now().UTC()

		doc, err := encodePoll(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.pollKey(p.ID), doc, 0)
			return nil
		})
		out = cur
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisPollStore) Delete(ctx context.Context, id models.PollID) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.pollKey(id))
		pipe.Del(ctx, s.countsKey(id))
		pipe.ZRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete poll %d: %w", id, err)
	}
	if del.Val() == 0 {
		return models.ErrPollNotFound
	}
	return nil
}

func (s *RedisPollStore) AddVotes(ctx context.Context, id models.PollID, optionIDs []int64) (*models.Poll, error) {
	var out *models.Poll
	err := s.watch(ctx, id, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.pollKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrPollNotFound
		}
		if err != nil {
			return fmt.Errorf("get poll %d: %w", id, err)
		}
		p, err := decodePoll(raw, nil)
		if err != nil {
			return err
		}
		for _, oid := range optionIDs {
			if _, ok := p.Option(oid); !ok {
				return models.Errorf(models.ErrOptionNotFound, "option %d not found in poll %d", oid, id)
			}
		}

		ck := s.countsKey(id)
		var counts *redis.MapStringStringCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, oid := range optionIDs {
				pipe.HIncrBy(ctx, ck, strconv.FormatInt(oid, 10), 1)
			}
			pipe.HIncrBy(ctx, ck, totalField, int64(len(optionIDs)))
			counts = pipe.HGetAll(ctx, ck)
			return nil
		})
		if err != nil {
			return fmt.Errorf("increment votes: %w", err)
		}
		applyCounts(p, counts.Val())
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a no-op; the client belongs to the cache layer.
func (s *RedisPollStore) Close() error { return nil }
