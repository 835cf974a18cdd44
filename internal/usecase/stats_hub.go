package usecase

import (
	"context"
	"sync"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	applogger "PollPulse/pkg/logger"
)

// Subscription receives the stats of one poll. Only the newest snapshot is
// kept when the reader falls behind.
type Subscription struct {
	PollID    models.PollID
	Transport string

	hub  *StatsHub
	ch   chan models.StatsSnapshot
	once sync.Once
}

// Updates is closed when the subscription is closed.
func (s *Subscription) Updates() <-chan models.StatsSnapshot { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// StatsHub fans stats out to the stream subscribers of this process. With a
// relay, Publish goes through the relay so every instance delivers the same
// updates; Run must then be running.
type StatsHub struct {
	relay   domrepo.StatsRelay
	buffer  int
	log     *applogger.Logger
	metrics domrepo.Metrics

	mu   sync.RWMutex
	subs map[models.PollID]map[*Subscription]struct{}
	// last delivered total per poll; totals only grow on the server
	last map[models.PollID]int64
}

type HubOption func(*StatsHub)

func WithRelay(r domrepo.StatsRelay) HubOption {
	return func(h *StatsHub) { h.relay = r }
}

func WithSubscriberBuffer(n int) HubOption {
	return func(h *StatsHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithHubLogger(l *applogger.Logger) HubOption {
	return func(h *StatsHub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithHubMetrics(m domrepo.Metrics) HubOption {
	return func(h *StatsHub) {
		if m != nil {
			h.metrics = m
		}
	}
}

func NewStatsHub(opts ...HubOption) *StatsHub {
	h := &StatsHub{
		buffer:  16,
		log:     applogger.Nop(),
		metrics: domrepo.NopMetrics{},
		subs:    make(map[models.PollID]map[*Subscription]struct{}),
		last:    make(map[models.PollID]int64),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *StatsHub) Subscribe(id models.PollID, transport string) *Subscription {
	s := &Subscription{
		PollID:    id,
		Transport: transport,
		hub:       h,
		ch:        make(chan models.StatsSnapshot, h.buffer),
	}
	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[id] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	h.metrics.AddSubscribers(transport, 1)
	return s
}

func (h *StatsHub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[s.PollID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.PollID)
		}
	}
	close(s.ch)
	h.mu.Unlock()

	h.metrics.AddSubscribers(s.Transport, -1)
}

func (h *StatsHub) SubscriberCount(id models.PollID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id])
}

// Publish broadcasts s to every subscriber of its poll.
func (h *StatsHub) Publish(ctx context.Context, s models.StatsSnapshot) error {
	if h.relay != nil {
		return h.relay.Publish(ctx, s)
	}
	h.deliver(s)
	return nil
}

// Run forwards relayed snapshots to local subscribers until ctx is done.
// Without a relay it just waits.
func (h *StatsHub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, h.deliver)
}

// Forget drops per-poll state after a poll is deleted.
func (h *StatsHub) Forget(id models.PollID) {
	h.mu.Lock()
	delete(h.last, id)
	h.mu.Unlock()
}

func (h *StatsHub) deliver(s models.StatsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.last[s.PollID]; ok && s.TotalVotes < last {
		h.log.Debug("skipping out-of-order stats",
			applogger.Int64("poll_id", int64(s.PollID)),
			applogger.Int64("total", s.TotalVotes),
			applogger.Int64("last", last),
		)
		return
	}
	h.last[s.PollID] = s.TotalVotes

	for sub := range h.subs[s.PollID] {
		snap := s.Clone()
		select {
		case sub.ch <- snap:
		default:
			// drop the oldest, keep the newest
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
	h.metrics.RecordBroadcast()
}
