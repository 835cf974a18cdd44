package usecase

import (
	"context"
	"errors"
	"testing"

	"PollPulse/internal/domain/models"
)

type loopRelay struct {
	published  []models.StatsSnapshot
	subscribed chan func(models.StatsSnapshot)
}

func (r *loopRelay) Publish(_ context.Context, s models.StatsSnapshot) error {
	r.published = append(r.published, s)
	return nil
}

func (r *loopRelay) Subscribe(ctx context.Context, fn func(models.StatsSnapshot)) error {
	r.subscribed <- fn
	<-ctx.Done()
	return nil
}

func (r *loopRelay) Close() error { return nil }

func TestStatsHubKeepsNewest(t *testing.T) {
	h := NewStatsHub(WithSubscriberBuffer(1))
	sub := h.Subscribe(1, "sse")
	other := h.Subscribe(2, "sse")
	defer other.Close()

	for _, n := range []int64{1, 2, 3} {
		_ = h.Publish(context.Background(), snap(1, n))
	}
	got := <-sub.Updates()
	if got.TotalVotes != 3 {
		t.Fatalf("got total %d, want newest", got.TotalVotes)
	}
	select {
	case s := <-other.Updates():
		t.Fatalf("other poll received %+v", s)
	default:
	}

	sub.Close()
	sub.Close()
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("channel open after Close")
	}
	if h.SubscriberCount(1) != 0 || h.SubscriberCount(2) != 1 {
		t.Fatalf("counts = %d, %d", h.SubscriberCount(1), h.SubscriberCount(2))
	}
}

func TestStatsHubSkipsOutOfOrder(t *testing.T) {
	h := NewStatsHub()
	sub := h.Subscribe(1, "ws")
	defer sub.Close()

	_ = h.Publish(context.Background(), snap(1, 5))
	_ = h.Publish(context.Background(), snap(1, 4))
	_ = h.Publish(context.Background(), snap(1, 5))

	if n := len(sub.Updates()); n != 2 {
		t.Fatalf("queued %d, want 2", n)
	}
	h.Forget(1)
	_ = h.Publish(context.Background(), snap(1, 1))
	if n := len(sub.Updates()); n != 3 {
		t.Fatalf("queued %d after Forget, want 3", n)
	}
}

func TestStatsHubThroughRelay(t *testing.T) {
	relay := &loopRelay{subscribed: make(chan func(models.StatsSnapshot), 1)}
	h := NewStatsHub(WithRelay(relay))
	sub := h.Subscribe(1, "sse")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	_ = h.Publish(context.Background(), snap(1, 2))
	if len(relay.published) != 1 {
		t.Fatalf("relay got %d", len(relay.published))
	}
	if len(sub.Updates()) != 0 {
		t.Fatal("delivered locally before the relay")
	}

	deliver := <-relay.subscribed
	deliver(relay.published[0])
	if got := <-sub.Updates(); got.TotalVotes != 2 {
		t.Fatalf("got %+v", got)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
}
