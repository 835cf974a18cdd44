package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
)

type flakyPublisher struct {
	mu     sync.Mutex
	fail   int
	events []string
}

func (f *flakyPublisher) PublishVote(_ context.Context, ev *models.VoteEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("broker down")
	}
	f.events = append(f.events, ev.EventID)
	return nil
}

func (f *flakyPublisher) Close() error { return nil }

func (f *flakyPublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func event(id string) *models.VoteEvent {
	return &models.VoteEvent{EventID: id, PollID: 1, OptionIDs: []int64{1}, CastAt: time.Now()}
}

func TestVotePipelineRejectsInvalidEvents(t *testing.T) {
	p := NewVotePipeline(&flakyPublisher{}, domrepo.NopMetrics{})
	for _, ev := range []*models.VoteEvent{
		nil,
		{PollID: 1, OptionIDs: []int64{1}, CastAt: time.Now()},
		{EventID: "x", OptionIDs: []int64{1}, CastAt: time.Now()},
		{EventID: "x", PollID: 1, CastAt: time.Now()},
		{EventID: "x", PollID: 1, OptionIDs: []int64{1}},
	} {
		if err := p.Process(context.Background(), ev); err == nil {
			t.Fatalf("accepted invalid event %+v", ev)
		}
	}
}

func TestVotePipelineRetriesBufferedEvents(t *testing.T) {
	pub := &flakyPublisher{fail: 2}
	p := NewVotePipeline(pub, nil, WithBackoff(time.Millisecond, 5*time.Millisecond))

	if err := p.Process(context.Background(), event("a")); err != nil {
		t.Fatalf("buffered event reported as error: %v", err)
	}
	if p.Pending() != 1 {
		t.Fatalf("pending = %d", p.Pending())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := pub.published(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("published = %v", got)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestVotePipelineFullBuffer(t *testing.T) {
	pub := &flakyPublisher{fail: 10}
	p := NewVotePipeline(pub, nil, WithBufferSize(1))

	if err := p.Process(context.Background(), event("a")); err != nil {
		t.Fatal(err)
	}
	err := p.Process(context.Background(), event("b"))
	if !errors.Is(err, ErrPipelineFull) {
		t.Fatalf("err = %v", err)
	}
}
