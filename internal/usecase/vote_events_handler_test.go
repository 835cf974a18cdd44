package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PollPulse/internal/domain/models"
	pkgkafka "PollPulse/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

type memVoteStore struct {
	stored []*models.VoteEvent
	err    error
}

func (s *memVoteStore) Init(context.Context) error { return nil }

func (s *memVoteStore) StoreVotes(_ context.Context, evs []*models.VoteEvent) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, evs...)
	return nil
}

func (s *memVoteStore) CountByPoll(_ context.Context, id models.PollID) (int64, error) {
	var n int64
	for _, ev := range s.stored {
		if ev.PollID == id {
			n++
		}
	}
	return n, nil
}

func (s *memVoteStore) Health(context.Context) error { return nil }

func TestVoteEventsHandlerStores(t *testing.T) {
	store := &memVoteStore{}
	h := NewVoteEventsHandler("votes", store, nil, nil)
	if h.Topic() != "votes" {
		t.Fatalf("topic = %s", h.Topic())
	}

	b, _ := json.Marshal(models.VoteEvent{EventID: "e1", PollID: 4, OptionIDs: []int64{2}, CastAt: time.Now()})
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountByPoll(context.Background(), 4); n != 1 {
		t.Fatalf("stored = %d", n)
	}
}

func TestVoteEventsHandlerEventIDFromHeader(t *testing.T) {
	store := &memVoteStore{}
	h := NewVoteEventsHandler("votes", store, nil, nil)

	km := kafka.Message{Headers: []kafka.Header{{Key: "event_id", Value: []byte("from-header")}}}
	ctx, err := pkgkafka.EventIDHook().BeforeHandle(context.Background(), km)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(models.VoteEvent{PollID: 4, OptionIDs: []int64{2}})
	if err := h.Handle(ctx, b); err != nil {
		t.Fatal(err)
	}
	if store.stored[0].EventID != "from-header" {
		t.Fatalf("event id = %q", store.stored[0].EventID)
	}
}

func TestVoteEventsHandlerErrors(t *testing.T) {
	store := &memVoteStore{}
	h := NewVoteEventsHandler("votes", store, nil, nil)

	if err := h.Handle(context.Background(), []byte("{")); err == nil {
		t.Fatal("malformed payload accepted")
	}
	b, _ := json.Marshal(models.VoteEvent{PollID: 4})
	if err := h.Handle(context.Background(), b); err == nil {
		t.Fatal("event without id accepted")
	}

	store.err = errors.New("clickhouse down")
	b, _ = json.Marshal(models.VoteEvent{EventID: "e", PollID: 4})
	if err := h.Handle(context.Background(), b); !errors.Is(err, store.err) {
		t.Fatalf("err = %v", err)
	}
}
