package repository

import (
	"context"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	pkgkafka "PollPulse/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// EventIDHeader carries the vote event id; consumers use it for idempotency.
const EventIDHeader = "event_id"

// KafkaVotePublisher publishes vote events keyed by poll id, so the events of
// one poll stay ordered within a partition.
type KafkaVotePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaVotePublisher(producer *pkgkafka.Producer, topic string) *KafkaVotePublisher {
	return &KafkaVotePublisher{producer: producer, topic: topic}
}

var _ domrepo.VotePublisher = (*KafkaVotePublisher)(nil)

func voteKey(ev *models.VoteEvent) []byte { return []byte(ev.PollID.String()) }

func voteHeaders(ev *models.VoteEvent) []kafka.Header {
	return []kafka.Header{{Key: EventIDHeader, Value: []byte(ev.EventID)}}
}

func (p *KafkaVotePublisher) PublishVote(ctx context.Context, ev *models.VoteEvent) error {
	return p.producer.Publish(ctx, p.topic, voteKey(ev), ev, voteHeaders(ev)...)
}

func (p *KafkaVotePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
