package repository

import (
	"testing"

	"PollPulse/internal/domain/models"
	pkgkafka "PollPulse/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

func TestVoteMessageKeyAndHeaders(t *testing.T) {
	ev := &models.VoteEvent{EventID: "e-1", PollID: 42}

	if got := string(voteKey(ev)); got != "42" {
		t.Fatalf("key = %q", got)
	}
	km := kafka.Message{Headers: voteHeaders(ev)}
	if got := pkgkafka.HeaderValue(km, EventIDHeader); got != "e-1" {
		t.Fatalf("event id header = %q", got)
	}
}
