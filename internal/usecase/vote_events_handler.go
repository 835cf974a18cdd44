package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	pkgkafka "PollPulse/pkg/kafka"
	applogger "PollPulse/pkg/logger"
)

// VoteEventsHandler consumes vote events from Kafka and appends them to the
// audit log.
type VoteEventsHandler struct {
	topic   string
	store   domrepo.VoteStore
	metrics domrepo.Metrics
	log     *applogger.Logger
}

func NewVoteEventsHandler(topic string, store domrepo.VoteStore, metrics domrepo.Metrics, l *applogger.Logger) *VoteEventsHandler {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &VoteEventsHandler{topic: topic, store: store, metrics: metrics, log: l}
}

var _ pkgkafka.MessageHandler = (*VoteEventsHandler)(nil)

func (h *VoteEventsHandler) Topic() string { return h.topic }

func (h *VoteEventsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.VoteEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode vote event: %w", err)
	}
	if ev.EventID == "" {
		ev.EventID = pkgkafka.EventIDFromContext(ctx)
	}
	if ev.EventID == "" || !ev.PollID.Valid() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("vote event missing id or poll")
	}
	if !ev.CastAt.IsZero() {
		h.metrics.RecordLatency("vote_audit_lag", time.Since(ev.CastAt).Seconds())
	}

	start := time.Now()
	err := h.store.StoreVotes(ctx, []*models.VoteEvent{&ev})
	h.metrics.RecordLatency("ch_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.log.Debug("vote event stored",
		applogger.String("event_id", ev.EventID),
		applogger.Int64("poll_id", int64(ev.PollID)),
	)
	return nil
}
