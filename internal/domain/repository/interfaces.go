package repository

import (
	"context"

	"PollPulse/internal/domain/models"
)

// PollStore persists polls and their running counts.
type PollStore interface {
	List(ctx context.Context, skip, limit int) ([]*models.Poll, error)
	Get(ctx context.Context, id models.PollID) (*models.Poll, error)
	Create(ctx context.Context, p *models.Poll) (*models.Poll, error)
	Update(ctx context.Context, p *models.Poll) (*models.Poll, error)
	Delete(ctx context.Context, id models.PollID) error
	// AddVotes increments each option by one and the poll total by
	// len(optionIDs), all or nothing, and returns the poll after the increment.
	AddVotes(ctx context.Context, id models.PollID, optionIDs []int64) (*models.Poll, error)
	Close() error
}

// VotePublisher ships accepted vote events to the event bus.
type VotePublisher interface {
	PublishVote(ctx context.Context, ev *models.VoteEvent) error
	Close() error
}

// VoteStore is the append-only vote audit log.
type VoteStore interface {
	Init(ctx context.Context) error
	StoreVotes(ctx context.Context, events []*models.VoteEvent) error
	CountByPoll(ctx context.Context, id models.PollID) (int64, error)
	Health(ctx context.Context) error
}

// StatsRelay carries stats updates between backend instances.
type StatsRelay interface {
	Publish(ctx context.Context, s models.StatsSnapshot) error
	// Subscribe delivers relayed snapshots to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(models.StatsSnapshot)) error
	Close() error
}

// Metrics is the observability surface used by the client core and the backend.
type Metrics interface {
	RecordStreamEvent(event, outcome string)
	RecordReconnect()
	SetStreamConnected(connected bool)
	RecordVote(result string)
	AddSubscribers(transport string, delta int)
	RecordBroadcast()
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordStreamEvent(string, string) {}
func (NopMetrics) RecordReconnect()                 {}
func (NopMetrics) SetStreamConnected(bool)          {}
func (NopMetrics) RecordVote(string)                {}
func (NopMetrics) AddSubscribers(string, int)       {}
func (NopMetrics) RecordBroadcast()                 {}
func (NopMetrics) RecordError(string)               {}
func (NopMetrics) RecordLatency(string, float64)    {}
