package service

import (
	"context"

	"PollPulse/internal/domain/models"
)

// StatsFetcher reads the current aggregate of a poll over REST.
type StatsFetcher interface {
	FetchStats(ctx context.Context, id models.PollID) (models.StatsSnapshot, error)
}

// VoteSubmitter casts a vote and returns the stats right after it.
type VoteSubmitter interface {
	SubmitVote(ctx context.Context, id models.PollID, optionIDs []int64) (models.StatsSnapshot, error)
}

// StatsAPI is what a single stats view needs from the backend.
type StatsAPI interface {
	StatsFetcher
	VoteSubmitter
}

// PollAPI is the remote poll backend as seen by the client core.
type PollAPI interface {
	StatsAPI
	ListPolls(ctx context.Context, skip, limit int, activeOnly bool) ([]models.PollSummary, error)
	GetPoll(ctx context.Context, id models.PollID) (*models.Poll, error)
}
