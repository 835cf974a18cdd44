package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	applogger "PollPulse/pkg/logger"

	"github.com/google/uuid"
)

// VoteSink receives accepted votes; the vote pipeline in production.
type VoteSink interface {
	Process(ctx context.Context, ev *models.VoteEvent) error
}

type nopSink struct{}

func (nopSink) Process(context.Context, *models.VoteEvent) error { return nil }

// PollService is the backend use case behind the REST and stream handlers.
type PollService struct {
	store   domrepo.PollStore
	guard   *VoteGuard
	hub     *StatsHub
	sink    VoteSink
	log     *applogger.Logger
	metrics domrepo.Metrics
	now     func() time.Time
	newID   func() string
}

type PollServiceOption func(*PollService)

func WithVoteSink(s VoteSink) PollServiceOption {
	return func(ps *PollService) {
		if s != nil {
			ps.sink = s
		}
	}
}

func WithPollLogger(l *applogger.Logger) PollServiceOption {
	return func(ps *PollService) {
		if l != nil {
			ps.log = l
		}
	}
}

func WithPollMetrics(m domrepo.Metrics) PollServiceOption {
	return func(ps *PollService) {
		if m != nil {
			ps.metrics = m
		}
	}
}

func NewPollService(store domrepo.PollStore, guard *VoteGuard, hub *StatsHub, opts ...PollServiceOption) *PollService {
	ps := &PollService{
		store:   store,
		guard:   guard,
		hub:     hub,
		sink:    nopSink{},
		log:     applogger.Nop(),
		metrics: domrepo.NopMetrics{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Hub exposes the stats hub to the stream handlers.
func (s *PollService) Hub() *StatsHub { return s.hub }

func (s *PollService) ListPolls(ctx context.Context, req *models.ListPollsRequest) ([]models.PollSummary, error) {
	skip, limit := req.Skip, req.Limit
	if req.ActiveOnly {
		// filter before paging
		skip, limit = 0, 0
	}
	polls, err := s.store.List(ctx, skip, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]models.PollSummary, 0, len(polls))
	for _, p := range polls {
		if req.ActiveOnly && p.Status(now) != models.PollActive {
			continue
		}
		out = append(out, p.Summary())
	}
	if req.ActiveOnly {
		if req.Skip >= len(out) {
			return []models.PollSummary{}, nil
		}
		out = out[req.Skip:]
		if req.Limit > 0 && req.Limit < len(out) {
			out = out[:req.Limit]
		}
	}
	return out, nil
}

// GetPoll returns the poll with option percentages filled in.
func (s *PollService) GetPoll(ctx context.Context, id models.PollID) (*models.Poll, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range p.Options {
		p.Options[i].Percentage = models.Percentage(p.Options[i].Count, p.TotalVotes)
	}
	return p, nil
}

func (s *PollService) Stats(ctx context.Context, id models.PollID) (models.StatsSnapshot, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StatsSnapshot{}, err
	}
	return models.StatsFromPoll(p), nil
}

func (s *PollService) CreatePoll(ctx context.Context, req *models.CreatePollRequest) (*models.Poll, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, models.Errorf(models.ErrValidation, "end_time must be after start_time")
	}
	p := &models.Poll{
		Title:     strings.TrimSpace(req.Title),
		Question:  strings.TrimSpace(req.Question),
		VoteType:  req.VoteType,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
	}
	if p.VoteType == "" {
		p.VoteType = models.VoteTypeSingle
	}
	for _, text := range req.Options {
		p.Options = append(p.Options, models.Option{Text: strings.TrimSpace(text)})
	}

	created, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.log.Info("poll created",
		applogger.Int64("poll_id", int64(created.ID)),
		applogger.Int("options", len(created.Options)),
	)
	return created, nil
}

func (s *PollService) UpdatePoll(ctx context.Context, id models.PollID, req *models.UpdatePollRequest) (*models.Poll, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(p)
	if !p.EndTime.After(p.StartTime) {
		return nil, models.Errorf(models.ErrValidation, "end_time must be after start_time")
	}
	return s.store.Update(ctx, p)
}

func (s *PollService) DeletePoll(ctx context.Context, id models.PollID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.hub.Forget(id)
	s.log.Info("poll deleted", applogger.Int64("poll_id", int64(id)))
	return nil
}

// SubmitVote records one ballot from voter. The checks run in this order:
// existence, window, vote type, options, duplicate voter.
func (s *PollService) SubmitVote(ctx context.Context, id models.PollID, optionIDs models.OptionIDs, voter string) (models.StatsSnapshot, error) {
	snap, err := s.submit(ctx, id, optionIDs.Dedup(), voter)
	if err != nil {
		s.metrics.RecordVote(voteResult(err))
		return models.StatsSnapshot{}, err
	}
	s.metrics.RecordVote("accepted")
	return snap, nil
}

func (s *PollService) submit(ctx context.Context, id models.PollID, optionIDs models.OptionIDs, voter string) (models.StatsSnapshot, error) {
	if len(optionIDs) == 0 {
		return models.StatsSnapshot{}, models.Errorf(models.ErrInvalidVote, "at least one option is required")
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StatsSnapshot{}, err
	}
	now := s.now()
	switch p.Status(now) {
	case models.PollPending:
		return models.StatsSnapshot{}, models.Errorf(models.ErrPollClosed, "poll has not started yet")
	case models.PollEnded:
		return models.StatsSnapshot{}, models.ErrPollExpired
	}
	if p.VoteType == models.VoteTypeSingle && len(optionIDs) > 1 {
		return models.StatsSnapshot{}, models.Errorf(models.ErrInvalidVote, "this poll accepts a single option")
	}
	for _, oid := range optionIDs {
		if _, ok := p.Option(oid); !ok {
			return models.StatsSnapshot{}, models.Errorf(models.ErrOptionNotFound, "option %d not found", oid)
		}
	}

	ok, err := s.guard.Claim(ctx, p, voter)
	if err != nil {
		return models.StatsSnapshot{}, err
	}
	if !ok {
		return models.StatsSnapshot{}, models.ErrDuplicateVote
	}

	updated, err := s.store.AddVotes(ctx, id, optionIDs)
	if err != nil {
		if rerr := s.guard.Release(ctx, id, voter); rerr != nil {
			s.log.Warn("release vote claim", applogger.Error(rerr))
		}
		return models.StatsSnapshot{}, err
	}
	snap := models.StatsFromPoll(updated)

	if err := s.hub.Publish(ctx, snap); err != nil {
		s.metrics.RecordError("stats_broadcast")
		s.log.Error("broadcast stats", applogger.Int64("poll_id", int64(id)), applogger.Error(err))
	}

	ev := &models.VoteEvent{
		EventID:    s.newID(),
		PollID:     id,
		OptionIDs:  []int64(optionIDs),
		VoterHash:  VoterHash(voter),
		TotalVotes: snap.TotalVotes,
		CastAt:     now.UTC(),
	}
	if err := s.sink.Process(ctx, ev); err != nil {
		// the vote is counted; only the audit trail is behind
		s.log.Error("vote event not delivered",
			applogger.String("event_id", ev.EventID),
			applogger.Error(err),
		)
	}
	return snap, nil
}

func voteResult(err error) string {
	var de *models.DomainError
	if !errors.As(err, &de) {
		return "error"
	}
	switch de.Code {
	case models.CodePollNotFound:
		return "not_found"
	case models.CodePollExpired:
		return "expired"
	case models.CodeOptionNotFound:
		return "invalid_option"
	case models.CodeDuplicateVote:
		return "duplicate"
	case models.CodePollClosed:
		return "closed"
	case models.CodeValidation:
		return "validation"
	}
	return "error"
}
