package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
)

// MemoryPollStore keeps polls in process memory.
type MemoryPollStore struct {
	mu           sync.RWMutex
	polls        map[models.PollID]*models.Poll
	nextPollID   models.PollID
	nextOptionID int64
	now          func() time.Time
}

func NewMemoryPollStore() *MemoryPollStore {
	return &MemoryPollStore{
		polls: make(map[models.PollID]*models.Poll),
		now:   time.Now,
	}
}

var _ domrepo.PollStore = (*MemoryPollStore)(nil)

func (s *MemoryPollStore) List(_ context.Context, skip, limit int) ([]*models.Poll, error) {
	s.mu.RLock()
	all := make([]*models.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		all = append(all, p.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(all)
	return page(all, skip, limit), nil
}

func sortNewestFirst(polls []*models.Poll) {
	sort.Slice(polls, func(i, j int) bool {
		if polls[i].CreatedAt.Equal(polls[j].CreatedAt) {
			return polls[i].ID > polls[j].ID
		}
		return polls[i].CreatedAt.After(polls[j].CreatedAt)
	})
}

func page(polls []*models.Poll, skip, limit int) []*models.Poll {
	if skip >= len(polls) {
		return []*models.Poll{}
	}
	polls = polls[skip:]
	if limit > 0 && limit < len(polls) {
		polls = polls[:limit]
	}
	return polls
}

func (s *MemoryPollStore) Get(_ context.Context, id models.PollID) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	return p.Clone(), nil
}

// Create assigns ids to the poll and its options.
func (s *MemoryPollStore) Create(_ context.Context, p *models.Poll) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPollID++
	c := p.Clone()
	c.ID = s.nextPollID
	c.CreatedAt = s.now().UTC()
	c.UpdatedAt = c.CreatedAt
	c.TotalVotes = 0
	for i := range c.Options {
		s.nextOptionID++
		c.Options[i].ID = s.nextOptionID
		c.Options[i].PollID = c.ID
		c.Options[i].Count = 0
	}
	s.polls[c.ID] = c
	return c.Clone(), nil
}

// Update replaces the poll's descriptive fields. Options and counts are kept.
func (s *MemoryPollStore) Update(_ context.Context, p *models.Poll) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.polls[p.ID]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	cur.Title = p.Title
	cur.Question = p.Question
	cur.VoteType = p.VoteType
	cur.StartTime = p.StartTime
	cur.EndTime = p.EndTime
	cur.UpdatedAt = s.now().UTC()
	return cur.Clone(), nil
}

func (s *MemoryPollStore) Delete(_ context.Context, id models.PollID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return models.ErrPollNotFound
	}
	delete(s.polls, id)
	return nil
}

func (s *MemoryPollStore) AddVotes(_ context.Context, id models.PollID, optionIDs []int64) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	for _, oid := range optionIDs {
		if _, ok := p.Option(oid); !ok {
			return nil, models.Errorf(models.ErrOptionNotFound, "option %d not found in poll %d", oid, id)
		}
	}
	for _, oid := range optionIDs {
		o, _ := p.Option(oid)
		o.Count++
	}
	p.TotalVotes += int64(len(optionIDs))
	return p.Clone(), nil
}

func (s *MemoryPollStore) Close() error { return nil }
