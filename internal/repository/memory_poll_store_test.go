package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"PollPulse/internal/domain/models"
)

func newPoll(title string, options ...string) *models.Poll {
	p := &models.Poll{
		Title:     title,
		Question:  title + "?",
		VoteType:  models.VoteTypeSingle,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	for _, o := range options {
		p.Options = append(p.Options, models.Option{Text: o})
	}
	return p
}

func TestMemoryPollStoreCreateAssignsIDs(t *testing.T) {
	s := NewMemoryPollStore()
	ctx := context.Background()

	a, err := s.Create(ctx, newPoll("a", "x", "y"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Create(ctx, newPoll("b", "x", "y"))

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d", a.ID, b.ID)
	}
	if a.Options[0].ID != 1 || a.Options[1].ID != 2 || b.Options[0].ID != 3 {
		t.Fatalf("option ids = %+v %+v", a.Options, b.Options)
	}
	if b.Options[0].PollID != b.ID {
		t.Fatalf("option poll id = %d", b.Options[0].PollID)
	}
}

func TestMemoryPollStoreListNewestFirst(t *testing.T) {
	s := NewMemoryPollStore()
	base := time.Unix(1000, 0)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, _ = s.Create(ctx, newPoll(title, "x", "y"))
	}

	got, _ := s.List(ctx, 0, 2)
	if len(got) != 2 || got[0].Title != "c" || got[1].Title != "b" {
		t.Fatalf("page 1 = %v", titles(got))
	}
	got, _ = s.List(ctx, 2, 2)
	if len(got) != 1 || got[0].Title != "a" {
		t.Fatalf("page 2 = %v", titles(got))
	}
	got, _ = s.List(ctx, 5, 2)
	if got == nil || len(got) != 0 {
		t.Fatalf("past end = %v", got)
	}
}

func titles(ps []*models.Poll) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Title
	}
	return out
}

func TestMemoryPollStoreAddVotes(t *testing.T) {
	s := NewMemoryPollStore()
	ctx := context.Background()
	p, _ := s.Create(ctx, newPoll("a", "x", "y", "z"))

	got, err := s.AddVotes(ctx, p.ID, []int64{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalVotes != 2 || got.Options[0].Count != 1 || got.Options[1].Count != 0 || got.Options[2].Count != 1 {
		t.Fatalf("after vote: %+v", got)
	}

	if _, err := s.AddVotes(ctx, p.ID, []int64{1, 99}); !errors.Is(err, models.ErrOptionNotFound) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := s.Get(ctx, p.ID)
	if cur.TotalVotes != 2 || cur.Options[0].Count != 1 {
		t.Fatalf("partial increment applied: %+v", cur)
	}

	if _, err := s.AddVotes(ctx, 42, []int64{1}); !errors.Is(err, models.ErrPollNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryPollStoreReturnsCopies(t *testing.T) {
	s := NewMemoryPollStore()
	ctx := context.Background()
	p, _ := s.Create(ctx, newPoll("a", "x", "y"))

	p.Options[0].Count = 100
	p.Title = "mutated"
	cur, _ := s.Get(ctx, p.ID)
	if cur.Options[0].Count != 0 || cur.Title != "a" {
		t.Fatalf("store shares memory with callers: %+v", cur)
	}
}

func TestMemoryPollStoreUpdateKeepsCounts(t *testing.T) {
	s := NewMemoryPollStore()
	ctx := context.Background()
	p, _ := s.Create(ctx, newPoll("a", "x", "y"))
	_, _ = s.AddVotes(ctx, p.ID, []int64{2})

	p.Title = "renamed"
	got, err := s.Update(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" || got.TotalVotes != 1 || got.Options[1].Count != 1 {
		t.Fatalf("after update: %+v", got)
	}

	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, p.ID); !errors.Is(err, models.ErrPollNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}
