package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedSnapshot marks a snapshot that cannot describe a real poll.
var ErrMalformedSnapshot = errors.New("malformed stats snapshot")

// StatsSnapshot is the aggregate view of one poll at a point in time. It is a
// value: copies never share the Options slice.
type StatsSnapshot struct {
	PollID     PollID       `json:"poll_id"`
	Title      string       `json:"title"`
	Question   string       `json:"question"`
	TotalVotes int64        `json:"total_votes"`
	Options    []OptionStat `json:"options"`
}

type OptionStat struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Percentage returns count/total*100 rounded to two decimals, or 0 when
// total is 0.
func Percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*10000) / 100
}

// WithPercentages returns a copy whose percentages are recomputed from the
// counts, so snapshots from different sources agree on rounding.
func (s StatsSnapshot) WithPercentages() StatsSnapshot {
	out := s
	out.Options = make([]OptionStat, len(s.Options))
	for i, o := range s.Options {
		o.Percentage = Percentage(o.Count, s.TotalVotes)
		out.Options[i] = o
	}
	return out
}

// Validate reports whether s has options and whether TotalVotes is the sum
// of their counts.
func (s StatsSnapshot) Validate() error {
	if len(s.Options) == 0 {
		return fmt.Errorf("%w: no options", ErrMalformedSnapshot)
	}
	var sum int64
	for _, o := range s.Options {
		if o.Count < 0 {
			return fmt.Errorf("%w: option %d has count %d", ErrMalformedSnapshot, o.ID, o.Count)
		}
		sum += o.Count
	}
	if sum != s.TotalVotes {
		return fmt.Errorf("%w: total %d, option counts sum to %d", ErrMalformedSnapshot, s.TotalVotes, sum)
	}
	return nil
}

// Clone returns a copy with its own Options slice.
func (s StatsSnapshot) Clone() StatsSnapshot {
	out := s
	out.Options = append([]OptionStat(nil), s.Options...)
	return out
}

// Option returns the aggregate for option id.
func (s StatsSnapshot) Option(id int64) (OptionStat, bool) {
	for _, o := range s.Options {
		if o.ID == id {
			return o, true
		}
	}
	return OptionStat{}, false
}

// StatsFromPoll builds the snapshot served by /stats and pushed to streams.
func StatsFromPoll(p *Poll) StatsSnapshot {
	s := StatsSnapshot{
		PollID:     p.ID,
		Title:      p.Title,
		Question:   p.Question,
		TotalVotes: p.TotalVotes,
		Options:    make([]OptionStat, len(p.Options)),
	}
	for i, o := range p.Options {
		s.Options[i] = OptionStat{ID: o.ID, Text: o.Text, Count: o.Count}
	}
	return s.WithPercentages()
}
