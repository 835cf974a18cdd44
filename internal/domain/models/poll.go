package models

import (
	"strconv"
	"time"

	"PollPulse/pkg/util"
)

// PollID identifies a poll. Zero means "no poll".
type PollID int64

func (id PollID) Valid() bool { return id > 0 }

func (id PollID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParsePollID parses a decimal id; non-positive values are rejected.
func ParsePollID(s string) (PollID, error) {
	n, ok := util.ParsePositiveInt64(s)
	if !ok {
		return 0, ErrInvalidPollID
	}
	return PollID(n), nil
}

type VoteType string

const (
	VoteTypeSingle   VoteType = "single"
	VoteTypeMultiple VoteType = "multiple"
)

// PollStatus is derived from the poll window and the current time.
type PollStatus string

const (
	PollPending PollStatus = "pending"
	PollActive  PollStatus = "active"
	PollEnded   PollStatus = "ended"
)

// Option is one answer of a poll together with its running count.
type Option struct {
	ID         int64   `json:"id"`
	PollID     PollID  `json:"poll_id"`
	Text       string  `json:"option_text"`
	Count      int64   `json:"vote_count"`
	Percentage float64 `json:"percentage"`
}

// Poll is the full poll as served by GET /polls/{id}.
type Poll struct {
	ID         PollID    `json:"id"`
	Title      string    `json:"title"`
	Question   string    `json:"question"`
	VoteType   VoteType  `json:"vote_type"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Options    []Option  `json:"options"`
	TotalVotes int64     `json:"total_votes"`
}

// Status reports where now falls relative to the poll window.
func (p *Poll) Status(now time.Time) PollStatus {
	switch {
	case now.Before(p.StartTime):
		return PollPending
	case !p.EndTime.IsZero() && !now.Before(p.EndTime):
		return PollEnded
	default:
		return PollActive
	}
}

// Option returns the option with the given id.
func (p *Poll) Option(id int64) (*Option, bool) {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy; stores hand out clones only.
func (p *Poll) Clone() *Poll {
	c := *p
	c.Options = append([]Option(nil), p.Options...)
	return &c
}

// Summary returns the list form of the poll.
func (p *Poll) Summary() PollSummary {
	return PollSummary{
		ID:           p.ID,
		Title:        p.Title,
		Question:     p.Question,
		VoteType:     p.VoteType,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		OptionsCount: len(p.Options),
	}
}

// PollSummary is the list item returned by GET /polls.
type PollSummary struct {
	ID           PollID    `json:"id"`
	Title        string    `json:"title"`
	Question     string    `json:"question"`
	VoteType     VoteType  `json:"vote_type"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	OptionsCount int       `json:"options_count"`
}

// ListPollsRequest binds GET /polls query parameters.
type ListPollsRequest struct {
	Skip       int  `query:"skip" default:"0" validate:"gte=0"`
	Limit      int  `query:"limit" default:"20" validate:"gte=1,lte=100"`
	ActiveOnly bool `query:"active_only"`
}

// CreatePollRequest binds POST /polls.
type CreatePollRequest struct {
	Title     string    `json:"title" validate:"required,max=200"`
	Question  string    `json:"question" validate:"required,max=1000"`
	VoteType  VoteType  `json:"vote_type" default:"single" validate:"oneof=single multiple"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Options   []string  `json:"options" validate:"min=2,max=20,dive,required,max=200"`
}

// UpdatePollRequest binds PUT /polls/{id}. Nil fields are left untouched.
// Options cannot be changed once created.
type UpdatePollRequest struct {
	Title     *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Question  *string    `json:"question" validate:"omitempty,min=1,max=1000"`
	VoteType  *VoteType  `json:"vote_type" validate:"omitempty,oneof=single multiple"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// Apply copies the set fields onto p.
func (r *UpdatePollRequest) Apply(p *Poll) {
	if r.Title != nil {
		p.Title = *r.Title
	}
	if r.Question != nil {
		p.Question = *r.Question
	}
	if r.VoteType != nil {
		p.VoteType = *r.VoteType
	}
	if r.StartTime != nil {
		p.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		p.EndTime = *r.EndTime
	}
}
