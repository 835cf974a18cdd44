package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// OptionIDs accepts either a single number or an array of numbers in JSON,
// e.g. {"option_ids": 1} and {"option_ids": [1, 2]}. It always encodes as an
// array.
type OptionIDs []int64

func (o *OptionIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var ids []int64
		if err := json.Unmarshal(b, &ids); err != nil {
			return fmt.Errorf("option_ids: %w", err)
		}
		*o = ids
		return nil
	}
	var id int64
	if err := json.Unmarshal(b, &id); err != nil {
		return fmt.Errorf("option_ids: %w", err)
	}
	*o = OptionIDs{id}
	return nil
}

// Dedup returns the ids without repeats, keeping first occurrence order.
func (o OptionIDs) Dedup() OptionIDs {
	seen := make(map[int64]struct{}, len(o))
	out := make(OptionIDs, 0, len(o))
	for _, id := range o {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SubmitVoteRequest binds POST /polls/{id}/submit.
type SubmitVoteRequest struct {
	OptionIDs OptionIDs `json:"option_ids" validate:"required,min=1,dive,gt=0"`
}

// VoteEvent is published for every accepted vote and stored in the audit log.
type VoteEvent struct {
	EventID    string    `json:"event_id"`
	PollID     PollID    `json:"poll_id"`
	OptionIDs  []int64   `json:"option_ids"`
	VoterHash  string    `json:"voter_hash"`
	TotalVotes int64     `json:"total_votes"`
	CastAt     time.Time `json:"cast_at"`
}
