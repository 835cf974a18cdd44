package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"PollPulse/internal/domain/models"
	"PollPulse/pkg/cache"
)

// VoteGuard remembers who voted in which poll until the poll ends, capped
// at maxTTL.
type VoteGuard struct {
	cache  cache.Service
	maxTTL time.Duration
	now    func() time.Time
}

func NewVoteGuard(c cache.Service, maxTTL time.Duration) *VoteGuard {
	if maxTTL <= 0 {
		maxTTL = 30 * 24 * time.Hour
	}
	return &VoteGuard{cache: c, maxTTL: maxTTL, now: time.Now}
}

// VoterHash is the stored form of a voter key; raw addresses never leave the
// process.
func VoterHash(voter string) string {
	sum := sha256.Sum256([]byte(voter))
	return hex.EncodeToString(sum[:16])
}

func guardKey(id models.PollID, voter string) string {
	return cache.Key("voted", id, VoterHash(voter))
}

// Claim marks voter as having voted in p. It reports false if the voter had
// already claimed the poll. An empty voter is never tracked.
func (g *VoteGuard) Claim(ctx context.Context, p *models.Poll, voter string) (bool, error) {
	if voter == "" {
		return true, nil
	}
	ttl := g.maxTTL
	if !p.EndTime.IsZero() {
		if left := p.EndTime.Sub(g.now()); left > 0 && left < ttl {
			ttl = left
		}
	}
	ok, err := g.cache.TryLock(ctx, guardKey(p.ID, voter), ttl)
	if err != nil {
		return false, fmt.Errorf("claim vote: %w", err)
	}
	return ok, nil
}

// Release forgets a claim, used when the vote could not be recorded.
func (g *VoteGuard) Release(ctx context.Context, id models.PollID, voter string) error {
	if voter == "" {
		return nil
	}
	return g.cache.Unlock(ctx, guardKey(id, voter))
}
