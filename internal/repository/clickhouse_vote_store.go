package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PollPulse/internal/domain/models"
	domrepo "PollPulse/internal/domain/repository"
	pkgch "PollPulse/pkg/clickhouse"
	applogger "PollPulse/pkg/logger"
)

const voteEventsTable = "vote_events"

// Replays of the same event collapse on merge; reads use FINAL.
var voteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + voteEventsTable + ` (
		event_id    String,
		poll_id     Int64,
		option_ids  Array(Int64),
		voter_hash  String,
		total_votes Int64,
		cast_at     DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(cast_at)
	PARTITION BY toYYYYMM(cast_at)
	ORDER BY (poll_id, event_id)`,
}

// ClickHouseVoteStore is the vote audit log.
type ClickHouseVoteStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewClickHouseVoteStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseVoteStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseVoteStore{ch: ch, db: ch.DB(), l: l}
}

var _ domrepo.VoteStore = (*ClickHouseVoteStore)(nil)

func (s *ClickHouseVoteStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, voteSchema)
}

// StoreVotes inserts events as one batch.
func (s *ClickHouseVoteStore) StoreVotes(ctx context.Context, events []*models.VoteEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+voteEventsTable+
		" (event_id, poll_id, option_ids, voter_hash, total_votes, cast_at)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, ev := range events {
		if ev == nil || ev.EventID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			ev.EventID,
			int64(ev.PollID),
			ev.OptionIDs,
			ev.VoterHash,
			ev.TotalVotes,
			ev.CastAt.UTC(),
		); err != nil {
			return fmt.Errorf("append vote %s: %w", ev.EventID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		s.l.Error("clickhouse vote batch failed", applogger.Int("rows", n), applogger.Error(err))
		return fmt.Errorf("commit batch: %w", err)
	}

	s.l.Debug("clickhouse vote batch stored",
		applogger.Int("rows", n),
		applogger.Duration("latency_ms", time.Since(start)),
	)
	return nil
}

func (s *ClickHouseVoteStore) CountByPoll(ctx context.Context, id models.PollID) (int64, error) {
	var n uint64
	q := "SELECT count() FROM " + voteEventsTable + " FINAL WHERE poll_id = ?"
	if err := s.db.QueryRowContext(ctx, q, int64(id)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count votes for poll %d: %w", id, err)
	}
	return int64(n), nil
}

func (s *ClickHouseVoteStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}
