package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vision/backend/internal/db"
	"github.com/vision/backend/internal/results"
)

var (
	ErrUnknownEntry    = errors.New("unknown entry")
	ErrScoreOutOfRange = errors.New("score out of range")
)

// ScoreStore persists each identity's score per entry. An absent row is the
// sentinel score.
type ScoreStore struct {
	queries  *db.Queries
	catalog  *Catalog
	maxScore int
}

func NewScoreStore(queries *db.Queries, catalog *Catalog, maxScore int) *ScoreStore {
	return &ScoreStore{queries: queries, catalog: catalog, maxScore: maxScore}
}

// ValidateScore checks that an entry exists and that score lies in
// [SentinelScore, maxScore].
func (s *ScoreStore) ValidateScore(entryID string, score int) error {
	if !s.catalog.Contains(entryID) {
		return ErrUnknownEntry
	}
	if score < results.SentinelScore || score > s.maxScore {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrScoreOutOfRange, score, results.SentinelScore, s.maxScore)
	}
	return nil
}

// SetScore stores an identity's score. Setting the sentinel withdraws the vote.
func (s *ScoreStore) SetScore(ctx context.Context, username, entryID string, score int) error {
	if err := s.ValidateScore(entryID, score); err != nil {
		return err
	}

	if score == results.SentinelScore {
		if err := s.queries.DeleteScore(ctx, db.DeleteScoreParams{Username: username, EntryID: entryID}); err != nil {
			return fmt.Errorf("withdraw score: %w", err)
		}
		return nil
	}

	err := s.queries.UpsertScore(ctx, db.UpsertScoreParams{
		Username:  username,
		EntryID:   entryID,
		Score:     int64(score),
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("set score: %w", err)
	}
	return nil
}

// ScoresFor returns the identity's score for every catalog entry, with the
// sentinel for entries it has not scored.
func (s *ScoreStore) ScoresFor(ctx context.Context, username string) (map[string]int, error) {
	rows, err := s.queries.ListScoresByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	out := make(map[string]int, len(s.catalog.entries))
	for _, id := range s.catalog.IDs() {
		out[id] = results.SentinelScore
	}
	for _, row := range rows {
		if _, ok := out[row.EntryID]; ok {
			out[row.EntryID] = int(row.Score)
		}
	}
	return out, nil
}

// Snapshot implements results.Source.
func (s *ScoreStore) Snapshot(ctx context.Context) ([]string, []results.Vote, error) {
	usernames, err := s.queries.ListUsernames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list users: %w", err)
	}
	rows, err := s.queries.ListScores(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list scores: %w", err)
	}

	votes := make([]results.Vote, len(rows))
	for i, row := range rows {
		votes[i] = results.Vote{Username: row.Username, EntryID: row.EntryID, Score: int(row.Score)}
	}
	return usernames, votes, nil
}
