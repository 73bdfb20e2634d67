// Package results computes per-entry score histograms across all identities.
package results

import (
	"context"
	"fmt"

	"github.com/vision/backend/internal/models"
)

// SentinelScore marks an identity that has not scored an entry yet. It has its
// own bucket but never counts as a vote.
const SentinelScore = -1

// Vote is one identity's stored score for one entry.
type Vote struct {
	Username string
	EntryID  string
	Score    int
}

// Source provides a consistent view of every identity and every stored vote.
type Source interface {
	Snapshot(ctx context.Context) (usernames []string, votes []Vote, err error)
}

// Compute builds a zero-filled histogram over [SentinelScore, maxScore] for each
// requested entry. Identities without a vote for an entry land in the sentinel
// bucket; votes from identities not in usernames are ignored.
func Compute(entryIDs []string, usernames []string, votes []Vote, maxScore int) models.Results {
	byEntry := make(map[string]map[string]int, len(entryIDs))
	for _, id := range entryIDs {
		byEntry[id] = make(map[string]int)
	}
	for _, v := range votes {
		if scores, ok := byEntry[v.EntryID]; ok {
			scores[v.Username] = v.Score
		}
	}

	out := make(models.Results, len(entryIDs))
	for _, id := range entryIDs {
		hist := make(models.Histogram, maxScore+2)
		for score := SentinelScore; score <= maxScore; score++ {
			hist[score] = 0
		}

		scores := byEntry[id]
		for _, username := range usernames {
			score, ok := scores[username]
			if !ok {
				score = SentinelScore
			}
			if _, inRange := hist[score]; inRange {
				hist[score]++
			}
		}
		out[id] = hist
	}
	return out
}

// VoteCount returns the number of real (non-sentinel) votes in a histogram.
func VoteCount(h models.Histogram) int {
	total := 0
	for score, count := range h {
		if score != SentinelScore {
			total += count
		}
	}
	return total
}

// Aggregator computes results from the current store state.
type Aggregator struct {
	source   Source
	maxScore int
}

func NewAggregator(source Source, maxScore int) *Aggregator {
	return &Aggregator{source: source, maxScore: maxScore}
}

// MaxScore returns the upper bound of the score range.
func (a *Aggregator) MaxScore() int {
	return a.maxScore
}

// ComputeResults recomputes the histograms for the given entries. It has no side effects.
func (a *Aggregator) ComputeResults(ctx context.Context, entryIDs []string) (models.Results, error) {
	usernames, votes, err := a.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	return Compute(entryIDs, usernames, votes, a.maxScore), nil
}
