// Package search ranks tracks in the local catalog against a typed query.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/lull/internal/domain"
)

// Field names which part of a track matched
type Field string

const (
	FieldTitle  Field = "title"
	FieldPeople Field = "people" // artist or composer
)

// TrackSource lists the local catalog
type TrackSource interface {
	Tracks(ctx context.Context) ([]domain.Track, error)
}

// Result is one ranked match
type Result struct {
	Track          domain.Track
	Field          Field
	MatchedIndexes []int // rune positions in the title, for highlighting
	Score          int   // higher is better within a Field
}

// Options narrows a search
type Options struct {
	CategoryID string
	Limit      int // 0 means no limit
}

// trackIndex implements sahilm/fuzzy.Source over lowercase titles
type trackIndex struct {
	tracks      []domain.Track
	lowerTitles []string
}

func (idx *trackIndex) String(i int) string { return idx.lowerTitles[i] }

func (idx *trackIndex) Len() int { return len(idx.tracks) }

// Service searches the synchronized catalog. It never touches the network.
type Service struct {
	source TrackSource
	logger *slog.Logger
}

// NewService creates a new search service
func NewService(source TrackSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// Tracks returns tracks whose title fuzzy-matches query, followed by tracks
// that only match on artist or composer.
func (s *Service) Tracks(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	tracks, err := s.source.Tracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	if opts.CategoryID != "" {
		filtered := tracks[:0:0]
		for _, t := range tracks {
			if t.CategoryID == opts.CategoryID {
				filtered = append(filtered, t)
			}
		}
		tracks = filtered
	}

	results := Rank(query, tracks)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	s.logger.Debug("search complete", "query", query, "candidates", len(tracks), "results", len(results))
	return results, nil
}

// Rank orders tracks against query. Title matches come first, best score
// first; people matches follow, closest first.
func Rank(query string, tracks []domain.Track) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(tracks) == 0 {
		return nil
	}

	idx := &trackIndex{tracks: tracks, lowerTitles: make([]string, len(tracks))}
	for i, t := range tracks {
		idx.lowerTitles[i] = strings.ToLower(t.Title)
	}

	matched := make(map[int]bool)
	var results []Result
	for _, m := range fuzzy.FindFrom(query, idx) {
		matched[m.Index] = true
		results = append(results, Result{
			Track:          tracks[m.Index],
			Field:          FieldTitle,
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}

	people := make([]string, len(tracks))
	for i, t := range tracks {
		people[i] = t.Artist + " " + t.Composer
	}
	ranks := fuzzysearch.RankFindFold(query, people)
	sort.Sort(ranks)
	for _, r := range ranks {
		if matched[r.OriginalIndex] || strings.TrimSpace(r.Target) == "" {
			continue
		}
		matched[r.OriginalIndex] = true
		results = append(results, Result{
			Track: tracks[r.OriginalIndex],
			Field: FieldPeople,
			Score: -r.Distance,
		})
	}
	return results
}
