package search

import (
	"context"
	"errors"
	"testing"

	"github.com/mmcdole/lull/internal/domain"
)

type staticSource struct {
	tracks []domain.Track
	err    error
}

func (s staticSource) Tracks(context.Context) ([]domain.Track, error) { return s.tracks, s.err }

var catalog = []domain.Track{
	{ID: "1", Title: "Rain on a Tin Roof", Artist: "Mira Holt", CategoryID: "sleep"},
	{ID: "2", Title: "Ocean Waves", Artist: "Tideline", CategoryID: "sleep"},
	{ID: "3", Title: "Deep Focus", Artist: "Jonas Brandt", Composer: "Mira Holt", CategoryID: "focus"},
	{ID: "4", Title: "Rainforest Morning", Artist: "Canopy", CategoryID: "focus"},
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Track.ID
	}
	return out
}

func TestTitleMatchesComeFirst(t *testing.T) {
	svc := NewService(staticSource{tracks: catalog}, nil)
	got, err := svc.Tracks(context.Background(), "rain", Options{})
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %v, want 2 title matches", ids(got))
	}
	for _, r := range got {
		if r.Field != FieldTitle || len(r.MatchedIndexes) != 4 {
			t.Fatalf("result = %+v", r)
		}
	}
}

func TestPeopleMatches(t *testing.T) {
	svc := NewService(staticSource{tracks: catalog}, nil)
	got, err := svc.Tracks(context.Background(), "Mira", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %v, want tracks 1 and 3", ids(got))
	}
	for _, r := range got {
		if r.Field != FieldPeople {
			t.Fatalf("field = %s, want people", r.Field)
		}
	}
}

func TestOptions(t *testing.T) {
	svc := NewService(staticSource{tracks: catalog}, nil)

	got, _ := svc.Tracks(context.Background(), "rain", Options{CategoryID: "focus"})
	if len(got) != 1 || got[0].Track.ID != "4" {
		t.Fatalf("category filter = %v, want [4]", ids(got))
	}
	got, _ = svc.Tracks(context.Background(), "rain", Options{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limit = %v, want 1 result", ids(got))
	}
}

func TestEmptyQuery(t *testing.T) {
	svc := NewService(staticSource{tracks: catalog}, nil)
	got, err := svc.Tracks(context.Background(), "   ", Options{})
	if err != nil || got != nil {
		t.Fatalf("got %v, %v; want nil", got, err)
	}
}

func TestSourceError(t *testing.T) {
	boom := errors.New("disk gone")
	svc := NewService(staticSource{err: boom}, nil)
	if _, err := svc.Tracks(context.Background(), "rain", Options{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestNoMatches(t *testing.T) {
	if got := Rank("zzzz", catalog); len(got) != 0 {
		t.Fatalf("results = %v, want none", ids(got))
	}
}
