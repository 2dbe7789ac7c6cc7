package mediaserver

import (
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

// mapCategories converts wire categories to domain categories, skipping
// entries without an ID.
func mapCategories(dtos []categoryDTO, serverURL string) []domain.Category {
	out := make([]domain.Category, 0, len(dtos))
	for _, d := range dtos {
		if d.ID == "" {
			continue
		}
		out = append(out, domain.Category{
			ID:          string(d.ID),
			Title:       strings.TrimSpace(d.Title),
			Slug:        d.Slug,
			ArtworkURL:  absoluteURL(serverURL, d.Artwork),
			SortOrder:   d.SortOrder,
			TrackCount:  d.TrackCount,
			IsFree:      d.IsFree,
			Description: d.Description,
		})
	}
	return out
}

// mapTracks converts wire tracks to domain tracks. Tracks without an ID or
// media URL cannot be played or downloaded and are dropped.
func mapTracks(dtos []trackDTO, serverURL string) []domain.Track {
	out := make([]domain.Track, 0, len(dtos))
	for _, d := range dtos {
		if d.ID == "" || d.MediaURL == "" {
			continue
		}
		out = append(out, domain.Track{
			ID:          string(d.ID),
			Title:       strings.TrimSpace(d.Title),
			Artist:      d.Artist,
			Composer:    d.Composer,
			CategoryID:  string(d.CategoryID),
			Duration:    time.Duration(d.Duration * float64(time.Second)).Round(time.Millisecond),
			MediaURL:    absoluteURL(serverURL, d.MediaURL),
			ArtworkURL:  absoluteURL(serverURL, d.Artwork),
			IsFree:      d.IsFree,
			SortOrder:   d.SortOrder,
			PlayCount:   d.PlayCount,
			LikeCount:   d.LikeCount,
			Description: d.Description,
		})
	}
	return out
}

// mapHomeSections converts the home layout.
func mapHomeSections(dtos []homeSectionDTO) []domain.HomeSection {
	out := make([]domain.HomeSection, 0, len(dtos))
	for _, d := range dtos {
		if d.ID == "" {
			continue
		}
		ids := make([]string, 0, len(d.ItemIDs))
		for _, id := range d.ItemIDs {
			if id != "" {
				ids = append(ids, string(id))
			}
		}
		kind := d.Kind
		if kind == "" {
			kind = "tracks"
		}
		out = append(out, domain.HomeSection{
			ID:        string(d.ID),
			Title:     d.Title,
			Kind:      kind,
			ItemIDs:   ids,
			SortOrder: d.SortOrder,
		})
	}
	return out
}

// absoluteURL resolves server-relative asset paths.
func absoluteURL(serverURL, ref string) string {
	if ref == "" || serverURL == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(serverURL + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
