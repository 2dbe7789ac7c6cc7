package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CatalogItem is implemented by every entity the sync engine reconciles.
// Identity is the server-assigned ID; ContentHash covers every synced field.
type CatalogItem interface {
	GetID() string
	ContentHash() string
}

// Track represents a playable audio item from the remote catalog
type Track struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Artist      string        `json:"artist"`
	Composer    string        `json:"composer"`
	CategoryID  string        `json:"categoryId"`
	Duration    time.Duration `json:"duration"`
	MediaURL    string        `json:"mediaUrl"`
	ArtworkURL  string        `json:"artworkUrl"`
	IsFree      bool          `json:"isFree"`
	SortOrder   int           `json:"sortOrder"`
	PlayCount   int64         `json:"playCount"`
	LikeCount   int64         `json:"likeCount"`
	Description string        `json:"description"`
}

func (t Track) GetID() string { return t.ID }

// ContentHash returns a short hash over all synced fields.
func (t Track) ContentHash() string {
	return hashFields(
		t.ID, t.Title, t.Artist, t.Composer, t.CategoryID,
		strconv.FormatInt(int64(t.Duration), 10),
		t.MediaURL, t.ArtworkURL,
		strconv.FormatBool(t.IsFree),
		strconv.Itoa(t.SortOrder),
		strconv.FormatInt(t.PlayCount, 10),
		strconv.FormatInt(t.LikeCount, 10),
		t.Description,
	)
}

// FormattedDuration returns the duration as m:ss or h:mm:ss
func (t Track) FormattedDuration() string {
	total := int(t.Duration.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Subtitle returns secondary info for display (artist, falling back to composer)
func (t Track) Subtitle() string {
	switch {
	case t.Artist != "" && t.Composer != "" && !strings.EqualFold(t.Artist, t.Composer):
		return t.Artist + " · " + t.Composer
	case t.Artist != "":
		return t.Artist
	default:
		return t.Composer
	}
}

// Category groups tracks in the catalog
type Category struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	ArtworkURL  string `json:"artworkUrl"`
	SortOrder   int    `json:"sortOrder"`
	TrackCount  int    `json:"trackCount"`
	IsFree      bool   `json:"isFree"`
	Description string `json:"description"`
}

func (c Category) GetID() string { return c.ID }

// ContentHash returns a short hash over all synced fields.
func (c Category) ContentHash() string {
	return hashFields(
		c.ID, c.Title, c.Slug, c.ArtworkURL,
		strconv.Itoa(c.SortOrder),
		strconv.Itoa(c.TrackCount),
		strconv.FormatBool(c.IsFree),
		c.Description,
	)
}

// HomeSection is a server-defined row on the home screen.
// Sections are only ever cached, never stored as catalog rows.
type HomeSection struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Kind      string   `json:"kind"` // "tracks", "categories", "featured"
	ItemIDs   []string `json:"itemIds"`
	SortOrder int      `json:"sortOrder"`
}

// Snapshot is a full remote listing of one entity.
// Deletes are only applied for complete snapshots.
type Snapshot[T CatalogItem] struct {
	Items    []T
	Complete bool
	ETag     string
}

// CompleteSnapshot wraps items as a complete snapshot.
func CompleteSnapshot[T CatalogItem](items []T) Snapshot[T] {
	return Snapshot[T]{Items: items, Complete: true}
}

func hashFields(fields ...string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, "\x00")))
	return hex.EncodeToString(h[:8])
}
