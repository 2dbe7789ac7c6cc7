package mediaserver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexID accepts IDs sent as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	*id = flexID(n.String())
	return nil
}

// categoryDTO is a category as the catalog API sends it
type categoryDTO struct {
	ID          flexID `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug,omitempty"`
	Artwork     string `json:"artworkUrl,omitempty"`
	SortOrder   int    `json:"sortOrder,omitempty"`
	TrackCount  int    `json:"trackCount,omitempty"`
	IsFree      bool   `json:"isFree,omitempty"`
	Description string `json:"description,omitempty"`
}

// trackDTO is a track as the catalog API sends it
type trackDTO struct {
	ID          flexID  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	Composer    string  `json:"composer,omitempty"`
	CategoryID  flexID  `json:"categoryId,omitempty"`
	Duration    float64 `json:"duration,omitempty"` // seconds
	MediaURL    string  `json:"mediaUrl"`
	Artwork     string  `json:"artworkUrl,omitempty"`
	IsFree      bool    `json:"isFree,omitempty"`
	SortOrder   int     `json:"sortOrder,omitempty"`
	PlayCount   int64   `json:"playCount,omitempty"`
	LikeCount   int64   `json:"likeCount,omitempty"`
	Description string  `json:"description,omitempty"`
}

// homeSectionDTO is one row of the home screen layout
type homeSectionDTO struct {
	ID        flexID   `json:"id"`
	Title     string   `json:"title"`
	Kind      string   `json:"kind,omitempty"`
	ItemIDs   []flexID `json:"itemIds,omitempty"`
	SortOrder int      `json:"sortOrder,omitempty"`
}
