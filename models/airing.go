package models

import (
	"fmt"
	"strings"
	"time"
)

// Titles holds the language variants AniList publishes for a show.
type Titles struct {
	Romaji  string `json:"romaji,omitempty"`
	English string `json:"english,omitempty"`
	Native  string `json:"native,omitempty"`
}

// Images groups every artwork reference known for an airing entry.
type Images struct {
	CoverExtraLarge string `json:"coverExtraLarge,omitempty"`
	CoverLarge      string `json:"coverLarge,omitempty"`
	Banner          string `json:"banner,omitempty"`
	TMDBPoster      string `json:"tmdbPoster,omitempty"`
	TMDBBackdrop    string `json:"tmdbBackdrop,omitempty"`
}

// AiringEntry is one episode of one show scheduled to air in the current day window.
// Identity is (ShowID, Episode).
type AiringEntry struct {
	ID           int      `json:"id"`
	ShowID       int      `json:"showId"`
	Episode      int      `json:"episode"`
	AiringAt     int64    `json:"airingAt"`
	Titles       Titles   `json:"titles"`
	Images       Images   `json:"images"`
	Description  string   `json:"description,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	AverageScore int      `json:"averageScore,omitempty"`
	Season       string   `json:"season,omitempty"`
	SeasonYear   int      `json:"seasonYear,omitempty"`
}

// Key returns the protocol identifier of the entry, e.g. "nyaa:12345:7".
func (e AiringEntry) Key() string {
	return fmt.Sprintf("%s%d:%d", IDPrefix, e.ShowID, e.Episode)
}

// AiringTime converts the epoch seconds field to a UTC time.
func (e AiringEntry) AiringTime() time.Time {
	return time.Unix(e.AiringAt, 0).UTC()
}

// DisplayTitle picks romaji, then english, then native.
func (e AiringEntry) DisplayTitle() string {
	for _, candidate := range []string{e.Titles.Romaji, e.Titles.English, e.Titles.Native} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return "Unknown"
}

// SearchTitles lists the titles worth querying torrent indexes with, in order.
// The english title is only included when it differs from the romaji one.
func (e AiringEntry) SearchTitles() []string {
	var titles []string
	romaji := strings.TrimSpace(e.Titles.Romaji)
	english := strings.TrimSpace(e.Titles.English)
	if romaji != "" {
		titles = append(titles, romaji)
	}
	if english != "" && !strings.EqualFold(english, romaji) {
		titles = append(titles, english)
	}
	if len(titles) == 0 {
		if native := strings.TrimSpace(e.Titles.Native); native != "" {
			titles = append(titles, native)
		}
	}
	return titles
}
