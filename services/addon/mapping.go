package addon

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/david325345/animetoday-docker/models"
)

// ErrInvalidID is returned for ids that are not "nyaa:<show>:<episode>".
var ErrInvalidID = errors.New("invalid addon id")

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ParseID splits an addon id into show id and episode number.
func ParseID(id string) (showID, episode int, err error) {
	rest, ok := strings.CutPrefix(id, models.IDPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	show, ep, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if showID, err = strconv.Atoi(show); err != nil || showID <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if episode, err = strconv.Atoi(ep); err != nil || episode < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return showID, episode, nil
}

func stripHTML(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}

func usable(url string) bool {
	url = strings.TrimSpace(url)
	return url != "" && url != "null"
}

// posterFor walks TMDB poster, cover extraLarge, cover large, then the placeholder.
func posterFor(e models.AiringEntry, placeholder string) string {
	for _, candidate := range []string{e.Images.TMDBPoster, e.Images.CoverExtraLarge, e.Images.CoverLarge} {
		if usable(candidate) {
			return candidate
		}
	}
	return placeholder
}

func backgroundFor(e models.AiringEntry, poster string) string {
	for _, candidate := range []string{e.Images.Banner, e.Images.TMDBBackdrop} {
		if usable(candidate) {
			return candidate
		}
	}
	return poster
}

// rating renders an AniList score (0-100) on a ten point scale.
func rating(score int) string {
	if score <= 0 {
		return ""
	}
	return strconv.FormatFloat(float64(score)/10, 'f', 1, 64)
}

func releaseInfo(e models.AiringEntry, episodeLabel string) string {
	year := ""
	if e.SeasonYear > 0 {
		year = strconv.Itoa(e.SeasonYear)
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s - %s %d", e.Season, year, episodeLabel, e.Episode))
}

func genres(e models.AiringEntry) []string {
	if e.Genres == nil {
		return []string{}
	}
	return e.Genres
}

func toPreview(e models.AiringEntry, placeholderPoster string) models.MetaPreview {
	poster := posterFor(e, placeholderPoster)
	logo := ""
	if usable(e.Images.Banner) {
		logo = e.Images.Banner
	}
	return models.MetaPreview{
		ID:          e.Key(),
		Type:        contentType,
		Name:        e.DisplayTitle(),
		Poster:      poster,
		Background:  backgroundFor(e, poster),
		Logo:        logo,
		Description: fmt.Sprintf("Episode %d\n\n%s", e.Episode, stripHTML(e.Description)),
		Genres:      genres(e),
		ReleaseInfo: releaseInfo(e, "Ep"),
		IMDBRating:  rating(e.AverageScore),
	}
}

func toMeta(e models.AiringEntry, placeholderPoster string) models.Meta {
	preview := toPreview(e, placeholderPoster)
	preview.Description = stripHTML(e.Description)
	preview.ReleaseInfo = releaseInfo(e, "Episode")
	return models.Meta{
		MetaPreview: preview,
		Videos: []models.Video{{
			ID:        e.Key(),
			Title:     fmt.Sprintf("Episode %d", e.Episode),
			Season:    1,
			Episode:   e.Episode,
			Released:  e.AiringTime().Format(time.RFC3339),
			Thumbnail: preview.Poster,
		}},
	}
}
