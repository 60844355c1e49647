package metadata

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/david325345/animetoday-docker/models"
)

// Enricher adds TMDB artwork to airing entries. Lookups are memoised per show so repeated
// refreshes during the day hit TMDB once per series.
type Enricher struct {
	client *TMDBClient

	mu    sync.Mutex
	shows map[int]Artwork
}

func NewEnricher(client *TMDBClient) *Enricher {
	return &Enricher{client: client, shows: make(map[int]Artwork)}
}

func (e *Enricher) Enabled() bool {
	return e != nil && e.client.Configured()
}

// Enrich fills the TMDB image fields of entry. A series TMDB does not know is not an error.
func (e *Enricher) Enrich(ctx context.Context, entry *models.AiringEntry) error {
	if !e.Enabled() {
		return nil
	}

	e.mu.Lock()
	art, cached := e.shows[entry.ShowID]
	e.mu.Unlock()

	if !cached {
		var err error
		art, err = e.lookup(ctx, entry)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.shows[entry.ShowID] = art
		e.mu.Unlock()
	}

	entry.Images.TMDBPoster = art.Poster
	entry.Images.TMDBBackdrop = art.Backdrop
	return nil
}

// lookup tries the english title first since TMDB indexes it best, then romaji.
func (e *Enricher) lookup(ctx context.Context, entry *models.AiringEntry) (Artwork, error) {
	var titles []string
	for _, t := range []string{entry.Titles.English, entry.Titles.Romaji} {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}

	for _, title := range titles {
		art, err := e.client.FindArtwork(ctx, title, entry.SeasonYear)
		switch {
		case err == nil:
			return art, nil
		case errors.Is(err, ErrNoMatch):
			continue
		default:
			return Artwork{}, err
		}
	}
	log.Printf("[tmdb] no series found for show %d (%s)", entry.ShowID, entry.DisplayTitle())
	return Artwork{}, nil
}

// Forget drops memoised artwork, e.g. when the schedule moves to a new day.
func (e *Enricher) Forget() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.shows = make(map[int]Artwork)
	e.mu.Unlock()
}
