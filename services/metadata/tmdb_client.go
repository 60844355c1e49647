package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david325345/animetoday-docker/utils/similarity"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	// w500 is plenty for catalog cards, w1280 for detail backgrounds.
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
	tmdbGenreAnime   = 16
)

// ErrNoMatch is returned when TMDB has no series for the title.
var ErrNoMatch = errors.New("tmdb: no matching series")

// Artwork is the pair of images TMDB can contribute to an airing entry.
type Artwork struct {
	Poster   string
	Backdrop string
}

func (a Artwork) Empty() bool {
	return a.Poster == "" && a.Backdrop == ""
}

// TMDBClient looks up series artwork on The Movie Database.
type TMDBClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client

	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func NewTMDBClient(apiKey, language, baseURL string, httpc *http.Client) *TMDBClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = tmdbBaseURL
	}
	return &TMDBClient{
		apiKey:      strings.TrimSpace(apiKey),
		language:    language,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       httpc,
		minInterval: 25 * time.Millisecond,
	}
}

func (c *TMDBClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// doGET performs a throttled GET and retries rate limits and server errors with backoff.
func (c *TMDBClient) doGET(ctx context.Context, endpoint string, v any) error {
	var lastErr error
	backoff := 300 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		c.throttleMu.Lock()
		if wait := c.minInterval - time.Since(c.lastRequest); wait > 0 {
			time.Sleep(wait)
		}
		c.lastRequest = time.Now()
		c.throttleMu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("[tmdb] http error (attempt %d/3): %v", attempt+1, err)
		} else if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("tmdb request failed: %s", resp.Status)
			log.Printf("[tmdb] rate limited or server error (attempt %d/3): status %d", attempt+1, resp.StatusCode)
		} else if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("tmdb request failed: %s", resp.Status)
		} else {
			err = json.NewDecoder(resp.Body).Decode(v)
			resp.Body.Close()
			return err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return lastErr
}

func (c *TMDBClient) endpoint(p string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	return c.baseURL + p + "?" + params.Encode()
}

type tmdbSearchResponse struct {
	Results []tmdbSeries `json:"results"`
}

type tmdbSeries struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	OriginalName     string  `json:"original_name"`
	OriginalLanguage string  `json:"original_language"`
	GenreIDs         []int   `json:"genre_ids"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	Popularity       float64 `json:"popularity"`
}

type tmdbImagesResponse struct {
	Posters   []tmdbImage `json:"posters"`
	Backdrops []tmdbImage `json:"backdrops"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Language    *string `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
}

// searchSeries returns the best TV match for title, preferring Japanese animation.
func (c *TMDBClient) searchSeries(ctx context.Context, title string, year int) (*tmdbSeries, error) {
	if !c.Configured() {
		return nil, errors.New("tmdb api key not configured")
	}
	params := url.Values{}
	params.Set("query", title)
	params.Set("include_adult", "false")
	if c.language != "" {
		params.Set("language", c.language)
	}
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}

	var resp tmdbSearchResponse
	if err := c.doGET(ctx, c.endpoint("/search/tv", params), &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", title, err)
	}
	if len(resp.Results) == 0 {
		return nil, ErrNoMatch
	}

	best, bestScore := resp.Results[0], -1.0
	for _, r := range resp.Results {
		if r.OriginalLanguage != "ja" || !hasGenre(r.GenreIDs, tmdbGenreAnime) {
			continue
		}
		score := max(similarity.Score(title, r.Name), similarity.Score(title, r.OriginalName))
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return &best, nil
}

// FindArtwork resolves poster and backdrop URLs for a series title. Images in the configured
// language or without text are preferred; the search result's own paths are the fallback.
func (c *TMDBClient) FindArtwork(ctx context.Context, title string, year int) (Artwork, error) {
	series, err := c.searchSeries(ctx, title, year)
	if err != nil {
		return Artwork{}, err
	}

	art := Artwork{
		Poster:   buildTMDBImage(series.PosterPath, tmdbPosterSize),
		Backdrop: buildTMDBImage(series.BackdropPath, tmdbBackdropSize),
	}

	params := url.Values{}
	params.Set("include_image_language", shortLanguage(c.language)+",null")
	var images tmdbImagesResponse
	if err := c.doGET(ctx, c.endpoint(fmt.Sprintf("/tv/%d/images", series.ID), params), &images); err != nil {
		log.Printf("[tmdb] images for %d unavailable, using search artwork: %v", series.ID, err)
		return art, nil
	}

	if p := c.pickImage(images.Posters); p != "" {
		art.Poster = buildTMDBImage(p, tmdbPosterSize)
	}
	if b := c.pickImage(images.Backdrops); b != "" {
		art.Backdrop = buildTMDBImage(b, tmdbBackdropSize)
	}
	return art, nil
}

// pickImage returns the first image in the configured language or without text, falling
// back to TMDB's top image.
func (c *TMDBClient) pickImage(images []tmdbImage) string {
	if len(images) == 0 {
		return ""
	}
	lang := shortLanguage(c.language)
	for _, img := range images {
		if img.Language == nil || *img.Language == "" || *img.Language == lang {
			return img.FilePath
		}
	}
	return images[0].FilePath
}

func buildTMDBImage(imagePath, size string) string {
	trimmed := strings.TrimSpace(imagePath)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", tmdbImageBaseURL, path.Join(size, strings.TrimPrefix(trimmed, "/")))
}

func shortLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) >= 2 {
		return lang[:2]
	}
	return "en"
}

func hasGenre(ids []int, genre int) bool {
	for _, id := range ids {
		if id == genre {
			return true
		}
	}
	return false
}
