package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/david325345/animetoday-docker/models"
)

const (
	defaultAniListURL = "https://graphql.anilist.co"
	defaultPerPage    = 50
	defaultMaxPages   = 4
)

// Source produces the airing entries of a time window.
type Source interface {
	FetchDay(ctx context.Context, start, end time.Time) ([]models.AiringEntry, error)
}

const airingQuery = `query ($page: Int, $perPage: Int, $start: Int, $end: Int) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { hasNextPage }
    airingSchedules(airingAt_greater: $start, airingAt_lesser: $end, sort: TIME) {
      id
      airingAt
      episode
      media {
        id
        title { romaji english native }
        coverImage { extraLarge large }
        bannerImage
        description
        genres
        averageScore
        season
        seasonYear
      }
    }
  }
}`

// AniListClient reads the airing schedule from the AniList GraphQL API.
type AniListClient struct {
	url      string
	httpc    *http.Client
	perPage  int
	maxPages int
}

var _ Source = (*AniListClient)(nil)

func NewAniListClient(url string, perPage, maxPages int, httpc *http.Client) *AniListClient {
	if strings.TrimSpace(url) == "" {
		url = defaultAniListURL
	}
	if perPage <= 0 || perPage > 50 {
		perPage = defaultPerPage
	}
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 20 * time.Second}
	}
	return &AniListClient{url: url, httpc: httpc, perPage: perPage, maxPages: maxPages}
}

type anilistResponse struct {
	Data struct {
		Page struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			AiringSchedules []anilistSchedule `json:"airingSchedules"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

type anilistSchedule struct {
	ID       int   `json:"id"`
	AiringAt int64 `json:"airingAt"`
	Episode  int   `json:"episode"`
	Media    struct {
		ID    int `json:"id"`
		Title struct {
			Romaji  string `json:"romaji"`
			English string `json:"english"`
			Native  string `json:"native"`
		} `json:"title"`
		CoverImage struct {
			ExtraLarge string `json:"extraLarge"`
			Large      string `json:"large"`
		} `json:"coverImage"`
		BannerImage  string   `json:"bannerImage"`
		Description  string   `json:"description"`
		Genres       []string `json:"genres"`
		AverageScore int      `json:"averageScore"`
		Season       string   `json:"season"`
		SeasonYear   int      `json:"seasonYear"`
	} `json:"media"`
}

func (s anilistSchedule) toEntry() models.AiringEntry {
	m := s.Media
	return models.AiringEntry{
		ID:       s.ID,
		ShowID:   m.ID,
		Episode:  s.Episode,
		AiringAt: s.AiringAt,
		Titles: models.Titles{
			Romaji:  m.Title.Romaji,
			English: m.Title.English,
			Native:  m.Title.Native,
		},
		Images: models.Images{
			CoverExtraLarge: m.CoverImage.ExtraLarge,
			CoverLarge:      m.CoverImage.Large,
			Banner:          m.BannerImage,
		},
		Description:  m.Description,
		Genres:       m.Genres,
		AverageScore: m.AverageScore,
		Season:       m.Season,
		SeasonYear:   m.SeasonYear,
	}
}

// FetchDay follows pagination until AniList reports no further page or the page cap is hit.
func (c *AniListClient) FetchDay(ctx context.Context, start, end time.Time) ([]models.AiringEntry, error) {
	var entries []models.AiringEntry
	for page := 1; page <= c.maxPages; page++ {
		resp, err := c.fetchPage(ctx, page, start, end)
		if err != nil {
			if page > 1 && len(entries) > 0 {
				log.Printf("[anilist] page %d failed, keeping %d entries from earlier pages: %v", page, len(entries), err)
				break
			}
			return nil, err
		}
		for _, s := range resp.Data.Page.AiringSchedules {
			if s.Media.ID == 0 {
				continue
			}
			entries = append(entries, s.toEntry())
		}
		if !resp.Data.Page.PageInfo.HasNextPage {
			break
		}
	}
	log.Printf("[anilist] %d airing entries between %s and %s", len(entries), start.Format(time.RFC3339), end.Format(time.RFC3339))
	return entries, nil
}

// errRetryable marks responses worth another attempt (rate limits, server errors).
var errRetryable = errors.New("retryable anilist response")

func (c *AniListClient) fetchPage(ctx context.Context, page int, start, end time.Time) (*anilistResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"query": airingQuery,
		"variables": map[string]any{
			"page":    page,
			"perPage": c.perPage,
			"start":   start.Unix(),
			"end":     end.Unix(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var out anilistResponse
	err = retry.Do(
		func() error {
			out = anilistResponse{}
			return c.post(ctx, payload, &out)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errRetryable) }),
	)
	if err != nil {
		return nil, fmt.Errorf("anilist page %d: %w", page, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("anilist page %d: %s", page, out.Errors[0].Message)
	}
	return &out, nil
}

func (c *AniListClient) post(ctx context.Context, payload []byte, out *anilistResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && len(out.Errors) == 0 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
