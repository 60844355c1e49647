package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/models"
)

// Index roles decide in which aggregation stage an index is queried.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Index types understood by NewIndex.
const (
	TypeNyaaRSS  = "nyaa-rss"
	TypeNyaaHTML = "nyaa-html"
)

const (
	defaultNyaaURL       = "https://nyaa.si"
	defaultCategory      = "1_2"
	defaultBroadCategory = "1_0"
	indexRequestTimeout  = 15 * time.Second
)

var ErrUnknownIndexType = errors.New("unknown index type")

// Query is one page of one search string.
type Query struct {
	Text string
	Page int
	// Broad widens the category filter (all anime instead of english-translated).
	Broad bool
}

// Index is a torrent source that can be searched by text.
type Index interface {
	Name() string
	Role() string
	Search(ctx context.Context, q Query) ([]models.TorrentCandidate, error)
}

// indexBase holds what both Nyaa renditions share: endpoint, categories and politeness.
type indexBase struct {
	name          string
	role          string
	baseURL       string
	category      string
	broadCategory string
	limiter       *rate.Limiter
	httpClient    *http.Client
}

func newIndexBase(cfg config.IndexConfig, client *http.Client) indexBase {
	if client == nil {
		client = &http.Client{Timeout: indexRequestTimeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		base = defaultNyaaURL
	}
	role := scopeRole(cfg)
	category := cfg.Category
	if category == "" {
		category = defaultCategory
	}
	broad := cfg.BroadCategory
	if broad == "" {
		broad = defaultBroadCategory
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return indexBase{
		name:          cfg.Name,
		role:          role,
		baseURL:       base,
		category:      category,
		broadCategory: broad,
		limiter:       rate.NewLimiter(limit, 1),
		httpClient:    client,
	}
}

func (b *indexBase) Role() string {
	return b.role
}

func (b *indexBase) categoryFor(q Query) string {
	if q.Broad {
		return b.broadCategory
	}
	return b.category
}

// get waits for the limiter and performs a GET, returning the open response on 200.
func (b *indexBase) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "animetoday/2.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// NewIndex builds an index from configuration.
func NewIndex(cfg config.IndexConfig, client *http.Client) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeNyaaRSS, "":
		return NewNyaaRSSIndex(cfg, client), nil
	case TypeNyaaHTML:
		return NewNyaaHTMLIndex(cfg, client), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndexType, cfg.Type)
	}
}

// IndexesFromConfig builds every enabled index, skipping invalid entries.
func IndexesFromConfig(cfgs []config.IndexConfig, client *http.Client) ([]Index, []error) {
	var (
		indexes []Index
		errs    []error
	)
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		idx, err := NewIndex(cfg, client)
		if err != nil {
			errs = append(errs, fmt.Errorf("index %q: %w", cfg.Name, err))
			continue
		}
		indexes = append(indexes, idx)
	}
	warnDuplicateScopes(cfgs)
	return indexes, errs
}

// warnDuplicateScopes flags a secondary index that searches exactly what a primary does;
// such a fallback can never find anything the primary missed.
func warnDuplicateScopes(cfgs []config.IndexConfig) {
	primaries := map[string]string{}
	for _, cfg := range cfgs {
		if cfg.Enabled && scopeRole(cfg) == RolePrimary {
			primaries[scopeKey(cfg)] = cfg.Name
		}
	}
	for _, cfg := range cfgs {
		if !cfg.Enabled || scopeRole(cfg) != RoleSecondary {
			continue
		}
		if name, ok := primaries[scopeKey(cfg)]; ok {
			log.Printf("[search] secondary index %q searches the same site and category as %q", cfg.Name, name)
		}
	}
}

func scopeRole(cfg config.IndexConfig) string {
	if strings.EqualFold(strings.TrimSpace(cfg.Role), RoleSecondary) {
		return RoleSecondary
	}
	return RolePrimary
}

func scopeKey(cfg config.IndexConfig) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		base = defaultNyaaURL
	}
	category := cfg.Category
	if category == "" {
		category = defaultCategory
	}
	return strings.ToLower(base) + "|" + category
}

// sizeBytes converts a human readable size such as "1.4 GiB" to bytes, 0 when unparseable.
func sizeBytes(size string) int64 {
	n, err := humanize.ParseBytes(strings.TrimSpace(size))
	if err != nil {
		return 0
	}
	return int64(n)
}
