package search

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/internal/metrics"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/debrid"
)

const (
	defaultMaxPages    = 2
	defaultConcurrency = 4
)

// Aggregator fans a title/episode search out over the configured indexes and merges the
// results into one deduplicated, seeder-ranked list.
type Aggregator struct {
	primary       []Index
	secondary     []Index
	maxPages      int
	concurrency   int
	broadFallback bool
	metrics       *metrics.Metrics
}

// NewAggregator groups indexes by role. m may be nil.
func NewAggregator(indexes []Index, settings config.SearchSettings, m *metrics.Metrics) *Aggregator {
	a := &Aggregator{
		maxPages:      settings.MaxPages,
		concurrency:   settings.Concurrency,
		broadFallback: settings.BroadFallback,
		metrics:       m,
	}
	if a.maxPages <= 0 {
		a.maxPages = defaultMaxPages
	}
	if a.concurrency <= 0 {
		a.concurrency = defaultConcurrency
	}
	for _, idx := range indexes {
		if idx.Role() == RoleSecondary {
			a.secondary = append(a.secondary, idx)
		} else {
			a.primary = append(a.primary, idx)
		}
	}
	return a
}

// Configured reports whether at least one index is available.
func (a *Aggregator) Configured() bool {
	return len(a.primary)+len(a.secondary) > 0
}

type searchJob struct {
	index   Index
	variant string
	broad   bool
}

// Search runs the staged fallback chain: primary indexes with every variant, then the
// secondary indexes, then a broad-category query on the primary indexes with the reduced
// variant set. Index errors are logged and never fail the search.
func (a *Aggregator) Search(ctx context.Context, title string, episode int) []models.TorrentCandidate {
	variants := BuildVariants(title, episode)
	if len(variants) == 0 || !a.Configured() {
		return nil
	}

	results := a.runStage(ctx, "primary", a.primary, variants, false)
	if len(results) == 0 && len(a.secondary) > 0 {
		results = a.runStage(ctx, "secondary", a.secondary, variants, false)
	}
	if len(results) == 0 && a.broadFallback && len(a.primary) > 0 {
		results = a.runStage(ctx, "broad", a.primary, BroadVariants(title, episode), true)
	}

	a.metrics.SearchCandidates(len(results))
	log.Printf("[search] %q episode %d: %d unique candidates", title, episode, len(results))
	return results
}

// SearchEntry searches the romaji title first and the english title only when the first
// search found nothing.
func (a *Aggregator) SearchEntry(ctx context.Context, entry models.AiringEntry) []models.TorrentCandidate {
	for _, title := range entry.SearchTitles() {
		if results := a.Search(ctx, title, entry.Episode); len(results) > 0 {
			return results
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func (a *Aggregator) runStage(ctx context.Context, stage string, indexes []Index, variants []string, broad bool) []models.TorrentCandidate {
	if len(indexes) == 0 {
		return nil
	}
	jobs := make([]searchJob, 0, len(indexes)*len(variants))
	for _, idx := range indexes {
		for _, v := range variants {
			jobs = append(jobs, searchJob{index: idx, variant: v, broad: broad})
		}
	}

	mapper := iter.Mapper[searchJob, []models.TorrentCandidate]{MaxGoroutines: a.concurrency}
	pages := mapper.Map(jobs, func(job *searchJob) []models.TorrentCandidate {
		return a.queryPages(ctx, *job)
	})

	merged := Merge(pages...)
	if len(merged) > 0 {
		log.Printf("[search] stage %s produced %d candidates from %d queries", stage, len(merged), len(jobs))
	}
	return merged
}

// queryPages fetches up to maxPages pages and stops at the first empty page or error.
func (a *Aggregator) queryPages(ctx context.Context, job searchJob) []models.TorrentCandidate {
	var out []models.TorrentCandidate
	for page := 1; page <= a.maxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		results, err := job.index.Search(ctx, Query{Text: job.variant, Page: page, Broad: job.broad})
		a.metrics.IndexQuery(job.index.Name(), err)
		if err != nil {
			log.Printf("[search] %s query %q page %d failed: %v", job.index.Name(), job.variant, page, err)
			break
		}
		if len(results) == 0 {
			break
		}
		out = append(out, results...)
	}
	return out
}

// Merge concatenates result lists, keeps the first candidate per info hash and orders the
// survivors by seeders, highest first. Equal seeder counts keep their merge order.
func Merge(lists ...[]models.TorrentCandidate) []models.TorrentCandidate {
	seen := make(map[string]struct{})
	var merged []models.TorrentCandidate
	for _, list := range lists {
		for _, c := range list {
			key := strings.ToLower(strings.TrimSpace(c.InfoHash))
			if key == "" {
				key = debrid.MagnetIdentity(c.Magnet)
			}
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, c)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seeders > merged[j].Seeders
	})
	return merged
}
