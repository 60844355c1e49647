package addon

import (
	"context"
	"log"
	"strings"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/internal/metrics"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/debrid"
	"github.com/david325345/animetoday-docker/utils/filter"
)

const (
	AddonID       = "cz.anime.nyaa.rd"
	AddonVersion  = "2.0.0"
	CatalogID     = "anime-today"
	contentType   = "series"
	addonLogo     = "https://raw.githubusercontent.com/david325345/animetoday/main/public/logo.png"
	resolvePrefix = "/resolve/"
)

// Schedule is the read side of the schedule store.
type Schedule interface {
	Entries() []models.AiringEntry
	Find(showID, episode int) (models.AiringEntry, bool)
}

// Searcher finds torrent candidates for an airing entry.
type Searcher interface {
	SearchEntry(ctx context.Context, entry models.AiringEntry) []models.TorrentCandidate
}

// Resolver turns magnets into playable URLs.
type Resolver interface {
	Configured() bool
	Resolve(ctx context.Context, magnet string) models.Outcome
	ResolveWith(ctx context.Context, magnet string, policy debrid.ResolvePolicy) models.Outcome
}

// Config carries the presentation settings of the addon.
type Config struct {
	PublicURL    string
	ProviderName string
	Streams      config.StreamSettings
	Placeholders config.PlaceholderSettings
	EagerPolicy  debrid.ResolvePolicy
}

// Service implements the catalog, meta, stream and resolve operations.
type Service struct {
	cfg      Config
	schedule Schedule
	search   Searcher
	resolver Resolver
	lookup   *MagnetLookup
	metrics  *metrics.Metrics
}

func NewService(cfg Config, schedule Schedule, search Searcher, resolver Resolver, lookup *MagnetLookup, m *metrics.Metrics) *Service {
	if lookup == nil {
		lookup = NewMagnetLookup()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "RealDebrid"
	}
	if cfg.Streams.MaxDebridCandidates <= 0 {
		cfg.Streams.MaxDebridCandidates = 3
	}
	if cfg.Streams.MaxMagnetFallbacks <= 0 {
		cfg.Streams.MaxMagnetFallbacks = 10
	}
	return &Service{
		cfg:      cfg,
		schedule: schedule,
		search:   search,
		resolver: resolver,
		lookup:   lookup,
		metrics:  m,
	}
}

func (s *Service) Lookup() *MagnetLookup {
	return s.lookup
}

func (s *Service) Manifest() models.Manifest {
	return models.Manifest{
		ID:          AddonID,
		Version:     AddonVersion,
		Name:        "Anime Today + Nyaa + RealDebrid",
		Description: "Today's anime with Nyaa torrents through RealDebrid",
		Logo:        addonLogo,
		Resources:   []string{"catalog", "meta", "stream"},
		Types:       []string{contentType},
		Catalogs: []models.CatalogDef{{
			Type:  contentType,
			ID:    CatalogID,
			Name:  "Today's Anime",
			Extra: []models.CatalogExtra{{Name: "skip"}},
		}},
		IDPrefixes: []string{models.IDPrefix},
	}
}

// Catalog lists today's entries ordered by airing time. The whole day fits one page, so any
// positive skip yields an empty page.
func (s *Service) Catalog(typ, id string, skip int) models.CatalogResponse {
	metas := []models.MetaPreview{}
	if typ != contentType || id != CatalogID || skip > 0 {
		return models.CatalogResponse{Metas: metas}
	}
	for _, e := range s.schedule.Entries() {
		metas = append(metas, toPreview(e, s.cfg.Placeholders.Poster))
	}
	return models.CatalogResponse{Metas: metas}
}

// Meta returns the detail view of one entry. Unknown entries produce a nil meta; only a
// malformed id is an error.
func (s *Service) Meta(typ, id string) (models.MetaResponse, error) {
	showID, episode, err := ParseID(id)
	if err != nil {
		return models.MetaResponse{}, err
	}
	if typ != contentType {
		return models.MetaResponse{}, nil
	}
	entry, ok := s.schedule.Find(showID, episode)
	if !ok {
		return models.MetaResponse{}, nil
	}
	meta := toMeta(entry, s.cfg.Placeholders.Poster)
	return models.MetaResponse{Meta: &meta}, nil
}

// Streams lists playable entries for an episode. baseURL is used for resolve links when no
// public URL is configured.
func (s *Service) Streams(ctx context.Context, typ, id, baseURL string) (models.StreamResponse, error) {
	showID, episode, err := ParseID(id)
	if err != nil {
		return models.StreamResponse{}, err
	}
	streams := []models.Stream{}
	if typ != contentType {
		return models.StreamResponse{Streams: streams}, nil
	}
	entry, ok := s.schedule.Find(showID, episode)
	if !ok {
		return models.StreamResponse{Streams: streams}, nil
	}

	log.Printf("[addon] streams for %s episode %d", entry.DisplayTitle(), episode)
	var candidates []models.TorrentCandidate
	for _, c := range filter.FilterEpisode(s.search.SearchEntry(ctx, entry), episode) {
		if strings.TrimSpace(c.Magnet) != "" {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		log.Printf("[addon] no release of %s episode %d yet", entry.DisplayTitle(), episode)
		s.metrics.StreamResponse("placeholder")
		return models.StreamResponse{Streams: []models.Stream{notYetStream(episode, s.cfg.Placeholders.NotYetURL)}}, nil
	}

	if s.resolver != nil && s.resolver.Configured() {
		streams = append(streams, s.debridStreams(ctx, candidates, s.base(baseURL))...)
		s.metrics.StreamResponse("debrid")
	} else {
		s.metrics.StreamResponse("magnet")
	}

	for i, c := range candidates {
		if i >= s.cfg.Streams.MaxMagnetFallbacks {
			break
		}
		streams = append(streams, magnetStream(c))
	}
	log.Printf("[addon] %d streams for %s episode %d", len(streams), entry.DisplayTitle(), episode)
	return models.StreamResponse{Streams: streams}, nil
}

// debridStreams returns at most one eagerly resolved link followed by lazy resolve links for
// the top candidates.
func (s *Service) debridStreams(ctx context.Context, candidates []models.TorrentCandidate, base string) []models.Stream {
	top := candidates
	if len(top) > s.cfg.Streams.MaxDebridCandidates {
		top = top[:s.cfg.Streams.MaxDebridCandidates]
	}

	var out []models.Stream
	readyHash := ""
	if s.cfg.Streams.EagerResolve {
		for _, c := range top {
			outcome := s.resolver.ResolveWith(ctx, c.Magnet, s.cfg.EagerPolicy)
			if outcome.IsReady() {
				out = append(out, debridStream(s.cfg.ProviderName, c, outcome.URL, ""))
				readyHash = debrid.MagnetIdentity(c.Magnet)
				break
			}
			log.Printf("[addon] eager resolve of %q: %s (%s)", c.Name, outcome.Status, outcome.State)
			if ctx.Err() != nil {
				break
			}
		}
	}

	for _, c := range top {
		if readyHash != "" && debrid.MagnetIdentity(c.Magnet) == readyHash {
			continue
		}
		token := s.lookup.Put(c.Magnet)
		out = append(out, debridStream(s.cfg.ProviderName, c, base+resolvePrefix+token, "▶ Resolved on play"))
	}
	return out
}

func (s *Service) base(requestBase string) string {
	if strings.TrimSpace(s.cfg.PublicURL) != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	return strings.TrimRight(requestBase, "/")
}

// Resolve maps a token to its magnet, resolves it and returns where the client should be
// sent: the playable URL, or a placeholder asset for every non-ready outcome.
func (s *Service) Resolve(ctx context.Context, token, baseURL string) (string, models.Outcome) {
	magnet, ok := s.lookup.Get(token)
	if !ok {
		log.Printf("[addon] unknown resolve token %q", token)
		return s.asset(s.cfg.Placeholders.Unavailable, baseURL), models.Failed("unknown token")
	}
	if s.resolver == nil || !s.resolver.Configured() {
		return s.asset(s.cfg.Placeholders.Unavailable, baseURL), models.Failed(debrid.ErrNotConfigured.Error())
	}

	outcome := s.resolver.Resolve(ctx, magnet)
	switch outcome.Status {
	case models.OutcomeReady:
		if outcome.URL != "" {
			return outcome.URL, outcome
		}
		return s.asset(s.cfg.Placeholders.Failed, baseURL), outcome
	case models.OutcomeDownloading:
		return s.asset(s.cfg.Placeholders.Downloading, baseURL), outcome
	default:
		return s.asset(s.cfg.Placeholders.Failed, baseURL), outcome
	}
}

// asset makes a site-relative placeholder path absolute.
func (s *Service) asset(path, baseURL string) string {
	if strings.HasPrefix(path, "/") {
		return s.base(baseURL) + path
	}
	return path
}
