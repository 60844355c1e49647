package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server       ServerSettings      `json:"server"`
	Debrid       DebridSettings      `json:"debrid"`
	Metadata     MetadataSettings    `json:"metadata"`
	Indexes      []IndexConfig       `json:"indexes"`
	Search       SearchSettings      `json:"search"`
	Schedule     ScheduleSettings    `json:"schedule"`
	Streams      StreamSettings      `json:"streams"`
	Placeholders PlaceholderSettings `json:"placeholders"`
	Cache        CacheSettings       `json:"cache"`
	Log          LogConfig           `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PublicURL is the externally reachable base used when building resolve links.
	PublicURL string `json:"publicUrl"`
	// StaticDir holds the placeholder videos served under /static/.
	StaticDir string `json:"staticDir"`
}

type DebridSettings struct {
	Provider string          `json:"provider"` // realdebrid | alldebrid
	APIKey   string          `json:"apiKey"`
	Resolve  ResolveSettings `json:"resolve"`
}

// ResolveSettings tunes the debrid polling policy.
type ResolveSettings struct {
	PollIntervalMs      int    `json:"pollIntervalMs"`
	MaxPolls            int    `json:"maxPolls"`
	EagerPollIntervalMs int    `json:"eagerPollIntervalMs"`
	EagerMaxPolls       int    `json:"eagerMaxPolls"`
	EarlyExitOnFetching *bool  `json:"earlyExitOnFetching,omitempty"`
	FetchingGracePolls  int    `json:"fetchingGracePolls"`
	EarlyExitOutcome    string `json:"earlyExitOutcome"` // downloading | failed
	DeleteOnAbort       *bool  `json:"deleteOnAbort,omitempty"`
	BudgetSeconds       int    `json:"budgetSeconds"`
}

// EarlyExit reports the effective cheap-exit flag (defaults to true).
func (r ResolveSettings) EarlyExit() bool {
	return r.EarlyExitOnFetching == nil || *r.EarlyExitOnFetching
}

// DeleteAborted reports whether aborted jobs are removed remotely (defaults to true).
func (r ResolveSettings) DeleteAborted() bool {
	return r.DeleteOnAbort == nil || *r.DeleteOnAbort
}

type MetadataSettings struct {
	TMDBAPIKey  string `json:"tmdbApiKey"`
	TMDBBaseURL string `json:"tmdbBaseUrl"`
	Language    string `json:"language"`
	AniListURL  string `json:"anilistUrl"`
}

// IndexConfig describes one torrent index endpoint.
type IndexConfig struct {
	Name              string  `json:"name"`
	Type              string  `json:"type"` // nyaa-rss | nyaa-html
	URL               string  `json:"url"`
	Category          string  `json:"category"`
	BroadCategory     string  `json:"broadCategory"`
	Role              string  `json:"role"` // primary | secondary
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Enabled           bool    `json:"enabled"`
}

type SearchSettings struct {
	MaxPages      int  `json:"maxPages"`
	Concurrency   int  `json:"concurrency"`
	BroadFallback bool `json:"broadFallback"`
}

type ScheduleSettings struct {
	// DailyRefreshTime is a local wall-clock time in HH:MM.
	DailyRefreshTime       string `json:"dailyRefreshTime"`
	RefreshIntervalMinutes int    `json:"refreshIntervalMinutes"`
	MaxPages               int    `json:"maxPages"`
	PerPage                int    `json:"perPage"`
	EnrichImages           bool   `json:"enrichImages"`
	PersistSnapshot        bool   `json:"persistSnapshot"`
}

type StreamSettings struct {
	MaxDebridCandidates int  `json:"maxDebridCandidates"`
	MaxMagnetFallbacks  int  `json:"maxMagnetFallbacks"`
	EagerResolve        bool `json:"eagerResolve"`
}

// PlaceholderSettings lists the assets served when nothing playable exists. Video
// placeholders are absolute URLs or /static/ paths served from Server.StaticDir.
type PlaceholderSettings struct {
	Poster      string `json:"poster"`
	NotYetURL   string `json:"notYetUrl"`
	Downloading string `json:"downloading"`
	Failed      string `json:"failed"`
	Unavailable string `json:"unavailable"`
}

type CacheSettings struct {
	Directory            string `json:"directory"`
	ResolutionTTLMinutes int    `json:"resolutionTtlMinutes"`
}

type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 7000, StaticDir: "public"},
		Debrid: DebridSettings{
			Provider: "realdebrid",
			Resolve: ResolveSettings{
				PollIntervalMs:      2000,
				MaxPolls:            15,
				EagerPollIntervalMs: 1000,
				EagerMaxPolls:       5,
				FetchingGracePolls:  3,
				EarlyExitOutcome:    "downloading",
				BudgetSeconds:       32,
			},
		},
		Metadata: MetadataSettings{
			TMDBBaseURL: "https://api.themoviedb.org/3",
			Language:    "en",
			AniListURL:  "https://graphql.anilist.co",
		},
		Indexes: []IndexConfig{
			{Name: "Nyaa", Type: "nyaa-rss", URL: "https://nyaa.si", Category: "1_2", BroadCategory: "1_0", Role: "primary", RequestsPerSecond: 2, Enabled: true},
			// Raws usually land before the subbed releases the primary looks for.
			{Name: "Nyaa raws (web)", Type: "nyaa-html", URL: "https://nyaa.si", Category: "1_4", BroadCategory: "1_0", Role: "secondary", RequestsPerSecond: 1, Enabled: true},
		},
		Search: SearchSettings{MaxPages: 2, Concurrency: 4, BroadFallback: true},
		Schedule: ScheduleSettings{
			DailyRefreshTime:       "04:00",
			RefreshIntervalMinutes: 360,
			MaxPages:               4,
			PerPage:                50,
			EnrichImages:           true,
			PersistSnapshot:        true,
		},
		Streams: StreamSettings{MaxDebridCandidates: 3, MaxMagnetFallbacks: 10},
		Placeholders: PlaceholderSettings{
			Poster:      "https://via.placeholder.com/230x345/1a1a2e/ffffff?text=No+Image",
			NotYetURL:   "https://nyaa.si",
			Downloading: "https://torrentio.strem.fun/videos/downloading_v2.mp4",
			Failed:      "https://torrentio.strem.fun/videos/failed_download_v2.mp4",
			Unavailable: "https://torrentio.strem.fun/videos/failed_unexpected_v2.mp4",
		},
		Cache: CacheSettings{Directory: "cache", ResolutionTTLMinutes: 60},
		Log: LogConfig{
			File:       "cache/logs/animetoday.log",
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path   string
	lookup func(string) (string, bool)
}

// NewManager returns a manager that applies process environment overrides on Load.
func NewManager(configPath string) *Manager {
	return &Manager{path: configPath, lookup: os.LookupEnv}
}

// NewManagerWithEnv is NewManager with an explicit environment lookup.
func NewManagerWithEnv(configPath string, lookup func(string) (string, bool)) *Manager {
	return &Manager{path: configPath, lookup: lookup}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
// Environment overrides are applied to the returned value only; they never reach disk.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}

	var s Settings
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		s = DefaultSettings()
		if err := m.Save(s); err != nil {
			return Settings{}, err
		}
	} else {
		f, err := os.Open(m.path)
		if err != nil {
			return Settings{}, err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&s); err != nil {
			return Settings{}, fmt.Errorf("decode %s: %w", m.path, err)
		}
		backfill(&s)
	}

	if m.lookup != nil {
		applyEnv(&s, m.lookup)
	}
	return s, nil
}

// backfill fills zero values for settings introduced after the file was written.
func backfill(s *Settings) {
	d := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = d.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if strings.TrimSpace(s.Debrid.Provider) == "" {
		s.Debrid.Provider = d.Debrid.Provider
	}

	r := &s.Debrid.Resolve
	if r.PollIntervalMs <= 0 {
		r.PollIntervalMs = d.Debrid.Resolve.PollIntervalMs
	}
	if r.MaxPolls <= 0 {
		r.MaxPolls = d.Debrid.Resolve.MaxPolls
	}
	if r.EagerPollIntervalMs <= 0 {
		r.EagerPollIntervalMs = d.Debrid.Resolve.EagerPollIntervalMs
	}
	if r.EagerMaxPolls <= 0 {
		r.EagerMaxPolls = d.Debrid.Resolve.EagerMaxPolls
	}
	if r.FetchingGracePolls <= 0 {
		r.FetchingGracePolls = d.Debrid.Resolve.FetchingGracePolls
	}
	if r.EarlyExitOutcome == "" {
		r.EarlyExitOutcome = d.Debrid.Resolve.EarlyExitOutcome
	}
	if r.BudgetSeconds <= 0 {
		r.BudgetSeconds = d.Debrid.Resolve.BudgetSeconds
	}

	if s.Metadata.TMDBBaseURL == "" {
		s.Metadata.TMDBBaseURL = d.Metadata.TMDBBaseURL
	}
	if s.Metadata.Language == "" {
		s.Metadata.Language = d.Metadata.Language
	}
	if s.Metadata.AniListURL == "" {
		s.Metadata.AniListURL = d.Metadata.AniListURL
	}
	if s.Indexes == nil {
		s.Indexes = d.Indexes
	}
	if s.Search.MaxPages <= 0 {
		s.Search.MaxPages = d.Search.MaxPages
	}
	if s.Search.Concurrency <= 0 {
		s.Search.Concurrency = d.Search.Concurrency
	}

	if _, err := ParseClock(s.Schedule.DailyRefreshTime); err != nil {
		s.Schedule.DailyRefreshTime = d.Schedule.DailyRefreshTime
	}
	if s.Schedule.MaxPages <= 0 {
		s.Schedule.MaxPages = d.Schedule.MaxPages
	}
	if s.Schedule.PerPage <= 0 || s.Schedule.PerPage > 50 {
		s.Schedule.PerPage = d.Schedule.PerPage
	}

	if s.Streams.MaxDebridCandidates <= 0 {
		s.Streams.MaxDebridCandidates = d.Streams.MaxDebridCandidates
	}
	if s.Streams.MaxMagnetFallbacks <= 0 {
		s.Streams.MaxMagnetFallbacks = d.Streams.MaxMagnetFallbacks
	}

	p := &s.Placeholders
	if p.Poster == "" {
		p.Poster = d.Placeholders.Poster
	}
	if p.NotYetURL == "" {
		p.NotYetURL = d.Placeholders.NotYetURL
	}
	if p.Downloading == "" {
		p.Downloading = d.Placeholders.Downloading
	}
	if p.Failed == "" {
		p.Failed = d.Placeholders.Failed
	}
	if p.Unavailable == "" {
		p.Unavailable = d.Placeholders.Unavailable
	}

	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = d.Cache.Directory
	}
	if s.Cache.ResolutionTTLMinutes <= 0 {
		s.Cache.ResolutionTTLMinutes = d.Cache.ResolutionTTLMinutes
	}
}

// applyEnv layers the container-style environment variables over the file settings.
func applyEnv(s *Settings, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.Server.Port = port
		}
	}
	if v, ok := get("HOST"); ok {
		s.Server.Host = v
	}
	if v, ok := get("PUBLIC_URL"); ok {
		s.Server.PublicURL = strings.TrimRight(v, "/")
	}
	if v, ok := get("REALDEBRID_API_KEY"); ok {
		s.Debrid.Provider = "realdebrid"
		s.Debrid.APIKey = v
	} else if v, ok := get("ALLDEBRID_API_KEY"); ok {
		s.Debrid.Provider = "alldebrid"
		s.Debrid.APIKey = v
	}
	if v, ok := get("TMDB_API_KEY"); ok {
		s.Metadata.TMDBAPIKey = v
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// ParseClock parses an HH:MM wall-clock time into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// PollInterval returns the configured poll interval as a duration.
func (r ResolveSettings) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// EagerPollInterval returns the eager poll interval as a duration.
func (r ResolveSettings) EagerPollInterval() time.Duration {
	return time.Duration(r.EagerPollIntervalMs) * time.Millisecond
}

// Budget returns the outer resolution budget.
func (r ResolveSettings) Budget() time.Duration {
	return time.Duration(r.BudgetSeconds) * time.Second
}

// ResolutionTTL returns the resolution cache lifetime.
func (c CacheSettings) ResolutionTTL() time.Duration {
	return time.Duration(c.ResolutionTTLMinutes) * time.Minute
}

// RefreshInterval returns the periodic schedule refresh interval, zero when disabled.
func (s ScheduleSettings) RefreshInterval() time.Duration {
	if s.RefreshIntervalMinutes <= 0 {
		return 0
	}
	return time.Duration(s.RefreshIntervalMinutes) * time.Minute
}
