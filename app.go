package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/internal/metrics"
	"github.com/david325345/animetoday-docker/services/addon"
	"github.com/david325345/animetoday-docker/services/debrid"
	"github.com/david325345/animetoday-docker/services/metadata"
	"github.com/david325345/animetoday-docker/services/schedule"
	"github.com/david325345/animetoday-docker/services/search"
)

// lookupMaxAge bounds how long a resolve link handed out in a stream listing stays valid.
const lookupMaxAge = 24 * time.Hour

// application holds the wired services shared by every command.
type application struct {
	settings config.Settings
	metrics  *metrics.Metrics
	engine   *debrid.Engine
	search   *search.Aggregator
	schedule *schedule.Service
	lookup   *addon.MagnetLookup
	addon    *addon.Service
}

func buildApplication(settings config.Settings) (*application, error) {
	m := metrics.New()
	httpc := &http.Client{Timeout: 20 * time.Second}

	var provider debrid.Provider
	if settings.Debrid.APIKey != "" {
		p, ok := debrid.GetProvider(settings.Debrid.Provider, settings.Debrid.APIKey)
		if !ok {
			return nil, fmt.Errorf("unknown debrid provider %q", settings.Debrid.Provider)
		}
		provider = p
		log.Printf("[debrid] using %s", debrid.DisplayName(settings.Debrid.Provider))
	} else {
		log.Printf("[debrid] no API key configured, streams will be magnets only")
	}

	standard, eager := debrid.PolicyFromSettings(settings.Debrid.Resolve)
	cache := debrid.NewMemoryCache(settings.Cache.ResolutionTTL())
	engine := debrid.NewEngine(provider, cache, standard, debrid.WithMetrics(m))

	indexes, errs := search.IndexesFromConfig(settings.Indexes, httpc)
	for _, err := range errs {
		log.Printf("[search] skipping index: %v", err)
	}
	aggregator := search.NewAggregator(indexes, settings.Search, m)

	lookup := addon.NewMagnetLookup()
	opts := []schedule.Option{
		schedule.WithMetrics(m),
		schedule.WithInvalidator(cache.Clear),
		schedule.WithInvalidator(func() {
			if n := lookup.Prune(lookupMaxAge); n > 0 {
				log.Printf("[addon] pruned %d resolve links", n)
			}
		}),
	}
	if settings.Schedule.EnrichImages {
		tmdb := metadata.NewTMDBClient(settings.Metadata.TMDBAPIKey, settings.Metadata.Language, settings.Metadata.TMDBBaseURL, httpc)
		opts = append(opts, schedule.WithEnricher(metadata.NewEnricher(tmdb)))
	}
	if settings.Schedule.PersistSnapshot {
		opts = append(opts, schedule.WithSnapshots(schedule.NewSnapshotFile(afero.NewOsFs(), settings.Cache.Directory)))
	}
	source := schedule.NewAniListClient(settings.Metadata.AniListURL, settings.Schedule.PerPage, settings.Schedule.MaxPages, httpc)
	sched := schedule.NewService(source, nil, settings.Schedule, opts...)

	addonSvc := addon.NewService(addon.Config{
		PublicURL:    settings.Server.PublicURL,
		ProviderName: debrid.DisplayName(settings.Debrid.Provider),
		Streams:      settings.Streams,
		Placeholders: addon.UsablePlaceholders(afero.NewOsFs(), settings.Server.StaticDir, settings.Placeholders),
		EagerPolicy:  eager,
	}, sched.Store(), aggregator, engine, lookup, m)

	return &application{
		settings: settings,
		metrics:  m,
		engine:   engine,
		search:   aggregator,
		schedule: sched,
		lookup:   lookup,
		addon:    addonSvc,
	}, nil
}

// setupLogging tees the standard logger into a rotated file.
func setupLogging(cfg config.LogConfig) {
	if cfg.File == "" {
		return
	}
	logDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		return
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Logging to file: %s", cfg.File)
}
