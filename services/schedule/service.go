package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/internal/metrics"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/scheduler"
)

// RefreshTaskID identifies the refresh task in scheduler status reports.
const RefreshTaskID = "schedule-refresh"

// ErrUpstreamUnavailable wraps any failure to obtain a fresh schedule.
var ErrUpstreamUnavailable = errors.New("schedule source unavailable")

const defaultEnrichConcurrency = 4

// Enricher decorates entries before they are published.
type Enricher interface {
	Enabled() bool
	Enrich(ctx context.Context, entry *models.AiringEntry) error
}

// Invalidator runs after every refresh attempt, successful or not.
type Invalidator func()

// Service keeps the Store filled with the current day's schedule.
type Service struct {
	source       Source
	store        *Store
	settings     config.ScheduleSettings
	enricher     Enricher
	snapshots    *SnapshotFile
	invalidators []Invalidator
	metrics      *metrics.Metrics
	now          func() time.Time
	concurrency  int
	checkEvery   time.Duration

	refreshMu sync.Mutex
	scheduler *scheduler.Service
}

// Option customises a Service.
type Option func(*Service)

func WithEnricher(e Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

func WithSnapshots(f *SnapshotFile) Option {
	return func(s *Service) { s.snapshots = f }
}

// WithInvalidator registers a hook run after each refresh, e.g. to drop cached resolutions.
func WithInvalidator(fn Invalidator) Option {
	return func(s *Service) { s.invalidators = append(s.invalidators, fn) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCheckInterval sets how often the scheduler looks for due triggers.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Service) { s.checkEvery = d }
}

func NewService(source Source, store *Store, settings config.ScheduleSettings, opts ...Option) *Service {
	if store == nil {
		store = NewStore()
	}
	s := &Service{
		source:      source,
		store:       store,
		settings:    settings,
		now:         time.Now,
		concurrency: defaultEnrichConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() *Store {
	return s.store
}

// DayWindow returns the UTC day containing now.
func DayWindow(now time.Time) (time.Time, time.Time) {
	secs := now.Unix()
	start := time.Unix(secs-secs%86400, 0).UTC()
	return start, start.Add(24 * time.Hour)
}

// Refresh fetches the current day window and publishes it. On failure the previous entries
// stay in place. Concurrent refreshes are serialised.
func (s *Service) Refresh(ctx context.Context, trigger string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	defer s.invalidate()

	startedAt := s.now()
	start, end := DayWindow(startedAt)

	entries, err := s.source.FetchDay(ctx, start, end)
	if err != nil {
		s.metrics.ScheduleRefresh(trigger, 0, err)
		log.Printf("[schedule] refresh (%s) failed, keeping %d entries: %v", trigger, s.store.Len(), err)
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	s.enrich(ctx, entries)

	s.store.Replace(&Snapshot{
		WindowStart: start,
		WindowEnd:   end,
		UpdatedAt:   s.now(),
		Entries:     entries,
	})
	if s.snapshots != nil {
		if err := s.snapshots.Save(s.store.Snapshot()); err != nil {
			log.Printf("[schedule] persist snapshot: %v", err)
		}
	}

	s.metrics.ScheduleRefresh(trigger, len(entries), nil)
	log.Printf("[schedule] refresh (%s) loaded %d entries for %s in %s",
		trigger, len(entries), start.Format("2006-01-02"), s.now().Sub(startedAt).Round(time.Millisecond))
	return nil
}

// RefreshNow runs an on-demand refresh synchronously.
func (s *Service) RefreshNow(ctx context.Context) error {
	return s.Refresh(ctx, scheduler.TriggerManual)
}

func (s *Service) enrich(ctx context.Context, entries []models.AiringEntry) {
	if s.enricher == nil || !s.enricher.Enabled() || len(entries) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for i := range entries {
		entry := &entries[i]
		p.Go(func() {
			if err := s.enricher.Enrich(ctx, entry); err != nil {
				log.Printf("[schedule] artwork for %s: %v", entry.DisplayTitle(), err)
			}
		})
	}
	p.Wait()
}

func (s *Service) invalidate() {
	for _, fn := range s.invalidators {
		fn()
	}
}

// Start restores a persisted snapshot for the current window, then schedules the refresh
// task: once at startup, daily at the configured wall-clock time, and on the interval.
func (s *Service) Start(ctx context.Context) error {
	s.restore()

	daily := time.Duration(-1)
	if offset, err := config.ParseClock(s.settings.DailyRefreshTime); err == nil {
		daily = offset
	} else {
		log.Printf("[schedule] daily refresh disabled: %v", err)
	}

	s.scheduler = scheduler.NewService(s.checkEvery, scheduler.Task{
		ID:         RefreshTaskID,
		Name:       "Refresh airing schedule",
		Run:        s.Refresh,
		RunOnStart: true,
		DailyAt:    daily,
		Interval:   s.settings.RefreshInterval(),
	}).WithClock(s.now)
	return s.scheduler.Start(ctx)
}

func (s *Service) Stop(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Stop(ctx)
}

// Status reports the refresh task, empty before Start.
func (s *Service) Status() []scheduler.TaskStatus {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.GetTaskStatus()
}

func (s *Service) restore() {
	if s.snapshots == nil || s.store.Len() > 0 {
		return
	}
	snap, err := s.snapshots.Load()
	if err != nil {
		log.Printf("[schedule] ignoring snapshot %s: %v", s.snapshots.Path(), err)
		return
	}
	if snap == nil {
		return
	}
	start, _ := DayWindow(s.now())
	if !snap.WindowStart.Equal(start) {
		log.Printf("[schedule] snapshot from %s is stale", snap.WindowStart.Format("2006-01-02"))
		return
	}
	s.store.Replace(snap)
	log.Printf("[schedule] restored %d entries from %s", len(snap.Entries), s.snapshots.Path())
}
