package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/models"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeEnricher struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (f *fakeEnricher) Enabled() bool { return true }

func (f *fakeEnricher) Enrich(_ context.Context, entry *models.AiringEntry) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[entry.ShowID] {
		return errors.New("tmdb down")
	}
	entry.Images.TMDBPoster = "poster-" + entry.Titles.Romaji
	return nil
}

func sampleEntries() []models.AiringEntry {
	return []models.AiringEntry{
		{ShowID: 2, Episode: 7, AiringAt: fixedNow.Add(3 * time.Hour).Unix(), Titles: models.Titles{Romaji: "Later Show"}},
		{ShowID: 1, Episode: 3, AiringAt: fixedNow.Add(-2 * time.Hour).Unix(), Titles: models.Titles{Romaji: "Earlier Show"}},
	}
}

func TestDayWindow(t *testing.T) {
	start, end := DayWindow(time.Date(2026, 3, 14, 23, 59, 59, 0, time.FixedZone("JST", 9*3600)))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	start, _ = DayWindow(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), start)
}

func TestRefreshPublishesSortedEnrichedEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	wantStart, wantEnd := DayWindow(fixedNow)
	source.EXPECT().FetchDay(gomock.Any(), wantStart, wantEnd).Return(sampleEntries(), nil)

	var invalidated atomic.Int32
	enricher := &fakeEnricher{fail: map[int]bool{2: true}}
	svc := NewService(source, nil, config.ScheduleSettings{},
		WithClock(clock),
		WithEnricher(enricher),
		WithInvalidator(func() { invalidated.Add(1) }),
	)

	require.NoError(t, svc.Refresh(context.Background(), "manual"))

	entries := svc.Store().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Earlier Show", entries[0].Titles.Romaji)
	assert.Equal(t, "poster-Earlier Show", entries[0].Images.TMDBPoster)
	assert.Empty(t, entries[1].Images.TMDBPoster, "failed enrichment leaves the entry as is")
	assert.Equal(t, 2, enricher.calls)
	assert.Equal(t, int32(1), invalidated.Load())
	assert.Equal(t, fixedNow, svc.Store().UpdatedAt())

	found, ok := svc.Store().Find(2, 7)
	require.True(t, ok)
	assert.Equal(t, "Later Show", found.Titles.Romaji)
	_, ok = svc.Store().Find(2, 8)
	assert.False(t, ok)
}

func TestFailedRefreshKeepsPreviousEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	gomock.InOrder(
		source.EXPECT().FetchDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(sampleEntries(), nil),
		source.EXPECT().FetchDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("status 500")),
	)

	var invalidated atomic.Int32
	svc := NewService(source, nil, config.ScheduleSettings{},
		WithClock(clock),
		WithInvalidator(func() { invalidated.Add(1) }),
	)

	require.NoError(t, svc.Refresh(context.Background(), "startup"))
	err := svc.Refresh(context.Background(), "interval")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	assert.Equal(t, 2, svc.Store().Len())
	assert.Equal(t, int32(2), invalidated.Load(), "caches are invalidated on failed refreshes too")
}

func TestSnapshotPersistedAndRestored(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := NewSnapshotFile(fsys, "/cache")

	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	source.EXPECT().FetchDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(sampleEntries(), nil)

	first := NewService(source, nil, config.ScheduleSettings{}, WithClock(clock), WithSnapshots(files))
	require.NoError(t, first.Refresh(context.Background(), "startup"))

	exists, err := afero.Exists(fsys, "/cache/schedule.json")
	require.NoError(t, err)
	require.True(t, exists)

	second := NewService(nil, nil, config.ScheduleSettings{}, WithClock(clock), WithSnapshots(files))
	second.restore()
	entries := second.Store().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].ShowID)

	tomorrow := func() time.Time { return fixedNow.Add(24 * time.Hour) }
	stale := NewService(nil, nil, config.ScheduleSettings{}, WithClock(tomorrow), WithSnapshots(files))
	stale.restore()
	assert.Zero(t, stale.Store().Len(), "a snapshot from another day is not served")
}

func TestSnapshotLoadMissingAndCorrupt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := NewSnapshotFile(fsys, "/cache")

	snap, err := files.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, afero.WriteFile(fsys, "/cache/schedule.json", []byte("{not json"), 0o644))
	_, err = files.Load()
	assert.Error(t, err)
}

func TestStartRefreshesOnceAndStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	fetched := make(chan struct{}, 1)
	source.EXPECT().FetchDay(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time, time.Time) ([]models.AiringEntry, error) {
			fetched <- struct{}{}
			return sampleEntries(), nil
		})

	svc := NewService(source, nil, config.ScheduleSettings{DailyRefreshTime: "04:00"},
		WithClock(clock),
		WithCheckInterval(10*time.Millisecond),
	)
	require.NoError(t, svc.Start(context.Background()))

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("startup refresh did not run")
	}
	require.Eventually(t, func() bool { return svc.Store().Len() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))

	status := svc.Status()
	require.Len(t, status, 1)
	assert.Equal(t, RefreshTaskID, status[0].ID)
	assert.Empty(t, status[0].LastError)
}
