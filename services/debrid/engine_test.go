package debrid

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/models"
)

const testMagnet = "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Show+-+05"

type instantTimer struct{ waits atomic.Int32 }

func (t *instantTimer) After(time.Duration) <-chan time.Time {
	t.waits.Add(1)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// fakeProvider replays a scripted sequence of job states. script receives the 1-based
// number of the GetTorrentInfo call.
type fakeProvider struct {
	mu sync.Mutex

	script   func(call int) TorrentInfo
	existing *TorrentInfo
	addErr   error
	addGate  chan struct{}
	infoWait bool

	addCalls    int
	infoCalls   int
	deleteCalls int
	selected    []string
}

var _ Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResult, error) {
	f.mu.Lock()
	f.addCalls++
	gate := f.addGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &AddMagnetResult{ID: "job-1"}, nil
}

func (f *fakeProvider) FindTorrentByHash(ctx context.Context, infoHash string) (*TorrentInfo, error) {
	if f.existing != nil {
		info := *f.existing
		return &info, nil
	}
	return nil, ErrTorrentNotFound
}

func (f *fakeProvider) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	if f.infoWait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	f.infoCalls++
	call := f.infoCalls
	f.mu.Unlock()
	info := f.script(call)
	info.ID = torrentID
	return &info, nil
}

func (f *fakeProvider) SelectFiles(ctx context.Context, torrentID string, fileIDs string) error {
	f.mu.Lock()
	f.selected = append(f.selected, fileIDs)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) UnrestrictLink(ctx context.Context, link string) (*UnrestrictResult, error) {
	return &UnrestrictResult{DownloadURL: "https://cdn.example/" + link}, nil
}

func (f *fakeProvider) DeleteTorrent(ctx context.Context, torrentID string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.mu.Unlock()
	return nil
}

var episodeFiles = []File{
	{ID: 1, Path: "/Show/sample.mkv", Bytes: 10 << 20},
	{ID: 2, Path: "/Show/Show - 05.mkv", Bytes: 1400 << 20},
	{ID: 3, Path: "/Show/Show - 05.nfo", Bytes: 1 << 10},
}

func waitingThen(statuses ...string) func(int) TorrentInfo {
	return func(call int) TorrentInfo {
		if call == 1 {
			return TorrentInfo{Status: "waiting_files_selection", Files: episodeFiles}
		}
		idx := call - 2
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		status := statuses[idx]
		info := TorrentInfo{Status: status, Files: episodeFiles, Progress: 12}
		if status == "downloaded" {
			info.Links = []string{"link-a"}
			info.Progress = 100
		}
		return info
	}
}

func testPolicy(timer *instantTimer) ResolvePolicy {
	p := DefaultPolicy()
	p.Poll.Timer = timer
	return p
}

func TestResolveReadyWhenLinksAlreadyPresent(t *testing.T) {
	provider := &fakeProvider{script: func(int) TorrentInfo {
		return TorrentInfo{Status: "downloaded", Links: []string{"link-a"}, Files: episodeFiles}
	}}
	timer := &instantTimer{}
	engine := NewEngine(provider, NewMemoryCache(time.Hour), testPolicy(timer))

	out := engine.Resolve(context.Background(), testMagnet)

	require.Equal(t, models.OutcomeReady, out.Status)
	assert.Equal(t, "https://cdn.example/link-a", out.URL)
	assert.Equal(t, models.StateUnrestricted, out.State)
	assert.Empty(t, provider.selected, "ready jobs must not go through file selection")
	assert.Equal(t, 1, provider.infoCalls)
	assert.Zero(t, timer.waits.Load(), "ready jobs must not poll")

	again := engine.Resolve(context.Background(), testMagnet)
	assert.Equal(t, out.URL, again.URL)
	assert.Equal(t, 1, provider.addCalls, "second resolve should be served from cache")
}

func TestResolveSelectsLargestVideoThenPolls(t *testing.T) {
	provider := &fakeProvider{script: waitingThen("downloading", "downloaded")}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	require.True(t, out.IsReady(), "outcome: %+v", out)
	assert.Equal(t, []string{"2"}, provider.selected)
	assert.Equal(t, 3, provider.infoCalls)
	assert.Zero(t, provider.deleteCalls)
}

func TestResolveAbortsUncachedTorrentByFourthPoll(t *testing.T) {
	provider := &fakeProvider{script: waitingThen("downloading")}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeDownloading, out.Status)
	assert.Equal(t, models.StateNotCached, out.State)
	assert.Equal(t, 5, provider.infoCalls, "initial listing plus four polls")
	assert.Equal(t, 1, provider.deleteCalls)
	assert.Zero(t, engine.Cache().Len())
}

func TestResolveEarlyExitCanReportFailure(t *testing.T) {
	provider := &fakeProvider{script: waitingThen("queued")}
	policy := testPolicy(&instantTimer{})
	policy.EarlyExitOutcome = models.OutcomeFailed
	policy.DeleteOnAbort = false
	engine := NewEngine(provider, nil, policy)

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, models.StateNotCached, out.State)
	assert.Zero(t, provider.deleteCalls)
}

func TestResolveFailsOnDeadStatus(t *testing.T) {
	provider := &fakeProvider{script: waitingThen("downloading", "dead")}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, models.StateRemoteError, out.State)
	assert.Contains(t, out.Reason, "dead")
	assert.Equal(t, 3, provider.infoCalls)
	assert.Zero(t, provider.deleteCalls, "failed jobs stay visible on the provider")
}

func TestResolveFailsOnDeadStatusAtFirstListing(t *testing.T) {
	provider := &fakeProvider{script: func(int) TorrentInfo {
		return TorrentInfo{Status: "magnet_error", Files: episodeFiles}
	}}
	timer := &instantTimer{}
	engine := NewEngine(provider, nil, testPolicy(timer))

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, models.StateRemoteError, out.State)
	assert.Contains(t, out.Reason, "magnet_error")
	assert.Empty(t, provider.selected)
	assert.Zero(t, timer.waits.Load())
}

func TestResolveExhaustsPollsWithoutEarlyExit(t *testing.T) {
	provider := &fakeProvider{script: waitingThen("downloading")}
	policy := testPolicy(&instantTimer{})
	policy.EarlyExitOnFetching = false
	policy.Poll.MaxAttempts = 5
	engine := NewEngine(provider, nil, policy)

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeDownloading, out.Status)
	assert.Equal(t, models.StateTimeout, out.State)
	assert.InDelta(t, 12, out.Progress, 0.001)
	assert.Equal(t, 6, provider.infoCalls)
	assert.Zero(t, provider.deleteCalls)
}

func TestResolveAddFailure(t *testing.T) {
	provider := &fakeProvider{addErr: errors.New("infringing file")}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Contains(t, out.Reason, "infringing file")
}

func TestResolveWithoutProvider(t *testing.T) {
	engine := NewEngine(nil, nil, DefaultPolicy())

	out := engine.Resolve(context.Background(), testMagnet)

	assert.False(t, engine.Configured())
	assert.Equal(t, models.OutcomeFailed, out.Status)
}

func TestResolveReusesExistingJob(t *testing.T) {
	provider := &fakeProvider{existing: &TorrentInfo{
		ID:     "existing",
		Status: "downloaded",
		Files:  []File{{ID: 2, Path: "Show - 05.mkv", Bytes: 100, Selected: 1}},
		Links:  []string{"link-b"},
	}}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	out := engine.Resolve(context.Background(), testMagnet)

	require.True(t, out.IsReady())
	assert.Equal(t, "https://cdn.example/link-b", out.URL)
	assert.Zero(t, provider.addCalls)
}

func TestResolveRespectsBudget(t *testing.T) {
	provider := &fakeProvider{infoWait: true}
	policy := DefaultPolicy()
	policy.Poll = PollPolicy{Interval: 5 * time.Millisecond, MaxAttempts: 15}
	policy.Budget = 50 * time.Millisecond
	engine := NewEngine(provider, nil, policy)

	start := time.Now()
	out := engine.Resolve(context.Background(), testMagnet)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.OutcomeDownloading, out.Status)
	assert.Equal(t, models.StateTimeout, out.State)
}

func TestResolveSharesConcurrentAttempts(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{
		addGate: gate,
		script: func(int) TorrentInfo {
			return TorrentInfo{Status: "downloaded", Links: []string{"link-a"}}
		},
	}
	engine := NewEngine(provider, nil, testPolicy(&instantTimer{}))

	var wg sync.WaitGroup
	results := make([]models.Outcome, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Resolve(context.Background(), testMagnet)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, provider.addCalls)
	for _, r := range results {
		assert.True(t, r.IsReady())
	}
}

func TestPolicyFromSettings(t *testing.T) {
	off := false
	s := config.DefaultSettings().Debrid.Resolve
	s.EarlyExitOnFetching = &off
	s.EarlyExitOutcome = "FAILED"

	standard, eager := PolicyFromSettings(s)

	assert.Equal(t, 2*time.Second, standard.Poll.Interval)
	assert.Equal(t, 15, standard.Poll.MaxAttempts)
	assert.False(t, standard.EarlyExitOnFetching)
	assert.Equal(t, models.OutcomeFailed, standard.EarlyExitOutcome)
	assert.Equal(t, 32*time.Second, standard.Budget)

	assert.Equal(t, time.Second, eager.Poll.Interval)
	assert.Equal(t, 5, eager.Poll.MaxAttempts)
	assert.Less(t, eager.Budget, standard.Budget)
}
