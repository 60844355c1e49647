package debrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/david325345/animetoday-docker/config"
	"github.com/david325345/animetoday-docker/internal/mediaresolve"
	"github.com/david325345/animetoday-docker/internal/metrics"
	"github.com/david325345/animetoday-docker/models"
)

// ResolvePolicy controls how long and how patiently the engine waits on a remote job.
type ResolvePolicy struct {
	Poll PollPolicy
	// EarlyExitOnFetching aborts once the job keeps reporting active fetching
	// for more than FetchingGracePolls consecutive polls.
	EarlyExitOnFetching bool
	FetchingGracePolls  int
	// EarlyExitOutcome is OutcomeDownloading or OutcomeFailed.
	EarlyExitOutcome models.OutcomeStatus
	// DeleteOnAbort removes the remote job after an early exit.
	DeleteOnAbort bool
	// Budget bounds the whole attempt, remote calls included.
	Budget time.Duration
}

// DefaultPolicy polls every 2s up to 15 times and gives up on fetching jobs after 3 polls.
func DefaultPolicy() ResolvePolicy {
	return ResolvePolicy{
		Poll:                PollPolicy{Interval: 2 * time.Second, MaxAttempts: 15},
		EarlyExitOnFetching: true,
		FetchingGracePolls:  3,
		EarlyExitOutcome:    models.OutcomeDownloading,
		DeleteOnAbort:       true,
		Budget:              32 * time.Second,
	}
}

// EagerPolicy is the short variant used while a stream listing is being built.
func EagerPolicy() ResolvePolicy {
	p := DefaultPolicy()
	p.Poll = PollPolicy{Interval: time.Second, MaxAttempts: 5}
	p.FetchingGracePolls = 2
	p.Budget = 8 * time.Second
	return p
}

// PolicyFromSettings builds the default and eager policies from configuration.
func PolicyFromSettings(s config.ResolveSettings) (standard, eager ResolvePolicy) {
	outcome := models.OutcomeDownloading
	if strings.EqualFold(strings.TrimSpace(s.EarlyExitOutcome), string(models.OutcomeFailed)) {
		outcome = models.OutcomeFailed
	}
	standard = ResolvePolicy{
		Poll:                PollPolicy{Interval: s.PollInterval(), MaxAttempts: s.MaxPolls},
		EarlyExitOnFetching: s.EarlyExit(),
		FetchingGracePolls:  s.FetchingGracePolls,
		EarlyExitOutcome:    outcome,
		DeleteOnAbort:       s.DeleteAborted(),
		Budget:              s.Budget(),
	}.normalized()

	eager = EagerPolicy()
	eager.EarlyExitOnFetching = standard.EarlyExitOnFetching
	eager.EarlyExitOutcome = outcome
	eager.DeleteOnAbort = standard.DeleteOnAbort
	if s.EagerPollIntervalMs > 0 {
		eager.Poll.Interval = s.EagerPollInterval()
	}
	if s.EagerMaxPolls > 0 {
		eager.Poll.MaxAttempts = s.EagerMaxPolls
	}
	if eager.FetchingGracePolls >= eager.Poll.MaxAttempts {
		eager.FetchingGracePolls = eager.Poll.MaxAttempts - 1
	}
	eager.Budget = eager.Poll.MaxWait() + 3*time.Second
	return standard, eager
}

func (p ResolvePolicy) normalized() ResolvePolicy {
	d := DefaultPolicy()
	if p.Poll.Interval <= 0 {
		p.Poll.Interval = d.Poll.Interval
	}
	if p.Poll.MaxAttempts <= 0 {
		p.Poll.MaxAttempts = d.Poll.MaxAttempts
	}
	if p.FetchingGracePolls <= 0 {
		p.FetchingGracePolls = d.FetchingGracePolls
	}
	if p.EarlyExitOutcome != models.OutcomeFailed {
		p.EarlyExitOutcome = models.OutcomeDownloading
	}
	if p.Budget <= 0 {
		p.Budget = p.Poll.MaxWait() + 2*time.Second
	}
	return p
}

// Engine turns magnets into playable URLs through a debrid Provider.
// At most one attempt per magnet identity runs at a time; concurrent callers share it.
type Engine struct {
	provider Provider
	cache    ResolutionCache
	policy   ResolvePolicy
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine. provider may be nil, in which case every resolution fails fast.
func NewEngine(provider Provider, cache ResolutionCache, policy ResolvePolicy, opts ...EngineOption) *Engine {
	if cache == nil {
		cache = NewMemoryCache(DefaultResolutionTTL)
	}
	e := &Engine{
		provider: provider,
		cache:    cache,
		policy:   policy.normalized(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configured reports whether a provider is available.
func (e *Engine) Configured() bool {
	return e != nil && e.provider != nil
}

// Cache exposes the resolution cache so refreshes can invalidate it.
func (e *Engine) Cache() ResolutionCache {
	return e.cache
}

// Policy returns the engine's default policy.
func (e *Engine) Policy() ResolvePolicy {
	return e.policy
}

// Resolve runs the default policy for magnet.
func (e *Engine) Resolve(ctx context.Context, magnet string) models.Outcome {
	return e.ResolveWith(ctx, magnet, e.policy)
}

// ResolveWith runs a resolution attempt under policy. It never returns an error and always
// returns within the policy budget.
func (e *Engine) ResolveWith(ctx context.Context, magnet string, policy ResolvePolicy) models.Outcome {
	identity := MagnetIdentity(magnet)
	if identity == "" {
		return models.Failed("empty magnet")
	}
	if !e.Configured() {
		return models.Failed(ErrNotConfigured.Error())
	}

	if url, ok := e.cache.Get(identity); ok {
		log.Printf("[debrid-resolve] cache hit for %s", shortIdentity(identity))
		e.metrics.ResolutionCacheHit()
		return models.Ready(url)
	}

	policy = policy.normalized()
	ch := e.group.DoChan(identity, func() (any, error) {
		return e.run(ctx, identity, strings.TrimSpace(magnet), policy), nil
	})

	select {
	case res := <-ch:
		return res.Val.(models.Outcome)
	case <-ctx.Done():
		log.Printf("[debrid-resolve] caller gave up waiting for %s: %v", shortIdentity(identity), ctx.Err())
		return models.Downloading(0).WithState(models.StateTimeout)
	}
}

// attempt carries the mutable state of one resolution.
type attempt struct {
	id        string
	identity  string
	magnet    string
	provider  Provider
	policy    ResolvePolicy
	torrentID string
	state     models.AttemptState
	selected  bool
	progress  float64
	streak    int
}

func (a *attempt) transition(to models.AttemptState) {
	log.Printf("[debrid-resolve] %s %s: %s -> %s", a.id, shortIdentity(a.identity), a.state, to)
	a.state = to
}

var (
	errNotCached = errors.New("torrent is not cached")
	errNoFiles   = errors.New("torrent has no files")
)

type terminalStatusError struct{ status string }

func (e terminalStatusError) Error() string {
	return "remote status " + e.status
}

func (e *Engine) run(parent context.Context, identity, magnet string, policy ResolvePolicy) models.Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), policy.Budget)
	defer cancel()

	a := &attempt{
		id:       uuid.NewString()[:8],
		identity: identity,
		magnet:   magnet,
		provider: e.provider,
		policy:   policy,
	}

	outcome := e.drive(ctx, a)
	if outcome.IsReady() {
		e.cache.Put(identity, outcome.URL)
	}
	e.metrics.ObserveResolution(e.provider.Name(), outcome, time.Since(start))
	log.Printf("[debrid-resolve] %s finished: status=%s state=%s took=%s", a.id, outcome.Status, outcome.State, time.Since(start).Round(time.Millisecond))
	return outcome
}

func (e *Engine) drive(ctx context.Context, a *attempt) models.Outcome {
	info, err := e.submit(ctx, a)
	if err != nil {
		return e.remoteFailure(ctx, a, err)
	}

	a.transition(models.StateFilesListed)
	a.progress = info.Progress

	if Categorize(info.Status) == StatusFailed {
		a.transition(models.StateRemoteError)
		return models.Failed(terminalStatusError{info.Status}.Error())
	}

	if link := playableLink(info); link != "" {
		if url, ok := e.unrestrict(ctx, a, link); ok {
			return models.Ready(url)
		}
	}

	if err := e.selectFiles(ctx, a, info); err != nil {
		if errors.Is(err, errNoFiles) {
			return models.Failed(err.Error())
		}
		return e.remoteFailure(ctx, a, err)
	}

	var url string
	err = PollUntil(ctx, a.policy.Poll, func(ctx context.Context, n int) error {
		found, err := e.poll(ctx, a, n)
		if err == nil {
			url = found
		}
		return err
	})

	switch {
	case err == nil:
		return models.Ready(url)
	case errors.Is(err, errNotCached):
		a.transition(models.StateNotCached)
		if a.policy.DeleteOnAbort {
			e.deleteQuietly(ctx, a)
		}
		if a.policy.EarlyExitOutcome == models.OutcomeFailed {
			return models.Failed(errNotCached.Error()).WithState(models.StateNotCached)
		}
		return models.Downloading(a.progress)
	case errors.As(err, new(terminalStatusError)):
		a.transition(models.StateRemoteError)
		return models.Failed(err.Error())
	case errors.Is(err, ErrTorrentNotFound):
		a.transition(models.StateRemoteError)
		return models.Failed("torrent disappeared from provider")
	default:
		// Attempts exhausted or budget expired.
		a.transition(models.StateTimeout)
		return models.Downloading(a.progress).WithState(models.StateTimeout)
	}
}

// submit reuses a job for the same info hash when one exists, otherwise adds the magnet.
func (e *Engine) submit(ctx context.Context, a *attempt) (*TorrentInfo, error) {
	if hash := InfoHash(a.magnet); hash != "" {
		existing, err := a.provider.FindTorrentByHash(ctx, hash)
		switch {
		case err == nil && Categorize(existing.Status) != StatusFailed:
			log.Printf("[debrid-resolve] %s reusing %s job %s (status=%s)", a.id, a.provider.Name(), existing.ID, existing.Status)
			a.torrentID = existing.ID
			a.selected = Categorize(existing.Status) != StatusWaitingSelection && anySelected(existing.Files)
			a.transition(models.StateSubmitted)
			return existing, nil
		case err != nil && !errors.Is(err, ErrTorrentNotFound):
			log.Printf("[debrid-resolve] %s job lookup failed, adding magnet: %v", a.id, err)
		}
	}

	added, err := a.provider.AddMagnet(ctx, a.magnet)
	if err != nil {
		return nil, err
	}
	a.torrentID = added.ID
	a.transition(models.StateSubmitted)

	info, err := a.provider.GetTorrentInfo(ctx, added.ID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (e *Engine) selectFiles(ctx context.Context, a *attempt, info *TorrentInfo) error {
	if a.selected {
		return nil
	}
	if len(info.Files) == 0 {
		// Conversion still running; selection happens once files are listed.
		if c := Categorize(info.Status); c == StatusFetching || c == StatusWaitingSelection {
			return nil
		}
		return errNoFiles
	}

	candidates := make([]mediaresolve.Candidate, 0, len(info.Files))
	for _, f := range info.Files {
		candidates = append(candidates, mediaresolve.Candidate{ID: f.ID, Path: f.Path, Bytes: f.Bytes})
	}
	target, ok := mediaresolve.SelectPrimary(candidates)
	if !ok {
		return errNoFiles
	}
	if mediaresolve.IsArchive(target.Path) {
		log.Printf("[debrid-resolve] %s selected file %q is an archive", a.id, target.Label())
	}

	log.Printf("[debrid-resolve] %s selecting %q (%d MB)", a.id, target.Label(), target.Bytes/1024/1024)
	if err := a.provider.SelectFiles(ctx, a.torrentID, strconv.Itoa(target.ID)); err != nil {
		return err
	}
	a.selected = true
	a.transition(models.StateFilesSelected)
	return nil
}

// poll performs one status check. Transient remote errors count as no progress.
func (e *Engine) poll(ctx context.Context, a *attempt, n int) (string, error) {
	info, err := a.provider.GetTorrentInfo(ctx, a.torrentID)
	if err != nil {
		if errors.Is(err, ErrTorrentNotFound) {
			return "", StopPolling(err)
		}
		if ctx.Err() != nil {
			return "", StopPolling(ctx.Err())
		}
		log.Printf("[debrid-resolve] %s poll %d/%d failed: %v", a.id, n, a.policy.Poll.MaxAttempts, err)
		return "", ErrPollPending
	}

	category := Categorize(info.Status)
	a.progress = info.Progress
	log.Printf("[debrid-resolve] %s poll %d/%d status=%s progress=%.0f%%", a.id, n, a.policy.Poll.MaxAttempts, info.Status, info.Progress)

	if link := playableLink(info); link != "" {
		if url, ok := e.unrestrict(ctx, a, link); ok {
			return url, nil
		}
		return "", ErrPollPending
	}

	switch category {
	case StatusFailed:
		return "", StopPolling(terminalStatusError{info.Status})
	case StatusFetching:
		a.streak++
		if a.policy.EarlyExitOnFetching && a.streak > a.policy.FetchingGracePolls {
			log.Printf("[debrid-resolve] %s still fetching after %d polls, not cached", a.id, a.streak)
			return "", StopPolling(errNotCached)
		}
	case StatusWaitingSelection:
		a.streak = 0
		a.selected = false
		if err := e.selectFiles(ctx, a, info); err != nil {
			log.Printf("[debrid-resolve] %s late file selection failed: %v", a.id, err)
		}
	default:
		a.streak = 0
	}
	return "", ErrPollPending
}

func (e *Engine) unrestrict(ctx context.Context, a *attempt, link string) (string, bool) {
	a.transition(models.StateLinkReady)
	res, err := a.provider.UnrestrictLink(ctx, link)
	if err != nil || res == nil || res.DownloadURL == "" {
		log.Printf("[debrid-resolve] %s unrestrict failed: %v", a.id, err)
		return "", false
	}
	a.transition(models.StateUnrestricted)
	return res.DownloadURL, true
}

func (e *Engine) remoteFailure(ctx context.Context, a *attempt, err error) models.Outcome {
	if ctx.Err() != nil {
		a.transition(models.StateTimeout)
		return models.Downloading(a.progress).WithState(models.StateTimeout)
	}
	a.transition(models.StateRemoteError)
	log.Printf("[debrid-resolve] %s remote error: %v", a.id, err)
	return models.Failed(fmt.Sprintf("%s: %v", a.provider.Name(), err))
}

// deleteQuietly frees the remote slot; failures are only logged.
func (e *Engine) deleteQuietly(ctx context.Context, a *attempt) {
	if a.torrentID == "" {
		return
	}
	if err := a.provider.DeleteTorrent(context.WithoutCancel(ctx), a.torrentID); err != nil {
		log.Printf("[debrid-resolve] %s delete of %s ignored: %v", a.id, a.torrentID, err)
	}
}

// playableLink returns the link of the primary file. Links line up with the selected files
// in order; some providers (AllDebrid) hand out one per file, so a bare Links[0] may be an
// nfo or a sample.
func playableLink(info *TorrentInfo) string {
	if len(info.Links) == 0 {
		return ""
	}
	selected := make([]File, 0, len(info.Files))
	for _, f := range info.Files {
		if f.Selected == 1 {
			selected = append(selected, f)
		}
	}
	if len(info.Links) == 1 || len(selected) != len(info.Links) {
		return info.Links[0]
	}

	candidates := make([]mediaresolve.Candidate, 0, len(selected))
	for i, f := range selected {
		candidates = append(candidates, mediaresolve.Candidate{ID: i, Path: f.Path, Bytes: f.Bytes})
	}
	target, ok := mediaresolve.SelectPrimary(candidates)
	if !ok {
		return info.Links[0]
	}
	return info.Links[target.ID]
}

func anySelected(files []File) bool {
	for _, f := range files {
		if f.Selected == 1 {
			return true
		}
	}
	return false
}

func shortIdentity(identity string) string {
	if len(identity) > 12 {
		return identity[:12]
	}
	return identity
}
