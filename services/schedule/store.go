package schedule

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/david325345/animetoday-docker/models"
)

// Snapshot is an immutable view of the schedule for one day window.
type Snapshot struct {
	WindowStart time.Time            `json:"windowStart"`
	WindowEnd   time.Time            `json:"windowEnd"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	Entries     []models.AiringEntry `json:"entries"`
}

// Store publishes snapshots to concurrent readers. Readers always see either the previous
// or the next complete set, never a partial one.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps in snap. Entries are sorted by airing time before publication.
func (s *Store) Replace(snap *Snapshot) {
	if snap == nil {
		return
	}
	entries := make([]models.AiringEntry, len(snap.Entries))
	copy(entries, snap.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].AiringAt < entries[j].AiringAt })

	published := *snap
	published.Entries = entries
	s.current.Store(&published)
}

// Snapshot returns the current snapshot, or an empty one before the first refresh.
func (s *Store) Snapshot() *Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return &Snapshot{}
}

// Entries returns the current entries ordered by airing time. Callers must not modify them.
func (s *Store) Entries() []models.AiringEntry {
	return s.Snapshot().Entries
}

func (s *Store) UpdatedAt() time.Time {
	return s.Snapshot().UpdatedAt
}

// Find looks an entry up by show and episode.
func (s *Store) Find(showID, episode int) (models.AiringEntry, bool) {
	for _, e := range s.Entries() {
		if e.ShowID == showID && e.Episode == episode {
			return e, true
		}
	}
	return models.AiringEntry{}, false
}

// Len reports the number of entries in the current snapshot.
func (s *Store) Len() int {
	return len(s.Entries())
}
