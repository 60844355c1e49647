package addon

import (
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/david325345/animetoday-docker/services/debrid"
)

// tokenLength is the number of hex characters kept from the digest.
const tokenLength = 16

// Token derives the short resolve identifier of a magnet. Magnets sharing an info hash share
// a token.
func Token(magnet string) string {
	sum := blake2b.Sum256([]byte(debrid.MagnetIdentity(magnet)))
	return hex.EncodeToString(sum[:])[:tokenLength]
}

type lookupEntry struct {
	magnet   string
	storedAt time.Time
}

// MagnetLookup maps resolve tokens handed out in stream listings back to their magnets.
type MagnetLookup struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]lookupEntry
}

func NewMagnetLookup() *MagnetLookup {
	return &MagnetLookup{now: time.Now, entries: make(map[string]lookupEntry)}
}

// WithClock swaps the time source (used by tests).
func (l *MagnetLookup) WithClock(now func() time.Time) *MagnetLookup {
	l.now = now
	return l
}

// Put records magnet and returns its token. Re-adding refreshes the timestamp.
func (l *MagnetLookup) Put(magnet string) string {
	token := Token(magnet)
	l.mu.Lock()
	l.entries[token] = lookupEntry{magnet: magnet, storedAt: l.now()}
	l.mu.Unlock()
	return token
}

func (l *MagnetLookup) Get(token string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[token]
	return entry.magnet, ok
}

// Prune drops tokens older than maxAge and returns how many were removed.
func (l *MagnetLookup) Prune(maxAge time.Duration) int {
	cutoff := l.now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for token, entry := range l.entries {
		if entry.storedAt.Before(cutoff) {
			delete(l.entries, token)
			removed++
		}
	}
	return removed
}

func (l *MagnetLookup) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
