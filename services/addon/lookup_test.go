package addon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david325345/animetoday-docker/models"
)

func TestTokenIsStablePerInfoHash(t *testing.T) {
	a := "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567&dn=one&tr=udp://a"
	b := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=two"
	other := "magnet:?xt=urn:btih:1123456789abcdef0123456789abcdef01234567"

	require.Len(t, Token(a), 16)
	assert.Equal(t, Token(a), Token(b), "trackers and names do not change the token")
	assert.NotEqual(t, Token(a), Token(other))
}

func TestMagnetLookupPrune(t *testing.T) {
	now := time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)
	lookup := NewMagnetLookup().WithClock(func() time.Time { return now })

	old := lookup.Put("magnet:?xt=urn:btih:0000000000000000000000000000000000000001")
	now = now.Add(20 * time.Hour)
	fresh := lookup.Put("magnet:?xt=urn:btih:0000000000000000000000000000000000000002")
	now = now.Add(5 * time.Hour)

	assert.Equal(t, 1, lookup.Prune(24*time.Hour))
	_, ok := lookup.Get(old)
	assert.False(t, ok)
	_, ok = lookup.Get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 1, lookup.Len())
}

func TestStreamTitleFormatting(t *testing.T) {
	c := models.TorrentCandidate{
		Name:      "[SubsPlease] Sousou no Frieren - 05 (1080p) [F00DCAFE].mkv",
		Seeders:   321,
		SizeBytes: 1_450_000_000,
	}
	title := streamTitle("🧲", c, "")
	assert.Contains(t, title, "🧲 [SubsPlease] Sousou no Frieren - 05 (1080p) [F00DCAFE].mkv\n👥 321 seeders | 📦 1.4 GiB")
	assert.Contains(t, title, "1080p")

	c.SizeBytes = 0
	assert.Contains(t, streamTitle("🎬", c, "note"), "📦 ?")
}
