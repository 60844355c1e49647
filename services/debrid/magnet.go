package debrid

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var btihPattern = regexp.MustCompile(`(?i)xt=urn:btih:([a-f0-9]{40}|[a-z2-7]{32})`)

// InfoHash extracts the lowercase hex info hash from a magnet URI.
// Base32 hashes are converted to hex so both encodings share one identity.
// It returns "" when the URI carries no BitTorrent info hash.
func InfoHash(magnet string) string {
	trimmed := strings.TrimSpace(magnet)
	if trimmed == "" {
		return ""
	}

	if m, err := metainfo.ParseMagnetURI(trimmed); err == nil && m.InfoHash != (metainfo.Hash{}) {
		return strings.ToLower(m.InfoHash.HexString())
	}

	match := btihPattern.FindStringSubmatch(trimmed)
	if len(match) < 2 {
		return ""
	}
	return normalizeHash(match[1])
}

func normalizeHash(raw string) string {
	if len(raw) == 40 {
		return strings.ToLower(raw)
	}
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(raw))
	if err != nil {
		return ""
	}
	return hex.EncodeToString(decoded)
}

// MagnetIdentity is the cache and dedup key for a magnet: its info hash when present,
// otherwise the trimmed URI itself.
func MagnetIdentity(magnet string) string {
	if hash := InfoHash(magnet); hash != "" {
		return hash
	}
	return strings.TrimSpace(magnet)
}

// BuildMagnet creates a minimal magnet link from an info hash and display name.
func BuildMagnet(infoHash, name string, trackers ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "magnet:?xt=urn:btih:%s", strings.ToLower(strings.TrimSpace(infoHash)))
	if name != "" {
		b.WriteString("&dn=" + url.QueryEscape(name))
	}
	for _, tr := range trackers {
		b.WriteString("&tr=" + url.QueryEscape(tr))
	}
	return b.String()
}
