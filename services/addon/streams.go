package addon

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/moistari/rls"

	"github.com/david325345/animetoday-docker/models"
)

const magnetStreamName = "Nyaa (Magnet)"

func sizeLabel(c models.TorrentCandidate) string {
	if s := strings.TrimSpace(c.Size); s != "" {
		return s
	}
	if c.SizeBytes > 0 {
		return humanize.IBytes(uint64(c.SizeBytes))
	}
	return "?"
}

// releaseTag summarises group, resolution and codec parsed from a release name.
func releaseTag(name string) string {
	r := rls.ParseString(name)
	var parts []string
	if r.Group != "" {
		parts = append(parts, r.Group)
	}
	if r.Resolution != "" {
		parts = append(parts, r.Resolution)
	}
	parts = append(parts, r.Codec...)
	return strings.Join(parts, " · ")
}

func streamTitle(icon string, c models.TorrentCandidate, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n👥 %d seeders | 📦 %s", icon, c.Name, c.Seeders, sizeLabel(c))
	if tag := releaseTag(c.Name); tag != "" {
		fmt.Fprintf(&b, "\n🏷 %s", tag)
	}
	if note != "" {
		b.WriteString("\n" + note)
	}
	return b.String()
}

func notYetStream(episode int, url string) models.Stream {
	return models.Stream{
		Name:          "⏳ Not yet available",
		Title:         fmt.Sprintf("Episode %d has not been uploaded to Nyaa.si yet\n\nTry again shortly", episode),
		URL:           url,
		BehaviorHints: &models.StreamBehaviorHints{NotWebReady: true},
	}
}

func debridStream(provider string, c models.TorrentCandidate, url, note string) models.Stream {
	return models.Stream{
		Name:  "⚡ " + provider,
		Title: streamTitle("🎬", c, note),
		URL:   url,
		BehaviorHints: &models.StreamBehaviorHints{
			BingeGroup: "animetoday-" + strings.ToLower(provider) + "-" + bingeKey(c.Name),
		},
	}
}

func magnetStream(c models.TorrentCandidate) models.Stream {
	return models.Stream{
		Name:          magnetStreamName,
		Title:         streamTitle("🧲", c, ""),
		URL:           c.Magnet,
		BehaviorHints: &models.StreamBehaviorHints{NotWebReady: true},
	}
}

// bingeKey groups consecutive episodes of the same release group and resolution.
func bingeKey(name string) string {
	r := rls.ParseString(name)
	key := strings.ToLower(strings.TrimSpace(r.Group + "-" + r.Resolution))
	if key == "-" {
		return "default"
	}
	return key
}
