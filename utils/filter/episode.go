package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/david325345/animetoday-docker/models"
)

// episodeMarker is what may sit directly in front of an episode number:
// a separator (captured), an E/EP/Episode marker, or an SxxEyy season prefix.
const episodeMarker = `(?:([-_\s])|[^a-z0-9]e(?:p(?:isode)?)?[\s._]*|s\d{1,4}[\s._]*e(?:p(?:isode)?)?[\s._]*)`

// Words that introduce a season-like number rather than an episode.
var seasonWords = []string{"season", "part", "vol", "volume", "cour"}

var (
	// Units that turn a number into a technical tag: "10bit", "10-bit", "2ch", "1080p".
	technicalSuffix = regexp.MustCompile(`^(?:[\s_-]?bits?|ch|p|fps|k?hz)(?:[^a-z]|$)`)
	// "AAC 2.0", "DDP 5.1". Only checked after a bare separator, "S01E05.1080p" stays valid.
	decimalSuffix = regexp.MustCompile(`^[.,]\d`)
)

var patternCache sync.Map // int -> *regexp.Regexp

func episodePattern(episode int) *regexp.Regexp {
	if re, ok := patternCache.Load(episode); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(fmt.Sprintf(`%s(0*%d)(?:\D|$)`, episodeMarker, episode))
	patternCache.Store(episode, re)
	return re
}

// MatchesEpisode reports whether a release name refers to the given episode number.
// "05", "E05", "S01E05", "Ep 5" and "5v2" match episode 5; "15", "50" and "Season 5" do not.
func MatchesEpisode(name string, episode int) bool {
	if episode < 0 || strings.TrimSpace(name) == "" {
		return false
	}
	re := episodePattern(episode)
	// The leading space lets a marker at the very start of the name match.
	padded := " " + strings.ToLower(name)

	for offset := 0; offset < len(padded); {
		loc := re.FindStringSubmatchIndex(padded[offset:])
		if loc == nil {
			return false
		}
		numberStart, numberEnd := offset+loc[4], offset+loc[5]
		rest := padded[numberEnd:]
		bareSeparator := loc[2] >= 0
		if !followsSeasonWord(padded[:numberStart]) && !technicalTag(rest, bareSeparator) {
			return true
		}
		offset += loc[0] + 1
	}
	return false
}

func technicalTag(rest string, bareSeparator bool) bool {
	if technicalSuffix.MatchString(rest) {
		return true
	}
	return bareSeparator && decimalSuffix.MatchString(rest)
}

// followsSeasonWord checks whether the text right before a number ends in a season word,
// ignoring spaces, dots and underscores but not hyphens ("2nd Season - 05" is episode 5).
func followsSeasonWord(prefix string) bool {
	trimmed := strings.TrimRight(prefix, " \t._")
	for _, word := range seasonWords {
		if !strings.HasSuffix(trimmed, word) {
			continue
		}
		before := trimmed[:len(trimmed)-len(word)]
		if before == "" {
			return true
		}
		last := before[len(before)-1]
		if (last < 'a' || last > 'z') && (last < '0' || last > '9') {
			return true
		}
	}
	return false
}

// FilterEpisode keeps the candidates whose name matches episode, preserving order.
func FilterEpisode(candidates []models.TorrentCandidate, episode int) []models.TorrentCandidate {
	matched := make([]models.TorrentCandidate, 0, len(candidates))
	for _, c := range candidates {
		if MatchesEpisode(c.Name, episode) {
			matched = append(matched, c)
		}
	}
	return matched
}
