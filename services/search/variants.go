package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

var (
	seasonMarker   = regexp.MustCompile(`(?i)season \d+`)
	partMarker     = regexp.MustCompile(`(?i)part \d+`)
	secondSeason   = regexp.MustCompile(`(?i)2nd season`)
	thirdSeason    = regexp.MustCompile(`(?i)3rd season`)
	parenthetical  = regexp.MustCompile(`\([^)]*\)`)
	nonAlnum       = regexp.MustCompile(`[^A-Za-z0-9_\s]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// replaceFirst removes only the first occurrence of re in s.
func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[1]:]
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

// CleanTitle strips one season/part marker of each kind, parenthetical text and colons.
func CleanTitle(title string) string {
	cleaned := replaceFirst(seasonMarker, title)
	cleaned = replaceFirst(partMarker, cleaned)
	cleaned = replaceFirst(secondSeason, cleaned)
	cleaned = replaceFirst(thirdSeason, cleaned)
	cleaned = parenthetical.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	return collapseSpaces(cleaned)
}

// AlphanumericTitle folds the title to ASCII and replaces everything else with spaces.
func AlphanumericTitle(title string) string {
	folded := unidecode.Unidecode(norm.NFKC.String(title))
	return collapseSpaces(nonAlnum.ReplaceAllString(folded, " "))
}

func beforeSeparator(title, sep string) string {
	head, _, _ := strings.Cut(title, sep)
	return strings.TrimSpace(head)
}

// BuildVariants returns the query strings tried for a title and episode, in query order.
// Every base form is paired with the bare episode number; the literal and cleaned forms are
// also paired with the two-digit zero-padded number.
func BuildVariants(title string, episode int) []string {
	literal := collapseSpaces(title)
	if literal == "" {
		return nil
	}
	cleaned := CleanTitle(literal)
	bases := []string{
		literal,
		cleaned,
		beforeSeparator(literal, ":"),
		beforeSeparator(literal, "-"),
		AlphanumericTitle(literal),
	}

	out := newVariantSet()
	for _, base := range bases {
		out.add(base, fmt.Sprintf("%d", episode))
	}
	padded := fmt.Sprintf("%02d", episode)
	out.add(literal, padded)
	out.add(cleaned, padded)
	return out.list
}

// BroadVariants is the reduced set used with the widened category.
func BroadVariants(title string, episode int) []string {
	literal := collapseSpaces(title)
	if literal == "" {
		return nil
	}
	cleaned := CleanTitle(literal)
	out := newVariantSet()
	out.add(literal, fmt.Sprintf("%d", episode))
	out.add(cleaned, fmt.Sprintf("%d", episode))
	padded := fmt.Sprintf("%02d", episode)
	out.add(literal, padded)
	out.add(cleaned, padded)
	return out.list
}

type variantSet struct {
	seen map[string]struct{}
	list []string
}

func newVariantSet() *variantSet {
	return &variantSet{seen: make(map[string]struct{})}
}

func (v *variantSet) add(base, episode string) {
	if base == "" {
		return
	}
	query := base + " " + episode
	key := strings.ToLower(query)
	if _, ok := v.seen[key]; ok {
		return
	}
	v.seen[key] = struct{}{}
	v.list = append(v.list, query)
}
