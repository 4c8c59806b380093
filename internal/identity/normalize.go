// Package identity derives canonical fingerprints and similarity scores from track metadata.
//
// Everything here is pure: the same metadata yields the same fingerprint on every platform
// and in every process, and nothing consults platform-native IDs.
package identity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	featRe      = regexp.MustCompile(`\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring|with)\s+[^\)\]]*[\)\]]`)
	featTailRe  = regexp.MustCompile(`\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	groupRe     = regexp.MustCompile(`\s*[\(\[\{]([^\)\]\}]*)[\)\]\}]`)
	dashTailRe  = regexp.MustCompile(`\s+-\s+(.*)$`)
	punctRe     = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
	versionWord = regexp.MustCompile(`(?i)\b(?:remaster(?:ed)?|live|edit|mix|remix|version|mono|stereo|deluxe|acoustic|instrumental|demo|explicit|clean|single|bonus|anniversary|edition|take)\b`)

	ligatures = strings.NewReplacer("ø", "o", "Ø", "o", "æ", "ae", "Æ", "ae", "œ", "oe", "Œ", "oe", "đ", "d", "ł", "l", "Ł", "l", "&", " and ")

	artistSeparators = []string{",", ";", " x ", " feat. ", " feat ", " ft. ", " ft ", " featuring ", " with ", " vs. ", " vs "}
)

// fold case-folds s and strips diacritics so "Tiësto" and "TIESTO" compare equal.
func fold(s string) string {
	s = ligatures.Replace(s)
	s = norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return cases.Fold().String(b.String())
}

func clean(s string) string {
	s = punctRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// NormalizeTitle case-folds title, removes featuring annotations and punctuation, and collapses whitespace.
//
// Version annotations such as "(Remastered 2011)" are kept; see [CoreTitle].
func NormalizeTitle(title string) string {
	s := fold(title)
	s = featRe.ReplaceAllString(s, " ")
	s = featTailRe.ReplaceAllString(s, "")
	return clean(s)
}

// CoreTitle is [NormalizeTitle] with version annotations removed, so a remaster, a live take
// and the studio original share one core title.
func CoreTitle(title string) string {
	s := fold(title)
	s = featRe.ReplaceAllString(s, " ")
	s = featTailRe.ReplaceAllString(s, "")
	s = groupRe.ReplaceAllStringFunc(s, func(group string) string {
		if versionWord.MatchString(group) {
			return " "
		}
		return group
	})
	if m := dashTailRe.FindStringSubmatch(s); m != nil && versionWord.MatchString(m[1]) {
		s = s[:len(s)-len(m[0])]
	}
	core := clean(s)
	if core == "" {
		return NormalizeTitle(title)
	}
	return core
}

// PrimaryArtist returns the normalized first credited artist.
func PrimaryArtist(artist string) string {
	s := fold(artist)
	cut := len(s)
	for _, sep := range artistSeparators {
		if idx := strings.Index(s, sep); idx > 0 && idx < cut {
			cut = idx
		}
	}
	return clean(s[:cut])
}
