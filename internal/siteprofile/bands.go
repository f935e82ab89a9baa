package siteprofile

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Band groups utterance lengths for rate and pause adjustment.
type Band string

const (
	BandShort  Band = "short"
	BandMedium Band = "medium"
	BandLong   Band = "long"
)

// BandFor buckets text length in runes: short <10, medium <50, long
// otherwise.
func BandFor(text string) Band {
	switch n := utf8.RuneCountInString(text); {
	case n < 10:
		return BandShort
	case n < 50:
		return BandMedium
	default:
		return BandLong
	}
}

// RateDelta is subtracted from the base rate per band.
func (b Band) RateDelta() float64 {
	switch b {
	case BandMedium:
		return 0.1
	case BandLong:
		return 0.2
	default:
		return 0
	}
}

// PauseAfter is the post-utterance pause per band.
func (b Band) PauseAfter() time.Duration {
	switch b {
	case BandShort:
		return 500 * time.Millisecond
	case BandMedium:
		return 800 * time.Millisecond
	default:
		return 1200 * time.Millisecond
	}
}

// LanguageRateFactor adjusts the rate per language primary subtag:
// English may run up to 1.1x the base, Japanese 0.9x.
func LanguageRateFactor(lang string) float64 {
	switch primarySubtag(lang) {
	case "en":
		return 1.1
	case "ja":
		return 0.9
	default:
		return 1.0
	}
}

func primarySubtag(lang string) string {
	if i := strings.IndexByte(lang, '-'); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
