package enrich

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// minDetectChars is the least text worth running detection on.
const minDetectChars = 20

// detectSampleRunes caps how much text the detector looks at.
const detectSampleRunes = 500

var isoCodePattern = regexp.MustCompile(`^[a-z]{2,3}$`)

// DetectLanguage returns an ISO 639-1 code for the text.
//
// A stored language that already looks like an ISO code is trusted and
// canonicalized (three-letter codes collapse to their two-letter base).
// Otherwise the first 500 runes are classified by script, with a stopword
// profile disambiguating Latin-script languages. Returns "und" when the
// text is too short or nothing matches confidently.
func DetectLanguage(text, existing string) string {
	if isoCodePattern.MatchString(existing) {
		if tag, err := language.Parse(existing); err == nil {
			if base, conf := tag.Base(); conf != language.No {
				return base.String()
			}
		}
		return existing
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minDetectChars {
		return "und"
	}

	sample := []rune(strings.ReplaceAll(trimmed, "\n", " "))
	if len(sample) > detectSampleRunes {
		sample = sample[:detectSampleRunes]
	}

	return classifySample(sample)
}

func classifySample(sample []rune) string {
	var letters, kana, hangul, han, arabic, cyrillic, devanagari, greek, hebrew, thai int

	for _, r := range sample {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++

		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Devanagari, r):
			devanagari++
		case unicode.Is(unicode.Greek, r):
			greek++
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Thai, r):
			thai++
		}
	}

	if letters == 0 {
		return "und"
	}

	frac := func(count int) float64 { return float64(count) / float64(letters) }

	// Kana gets a low bar: Japanese prose is mostly Han with kana mixed in.
	switch {
	case frac(kana) > 0.05:
		return "ja"
	case frac(hangul) > 0.3:
		return "ko"
	case frac(han) > 0.3:
		return "zh"
	case frac(arabic) > 0.3:
		return "ar"
	case frac(cyrillic) > 0.3:
		return "ru"
	case frac(devanagari) > 0.3:
		return "hi"
	case frac(greek) > 0.3:
		return "el"
	case frac(hebrew) > 0.3:
		return "he"
	case frac(thai) > 0.3:
		return "th"
	}

	return classifyLatin(string(sample))
}

// latinProfiles hold distinctive function words per language. Order matters
// for deterministic tie-breaking.
var latinProfiles = []struct {
	code  string
	words map[string]bool
}{
	{"en", wordSet("the", "and", "of", "to", "in", "that", "is", "was", "for", "with", "on", "said")},
	{"es", wordSet("el", "la", "los", "las", "de", "que", "en", "por", "una", "con", "para", "del")},
	{"fr", wordSet("le", "la", "les", "des", "est", "dans", "pour", "une", "qui", "avec", "sur", "pas")},
	{"de", wordSet("der", "die", "das", "und", "ist", "nicht", "von", "mit", "den", "ein", "eine", "für")},
	{"pt", wordSet("o", "os", "as", "de", "que", "em", "um", "uma", "para", "não", "com", "dos")},
	{"it", wordSet("il", "la", "che", "di", "non", "per", "una", "sono", "con", "del", "della", "gli")},
	{"nl", wordSet("de", "het", "een", "van", "en", "dat", "niet", "met", "voor", "zijn", "aan", "bij")},
}

// latinMinFraction is the stopword hit rate needed to call a Latin-script
// language.
const latinMinFraction = 0.12

func classifyLatin(sample string) string {
	words := strings.Fields(strings.ToLower(sample))
	if len(words) == 0 {
		return "und"
	}

	best := "und"
	bestHits := 0

	for _, profile := range latinProfiles {
		hits := 0
		for _, word := range words {
			word = strings.Trim(word, ".,;:!?\"'()")
			if profile.words[word] {
				hits++
			}
		}
		if hits > bestHits {
			best = profile.code
			bestHits = hits
		}
	}

	if float64(bestHits)/float64(len(words)) < latinMinFraction {
		return "und"
	}

	return best
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
