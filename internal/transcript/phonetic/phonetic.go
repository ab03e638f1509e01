// Package phonetic implements fuzzy phrase matching for Russian speech
// transcripts using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity for ranked candidate selection.
//
// Double Metaphone only understands Latin script, so every token is first
// transliterated from Cyrillic (see [Translit]). The algorithm then proceeds
// in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each candidate. If any code from the
//     input overlaps with any code from a candidate, the candidate becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the one with the
//     highest Jaro-Winkler similarity (computed on the transliterated
//     strings) is selected, provided its score exceeds the configurable
//     phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all candidates using a higher fuzzy
//     threshold (default 0.85).
//
// [Matcher.Match] resolves a spoken device name against configured devices.
// [Matcher.MatchPhrase] scans a transcript for wake and stop phrases.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched candidate to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic matcher. All methods are safe for concurrent use;
// the Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match attempts to find the entity from entities that is most phonetically
// similar to word.
//
// word may be a single word or a space-separated phrase. When word contains
// multiple tokens, the matcher checks whether any token phonetically aligns
// with any token in a multi-word entity, then ranks by Jaro-Winkler. A
// single spoken word therefore resolves to a multi-word entity that contains
// it ("свет" resolves to "свет в гостиной").
//
// When matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, entities []string) (corrected string, confidence float64, matched bool) {
	wordTokens := translitTokens(Normalize(word))
	if len(entities) == 0 || len(wordTokens) == 0 {
		return word, 0, false
	}
	inputCodes := codesForTokens(wordTokens)

	var best candidate
	for _, entity := range entities {
		entityTokens := translitTokens(Normalize(entity))
		if len(entityTokens) == 0 {
			continue
		}
		score := bestJWScore(wordTokens, entityTokens, true)
		best = m.consider(best, entity, score, codesOverlap(inputCodes, codesForTokens(entityTokens)))
	}

	if best.value != "" {
		return best.value, best.score, true
	}
	return word, 0, false
}

// MatchPhrase reports the phrase from phrases best found in text. A phrase
// that occurs verbatim in the normalised text scores 1.0. Otherwise every
// window of text with the phrase's word count is compared as a whole, so a
// single shared word never matches a multi-word phrase.
func (m *Matcher) MatchPhrase(text string, phrases []string) (phrase string, confidence float64, matched bool) {
	norm := Normalize(text)
	if norm == "" {
		return "", 0, false
	}
	textTokens := translitTokens(norm)

	var best candidate
	for _, p := range phrases {
		pn := Normalize(p)
		if pn == "" {
			continue
		}
		if strings.Contains(norm, pn) {
			return p, 1.0, true
		}

		phraseTokens := translitTokens(pn)
		phraseCodes := codesForTokens(phraseTokens)
		n := len(phraseTokens)
		for i := 0; i+n <= len(textTokens); i++ {
			window := textTokens[i : i+n]
			score := bestJWScore(window, phraseTokens, false)
			best = m.consider(best, p, score, codesOverlap(codesForTokens(window), phraseCodes))
		}
	}

	if best.value != "" {
		return best.value, best.score, true
	}
	return "", 0, false
}

type candidate struct {
	value    string
	score    float64
	phonetic bool
}

// consider returns the better of best and the new candidate. Phonetic
// candidates always outrank fuzzy-only ones.
func (m *Matcher) consider(best candidate, value string, score float64, phonetic bool) candidate {
	if phonetic {
		if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
			return candidate{value: value, score: score, phonetic: true}
		}
		return best
	}
	if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
		return candidate{value: value, score: score}
	}
	return best
}

// Normalize lower-cases s, folds ё into е, replaces every character that is
// not a letter or digit with a space and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == 'ё':
			return 'е'
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// Translit converts lower-case Cyrillic to Latin. Other characters pass
// through unchanged.
func Translit(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if l, ok := cyrillic[r]; ok {
			b.WriteString(l)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func translitTokens(norm string) []string {
	fields := strings.Fields(norm)
	out := fields[:0]
	for _, f := range fields {
		if t := Translit(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and a candidate using up to three strategies:
//
//  1. Full-string comparison ("привет асистент" vs "привет ассистент").
//  2. Space-stripped comparison, for words the recogniser split or joined.
//  3. With pairwise set, the best score between any input token and any
//     candidate token.
func bestJWScore(inputTokens, candTokens []string, pairwise bool) float64 {
	score := matchr.JaroWinkler(strings.Join(inputTokens, " "), strings.Join(candTokens, " "), false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}

	if pairwise {
		for _, it := range inputTokens {
			for _, ct := range candTokens {
				if s := matchr.JaroWinkler(it, ct, false); s > score {
					score = s
				}
			}
		}
	}
	return score
}
