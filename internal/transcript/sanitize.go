// Package transcript cleans recognised text before it reaches the intent
// router. Matching against known phrases lives in the phonetic subpackage.
package transcript

import (
	"strings"
	"unicode"
)

// MaxInputLength is the number of runes kept from a transcript.
const MaxInputLength = 500

// Sanitize truncates text to [MaxInputLength] runes, strips control
// characters and collapses whitespace. An empty result means the input
// carried no usable command.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	if r := []rune(text); len(r) > MaxInputLength {
		text = string(r[:MaxInputLength])
	}
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			return -1
		default:
			return r
		}
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
