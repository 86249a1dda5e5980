package processor

import (
	"regexp"
	"strings"
)

// correction is a literal search/replace applied to recognized text
type correction struct {
	from string
	to   string
}

// corrections are applied in order, once each. Entries shorter than two
// bytes are never applied, so lone digits and '|' pass through untouched.
var corrections = []correction{
	{"0", "O"},
	{"1", "I"},
	{"5", "S"},
	{"8", "B"},
	{"rn", "m"},
	{"cl", "d"},
	{"vv", "w"},
	{"|", "I"},
	{"  ", " "},
	{"   ", " "},
}

var whitespaceRun = regexp.MustCompile(`[\s\v\p{Z}\x{FEFF}]+`)

// Normalize cleans raw engine output: misread-glyph corrections, whitespace
// collapsing, trimming, then removal of everything outside printable ASCII.
func Normalize(text string) string {
	for _, c := range corrections {
		if len(c.from) < 2 {
			continue
		}
		text = strings.ReplaceAll(text, c.from, c.to)
	}

	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return stripNonPrintable(text)
}

// stripNonPrintable keeps bytes in 0x20..0x7E
func stripNonPrintable(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if c := text[i]; c >= 0x20 && c <= 0x7E {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func trimText(text string) string {
	return strings.TrimSpace(text)
}
