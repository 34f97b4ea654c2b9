package dataset

import (
	"regexp"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatureReplacer = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
	// Tabs, Zeilenumbrüche und NBSP zählen ebenfalls als Leerraum
	whitespaceRE = regexp.MustCompile("[\\s\u00A0\u2009\u202F]+")
)

// normalizeUnicode führt NFC-Normalisierung durch und ersetzt gängige Ligaturen.
func normalizeUnicode(s string) string {
	s = ligatureReplacer.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// CleanText trimmt, normalisiert Unicode und fasst Leerraum zusammen.
// Ein leeres Ergebnis wird zu "".
func CleanText(s string) string {
	s = normalizeUnicode(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeKey ist CleanText in Kleinschreibung, für Alias- und Synonymvergleiche.
func NormalizeKey(s string) string {
	return strings.ToLower(CleanText(s))
}
