// Package normalize holds the text and identifier normalization
// primitives the matching pipeline is built on. Everything here is a
// pure function over strings.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize standardizes free text for matching by:
//  1. Stripping diacritics (Óscar -> Oscar, Muñoz -> Munoz)
//  2. Lower-casing
//  3. Mapping separator punctuation (.,-_/) to spaces
//  4. Dropping every other non-alphanumeric rune
//  5. Collapsing runs of whitespace into single spaces
//
// The result contains only lower-case letters, digits, and single
// spaces. Applying Normalize twice yields the same string.
func Normalize(text string) string {
	text = stripDiacritics(strings.TrimSpace(text))
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	prevSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '.' || r == ',' || r == '-' || r == '_' || r == '/':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func stripDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

var (
	parenRe = regexp.MustCompile(`\(([^)]*)\)`)
	// Residency number: X/Y/Z prefix, seven digits, checksum letter.
	nieRe = regexp.MustCompile(`(?i)\b[XYZ][-. ]?\d{7}[-. ]?[A-Z]\b`)
	// National identity number: eight digits, checksum letter.
	dniRe = regexp.MustCompile(`(?i)\b\d{8}[-. ]?[A-Z]\b`)
)

// ExtractIdentifier pulls a government identity number (DNI or NIE) out
// of free text. Parenthesized fragments are checked first, then an
// identifier sitting at the end of the string, then anywhere in the
// text. The match is returned upper-cased with separators removed, or
// "" when the text carries no identifier.
func ExtractIdentifier(text string) string {
	if text == "" {
		return ""
	}
	for _, m := range parenRe.FindAllStringSubmatch(text, -1) {
		if id := firstIdentifier(m[1]); id != "" {
			return id
		}
	}
	trimmed := strings.TrimRight(text, " \t.,;:)")
	for _, re := range []*regexp.Regexp{nieRe, dniRe} {
		locs := re.FindAllStringIndex(trimmed, -1)
		if len(locs) == 0 {
			continue
		}
		last := locs[len(locs)-1]
		if last[1] == len(trimmed) {
			return CanonicalIdentifier(trimmed[last[0]:last[1]])
		}
	}
	return firstIdentifier(text)
}

func firstIdentifier(text string) string {
	if m := nieRe.FindString(text); m != "" {
		return CanonicalIdentifier(m)
	}
	if m := dniRe.FindString(text); m != "" {
		return CanonicalIdentifier(m)
	}
	return ""
}

// CanonicalIdentifier upper-cases an identifier and strips internal
// separators. It returns "" when the cleaned value does not have the
// shape of a DNI or NIE, so registry values with stray formatting
// compare equal to extracted ones.
func CanonicalIdentifier(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(raw)))

	if nieCanonRe.MatchString(cleaned) || dniCanonRe.MatchString(cleaned) {
		return cleaned
	}
	return ""
}

var (
	nieCanonRe = regexp.MustCompile(`^[XYZ]\d{7}[A-Z]$`)
	dniCanonRe = regexp.MustCompile(`^\d{8}[A-Z]$`)
)

// checksumLetters is the official mod-23 table for DNI/NIE control letters.
const checksumLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// ValidIdentifier reports whether id is a DNI or NIE whose checksum
// letter is correct. Formatting separators are tolerated.
func ValidIdentifier(id string) bool {
	c := CanonicalIdentifier(id)
	if c == "" {
		return false
	}
	digits := c[:8]
	switch c[0] {
	case 'X':
		digits = "0" + c[1:8]
	case 'Y':
		digits = "1" + c[1:8]
	case 'Z':
		digits = "2" + c[1:8]
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	return checksumLetters[n%23] == c[8]
}
