package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// The field normalizers below are shared by every producer of a Record:
// the pattern engine, the AI reply mappers and the merger. Each returns
// its canonical form; validating normalizers also report whether the
// input was usable at all.

var (
	standardRe = regexp.MustCompile(`(?i)^\s*(ГОСТ|ОСТ|ТУ|GOST|OST|TU)\s*(\d(?:[\d.\-–—]*\d)?)\s*$`)
	fitRe      = regexp.MustCompile(`^([A-Za-z])(\d{1,3})/([A-Za-z])(\d{1,3})$`)
	spaceRe    = regexp.MustCompile(`\s+`)
	dashRe     = regexp.MustCompile(`[–—]`)
)

// NormalizeMaterial trims and collapses whitespace. Grade casing is
// preserved; duplicate folding happens case-insensitively downstream.
func NormalizeMaterial(v string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(v), " ")
}

// NormalizeStandard canonicalizes a standard designation into
// "<PREFIX> <number>" with an upper-case prefix (ГОСТ/ОСТ/ТУ or their
// Latin forms) and ASCII dashes in the number. Anything else is
// rejected.
func NormalizeStandard(v string) (string, bool) {
	m := standardRe.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	prefix := strings.ToUpper(m[1])
	number := dashRe.ReplaceAllString(m[2], "-")
	return prefix + " " + number, true
}

// NormalizeFit canonicalizes a tolerance fit into the
// <Letter><digits>/<letter><digits> grammar, fully upper-cased.
// Cyrillic lookalike letters (a frequent OCR artifact) are folded to
// Latin before matching.
func NormalizeFit(v string) (string, bool) {
	v = foldFitLookalikes(strings.ReplaceAll(spaceRe.ReplaceAllString(strings.TrimSpace(v), ""), "\\", "/"))
	m := fitRe.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]) + m[2] + "/" + strings.ToUpper(m[3]) + m[4], true
}

// NormalizeHeatTreatment trims and collapses whitespace; entries
// shorter than three characters carry no information and are rejected.
func NormalizeHeatTreatment(v string) (string, bool) {
	v = spaceRe.ReplaceAllString(strings.TrimSpace(v), " ")
	if utf8.RuneCountInString(v) < 3 {
		return "", false
	}
	return v, true
}

// ParseRoughness parses a matched roughness number. Comma decimal
// separators are accepted. Non-positive and unparsable values are
// rejected, never surfaced as errors.
func ParseRoughness(v string) (float64, bool) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

var fitLookalikes = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
	'а': 'a', 'в': 'b', 'е': 'e', 'к': 'k', 'м': 'm', 'н': 'h',
	'о': 'o', 'р': 'p', 'с': 'c', 'т': 't', 'у': 'y', 'х': 'x',
}

func foldFitLookalikes(v string) string {
	return strings.Map(func(r rune) rune {
		if latin, ok := fitLookalikes[r]; ok {
			return latin
		}
		return r
	}, v)
}
