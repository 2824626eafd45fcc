package extract

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds a string for containment checks: NFKC normalization,
// case folding, whitespace collapsed to single spaces.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// VerifyField reports whether a model-returned value actually appears in the
// source text. Values that fail this check are dropped, never persisted.
func VerifyField(value, sourceText string) bool {
	v := Normalize(value)
	if v == "" {
		return false
	}
	return strings.Contains(Normalize(sourceText), v)
}

var ordinalRe = regexp.MustCompile(`^(\d{1,2})(st|nd|rd|th)$`)

var gradeWords = map[string]string{
	"first": "1", "second": "2", "third": "3", "fourth": "4",
	"fifth": "5", "sixth": "6", "seventh": "7", "eighth": "8",
	"ninth": "9", "tenth": "10", "eleventh": "11", "twelfth": "12",
	"kindergarten": "K", "kinder": "K",
}

// ParseGrade canonicalizes a grade token. Accepted: integers 1..12,
// ordinals ("3rd"), spelled-out words, K / Kindergarten / Pre-K. Anything
// else is rejected so junk never lands in the record.
func ParseGrade(s string) (string, bool) {
	t := strings.TrimSpace(strings.ToLower(s))
	t = strings.TrimSuffix(t, " grade")
	t = strings.TrimSuffix(t, " grado")
	t = strings.TrimSpace(t)
	if t == "" {
		return "", false
	}
	switch t {
	case "k":
		return "K", true
	case "pre-k", "prek", "pre k":
		return "Pre-K", true
	}
	if v, ok := gradeWords[t]; ok {
		return v, true
	}
	if m := ordinalRe.FindStringSubmatch(t); m != nil {
		t = m[1]
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 1 || n > 12 {
		return "", false
	}
	return strconv.Itoa(n), true
}

// VerifyGrade checks a canonical grade against the source text, accepting
// ordinal and spelled-out equivalents of the same grade.
func VerifyGrade(grade, sourceText string) bool {
	folded := Normalize(sourceText)
	for _, cand := range gradeEquivalents(grade) {
		if strings.Contains(folded, cand) {
			return true
		}
	}
	return false
}

func gradeEquivalents(grade string) []string {
	g := strings.ToLower(grade)
	out := []string{g}
	if g == "k" {
		return append(out, "kindergarten", "kinder")
	}
	if g == "pre-k" {
		return append(out, "prek", "pre k")
	}
	n, err := strconv.Atoi(g)
	if err != nil {
		return out
	}
	switch n % 10 {
	case 1:
		out = append(out, g+"st")
	case 2:
		out = append(out, g+"nd")
	case 3:
		out = append(out, g+"rd")
	default:
		out = append(out, g+"th")
	}
	if n >= 11 && n <= 13 {
		out[len(out)-1] = g + "th"
	}
	for word, v := range gradeWords {
		if v == grade {
			out = append(out, word)
		}
	}
	return out
}

var institutionKeywords = []string{"elementary", "middle", "high", "school", "academy"}

var schoolLabelRe = regexp.MustCompile(`(?i)\b(school|escuela)\b`)
var gradeLabelRe = regexp.MustCompile(`(?i)\b(grade|grado)\b`)

var capitalizedPhraseRe = regexp.MustCompile(`([A-Z][\w'.-]*(?:\s+[A-Z][\w'.-]*)+)`)

// SchoolFallback scans a five-line window around the school label for a
// capitalized multi-word phrase naming an institution. Used only when the
// model returned nothing for school_name.
func SchoolFallback(contactBlock string) string {
	lines := strings.Split(contactBlock, "\n")
	for i, line := range lines {
		if !schoolLabelRe.MatchString(line) {
			continue
		}
		lo, hi := i-5, i+5
		if lo < 0 {
			lo = 0
		}
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			for _, phrase := range capitalizedPhraseRe.FindAllString(lines[j], -1) {
				folded := strings.ToLower(phrase)
				for _, kw := range institutionKeywords {
					if strings.Contains(folded, kw) {
						return strings.TrimSpace(phrase)
					}
				}
			}
		}
	}
	return ""
}

// GradeFallback looks for a standalone grade in the ten lines after the
// grade label. A window dominated by blank lines means the field was left
// empty on the form; the null is preserved.
func GradeFallback(contactBlock string) string {
	lines := strings.Split(contactBlock, "\n")
	for i, line := range lines {
		if !gradeLabelRe.MatchString(line) {
			continue
		}
		hi := i + 10
		if hi > len(lines) {
			hi = len(lines)
		}
		window := lines[i:hi]
		blank := 0
		for _, w := range window {
			if strings.TrimSpace(w) == "" {
				blank++
			}
		}
		if blank*2 > len(window) {
			return ""
		}
		for _, w := range window {
			for _, tok := range strings.Fields(w) {
				if g, ok := ParseGrade(tok); ok {
					return g
				}
			}
		}
	}
	return ""
}
