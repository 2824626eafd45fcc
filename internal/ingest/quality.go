package ingest

import (
	"strings"
	"unicode"
)

// QualityScore computes the deterministic OCR quality proxy for a text.
// With alpha the letter share of non-whitespace characters and gamma the
// symbol share, the score is clamp(0.8*alpha + 0.2*(1-gamma), 0, 1).
// Empty or whitespace-only text scores 0. The same formula is applied to
// every provider's output so scores stay comparable.
func QualityScore(text string) float64 {
	var nonWS, letters, alnum int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonWS++
		if unicode.IsLetter(r) {
			letters++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if nonWS == 0 {
		return 0
	}
	alpha := float64(letters) / float64(nonWS)
	gamma := float64(nonWS-alnum) / float64(nonWS)
	score := 0.8*alpha + 0.2*(1-gamma)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ScoreLines computes per-line quality scores for an extracted text.
func ScoreLines(text string) []float64 {
	lines := strings.Split(text, "\n")
	scores := make([]float64, len(lines))
	for i, line := range lines {
		scores[i] = QualityScore(line)
	}
	return scores
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
