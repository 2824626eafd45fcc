package extract

import (
	"fmt"
	"regexp"
	"strings"

	"essaypipe/internal/model"
)

// Features is the deterministic feature vector the classifier derives from
// the document. It is recorded verbatim in the trace.
type Features struct {
	LabelCount    int     `json:"label_count"`
	PageCount     int     `json:"page_count"`
	HeaderScore   float64 `json:"header_score"`
	DarkBandCount int     `json:"dark_band_count"`
	ChunkCount    int     `json:"chunk_count"`
}

var classifierLabelRe = regexp.MustCompile(`(?i)\b(student|estudiante|grade|grado|school|escuela|teacher|maestro|phone|email)\b`)

// ComputeFeatures derives the classifier inputs from text and analysis.
// Same input, same output, always.
func ComputeFeatures(text string, analysis *model.DocumentAnalysis) Features {
	f := Features{
		LabelCount: len(classifierLabelRe.FindAllString(text, -1)),
		ChunkCount: len(analysis.ChunkRanges),
		PageCount:  analysis.PageCount,
	}
	lines := strings.Split(text, "\n")
	n := len(lines) / 4
	if n < 3 {
		n = 3
	}
	if n > len(lines) {
		n = len(lines)
	}
	f.HeaderScore = headerBagScore(strings.Join(lines[:n], "\n"))
	for _, s := range analysis.Signals {
		if strings.Contains(s, "dark_band") {
			f.DarkBandCount++
		}
	}
	return f
}

var classifierBag = []string{
	"student's name", "nombre del estudiante", "grade", "grado",
	"school", "escuela", "teacher", "maestro", "father", "padre",
	"phone", "email", "studnt", "garde", "schol",
}

func headerBagScore(strip string) float64 {
	folded := strings.ToLower(strip)
	matched := 0
	for _, label := range classifierBag {
		if strings.Contains(folded, label) {
			matched++
		}
	}
	return float64(matched) / float64(len(classifierBag))
}

// Classify confirms the analyzer's document class against the extracted
// text. The model may have proposed a class of its own; it never has
// authority, a divergence is only recorded for the trace.
func Classify(text string, analysis *model.DocumentAnalysis, proposed string) (model.DocClass, Features, []string) {
	feats := ComputeFeatures(text, analysis)
	final := analysis.DocClass

	var signals []string
	if proposed != "" && proposed != string(final) {
		signals = append(signals, fmt.Sprintf("doc_type_divergence: llm=%s code=%s", proposed, final))
	}
	return final, feats, signals
}
