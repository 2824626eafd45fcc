// Package validate applies the per-class required-field matrix and the
// quality gates, producing the review reason codes for a record.
package validate

import (
	"strings"

	"essaypipe/internal/ingest"
	"essaypipe/internal/model"
)

// Field names the validator recognizes in required-field rules.
const (
	FieldEssay   = "essay"
	FieldGrade   = "grade"
	FieldSchool  = "school"
	FieldStudent = "student"
)

// Rules configures the validator. Zero thresholds take the defaults.
type Rules struct {
	// RequiredFields maps a doc class to its required-field set. Classes
	// missing from the map require all four fields.
	RequiredFields map[model.DocClass][]string

	LowConfidenceThreshold float64 // default 0.5
	EscalationThreshold    float64 // default 0.3
	ShortEssayWords        int     // default 50
}

func DefaultRules() Rules {
	return Rules{
		LowConfidenceThreshold: 0.5,
		EscalationThreshold:    0.3,
		ShortEssayWords:        50,
	}
}

func (r Rules) required(class model.DocClass) []string {
	if r.RequiredFields != nil {
		if set, ok := r.RequiredFields[class]; ok {
			return set
		}
	}
	return []string{FieldEssay, FieldGrade, FieldSchool, FieldStudent}
}

// Input is everything the validator looks at.
type Input struct {
	DocClass         model.DocClass
	Fields           model.ExtractedFields
	SegmentedEssay   string
	RawText          string
	OCRConfidenceAvg float64
	OCRFailed        bool
}

// Outcome is the validator verdict plus the word-count selection detail for
// the trace.
type Outcome struct {
	Codes       model.ReasonCodes
	NeedsReview bool
	WordCount   int
	EssaySource string // "llm", "segmented" or "raw_stripped"
}

var missingCodeFor = map[string]model.ReasonCode{
	FieldStudent: model.ReasonMissingStudentName,
	FieldSchool:  model.ReasonMissingSchoolName,
	FieldGrade:   model.ReasonMissingGrade,
}

// Validate is pure: same input, same outcome.
func Validate(rules Rules, in Input) Outcome {
	if rules.LowConfidenceThreshold == 0 {
		rules.LowConfidenceThreshold = 0.5
	}
	if rules.EscalationThreshold == 0 {
		rules.EscalationThreshold = 0.3
	}
	if rules.ShortEssayWords == 0 {
		rules.ShortEssayWords = 50
	}

	var out Outcome
	out.WordCount, out.EssaySource = bestEssay(in)

	templateOnly := in.Fields.Empty() && out.WordCount == 0

	if !templateOnly {
		for _, field := range rules.required(in.DocClass) {
			code, isMissing := missingCodeFor[field]
			switch field {
			case FieldEssay:
				// Essay absence is covered by EMPTY_ESSAY below.
			default:
				if isMissing && fieldValue(in.Fields, field) == "" {
					out.Codes = out.Codes.Add(code)
				}
			}
		}
	}

	switch {
	case out.WordCount < 1:
		out.Codes = out.Codes.Add(model.ReasonEmptyEssay)
	case out.WordCount < rules.ShortEssayWords:
		out.Codes = out.Codes.Add(model.ReasonShortEssay)
	}

	// OCR_FAILED and LOW_CONFIDENCE are mutually exclusive by contract.
	if in.OCRFailed {
		out.Codes = out.Codes.Add(model.ReasonOCRFailed)
	} else if in.OCRConfidenceAvg < rules.LowConfidenceThreshold {
		out.Codes = out.Codes.Add(model.ReasonLowConfidence)
	}
	if in.OCRConfidenceAvg < rules.EscalationThreshold && !in.OCRFailed {
		out.Codes = out.Codes.Add(model.ReasonEscalated)
	}

	if templateOnly {
		out.Codes = out.Codes.Add(model.ReasonTemplateOnly)
	}

	out.NeedsReview = len(out.Codes) > 0
	return out
}

// BlockingCodes are the codes that must be clear before approval.
var BlockingCodes = model.ReasonCodes{
	model.ReasonMissingStudentName,
	model.ReasonMissingSchoolName,
	model.ReasonMissingGrade,
}

// Blocking filters an outcome down to its approval-blocking codes.
func Blocking(codes model.ReasonCodes) model.ReasonCodes {
	var out model.ReasonCodes
	for _, c := range codes {
		if BlockingCodes.Contains(c) {
			out = out.Add(c)
		}
	}
	return out
}

// BlockingFor recomputes the approval-blocking codes for a stored record
// under the current rules, so a rules change after processing is honored at
// decision time. Template-only records stay non-blocking, matching Validate.
func BlockingFor(rules Rules, rec *model.SubmissionRecord) model.ReasonCodes {
	if rec.Fields.Empty() && rec.WordCount == 0 {
		return nil
	}
	var out model.ReasonCodes
	for _, field := range rules.required(rec.DocClass) {
		if code, ok := missingCodeFor[field]; ok && fieldValue(rec.Fields, field) == "" {
			out = out.Add(code)
		}
	}
	return out
}

func fieldValue(f model.ExtractedFields, field string) string {
	switch field {
	case FieldStudent:
		return strings.TrimSpace(f.StudentName)
	case FieldSchool:
		return strings.TrimSpace(f.SchoolName)
	case FieldGrade:
		return strings.TrimSpace(f.Grade)
	}
	return ""
}

// knownLabels are stripped from the raw-text fallback candidate so form
// boilerplate does not inflate the word count.
var knownLabels = []string{
	"student's name", "nombre del estudiante", "grade", "grado",
	"school", "escuela", "teacher", "maestro", "father-figure's name",
	"phone", "email", "what my father means to me",
}

// bestEssay picks the candidate with the highest non-zero word count from
// the model-returned essay, the segmented essay block, and the label-stripped
// raw text.
func bestEssay(in Input) (int, string) {
	type cand struct {
		words  int
		source string
	}
	cands := []cand{
		{ingest.WordCount(in.Fields.EssayText), "llm"},
		{ingest.WordCount(in.SegmentedEssay), "segmented"},
		{ingest.WordCount(stripLabels(in.RawText)), "raw_stripped"},
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.words > best.words {
			best = c
		}
	}
	if best.words == 0 {
		return 0, ""
	}
	return best.words, best.source
}

func stripLabels(raw string) string {
	folded := strings.ToLower(raw)
	for _, label := range knownLabels {
		folded = strings.ReplaceAll(folded, label, " ")
	}
	return folded
}
