// Package extract turns OCR text into verified structured fields. Two paths
// exist: positional extraction for the official typed form, and
// model-assisted extraction for everything else. Every model-returned value
// is verified against the source text before it may be persisted.
package extract

import (
	"context"

	"go.uber.org/zap"

	"essaypipe/internal/ingest"
	"essaypipe/internal/model"
)

// Result carries the verified fields plus everything the trace wants to
// know about how they were obtained.
type Result struct {
	Fields          model.ExtractedFields
	ProposedDocType string
	RulesApplied    []string
	Signals         []string
	FromCache       bool
}

// CacheAwareLLM is implemented by capabilities that can report a response
// was served from cache, so the runner can emit the matching event.
type CacheAwareLLM interface {
	CompleteCached(ctx context.Context, system, user string) (string, bool, error)
}

// Extractor runs field extraction. The LLM capability may be nil, in which
// case freeform documents fall back to positional rules.
type Extractor struct {
	llm model.LLM
	log *zap.Logger
}

func NewExtractor(llm model.LLM, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{llm: llm, log: log}
}

// Extract chooses the path by form layout and always finishes with the
// verification pass. It never fails terminally: a model outage degrades to
// rule-based extraction with a trace signal.
func (e *Extractor) Extract(ctx context.Context, layout model.FormLayout, seg ingest.Segments, ocrText string) (*Result, error) {
	res := &Result{}

	if layout == model.LayoutTypedForm || e.llm == nil {
		res.Fields = TypedExtract(ocrText)
		res.RulesApplied = append(res.RulesApplied, "typed_form_positional")
		if layout != model.LayoutTypedForm {
			res.Signals = append(res.Signals, "llm_unavailable_rule_based")
		}
	} else {
		system, user := BuildPrompt(seg.ContactBlock)
		var raw string
		var err error
		if cached, ok := e.llm.(CacheAwareLLM); ok {
			raw, res.FromCache, err = cached.CompleteCached(ctx, system, user)
		} else {
			raw, err = e.llm.Complete(ctx, system, user)
		}
		if err != nil {
			e.log.Warn("extraction model call failed, falling back to rules", zap.Error(err))
			res.Fields = TypedExtract(ocrText)
			res.RulesApplied = append(res.RulesApplied, "llm_fallback_rule_based")
			res.Signals = append(res.Signals, "llm_error: "+err.Error())
		} else if resp, perr := parseLLMResponse(raw); perr != nil {
			e.log.Warn("extraction response unparseable, falling back to rules", zap.Error(perr))
			res.Fields = TypedExtract(ocrText)
			res.RulesApplied = append(res.RulesApplied, "llm_fallback_rule_based")
			res.Signals = append(res.Signals, "llm_invalid_json")
		} else {
			res.Fields = model.ExtractedFields{
				StudentName:      deref(resp.StudentName),
				SchoolName:       deref(resp.SchoolName),
				Grade:            deref(resp.Grade),
				TeacherName:      deref(resp.TeacherName),
				FatherFigureName: deref(resp.FatherFigureName),
				Phone:            deref(resp.Phone),
				Email:            deref(resp.Email),
				CityOrLocation:   deref(resp.CityOrLocation),
				EssayText:        deref(resp.EssayText),
			}
			res.ProposedDocType = deref(resp.DocType)
			res.RulesApplied = append(res.RulesApplied, "llm_extraction")
		}
	}

	e.verify(&res.Fields, ocrText, res)
	e.applyFallbacks(&res.Fields, seg.ContactBlock, res)
	return res, nil
}

// verify drops every field value that does not appear in the source text.
// Essay text is exempt: containment of a multi-hundred-word block in noisy
// OCR output is not a meaningful check, the word-count selection handles it.
func (e *Extractor) verify(f *model.ExtractedFields, sourceText string, res *Result) {
	check := func(name string, value *string) {
		if *value == "" {
			return
		}
		if !VerifyField(*value, sourceText) {
			res.Signals = append(res.Signals, "field_verification_failed("+name+")")
			*value = ""
		}
	}
	check("student_name", &f.StudentName)
	check("school_name", &f.SchoolName)
	check("teacher_name", &f.TeacherName)
	check("father_figure_name", &f.FatherFigureName)
	check("phone", &f.Phone)
	check("email", &f.Email)
	check("city_or_location", &f.CityOrLocation)

	if f.Grade != "" {
		g, ok := ParseGrade(f.Grade)
		if !ok || !VerifyGrade(g, sourceText) {
			res.Signals = append(res.Signals, "field_verification_failed(grade)")
			f.Grade = ""
		} else {
			f.Grade = g
		}
	}
	res.RulesApplied = append(res.RulesApplied, "deterministic_verification")
}

func (e *Extractor) applyFallbacks(f *model.ExtractedFields, contactBlock string, res *Result) {
	if f.SchoolName == "" {
		if v := SchoolFallback(contactBlock); v != "" {
			f.SchoolName = v
			res.RulesApplied = append(res.RulesApplied, "school_name_fallback")
		}
	}
	if f.Grade == "" {
		if v := GradeFallback(contactBlock); v != "" {
			f.Grade = v
			res.RulesApplied = append(res.RulesApplied, "grade_fallback")
		}
	}
}
