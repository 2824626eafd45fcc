package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/model"
)

func essay(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words))
}

func cleanInput() Input {
	return Input{
		DocClass: model.DocClassSingleTyped,
		Fields: model.ExtractedFields{
			StudentName: "Jordan Altman",
			SchoolName:  "Lincoln Middle",
			Grade:       "8",
			EssayText:   essay(412),
		},
		OCRConfidenceAvg: 1.0,
	}
}

func TestValidateCleanRecord(t *testing.T) {
	out := Validate(DefaultRules(), cleanInput())

	assert.Empty(t, out.Codes)
	assert.False(t, out.NeedsReview)
	assert.Equal(t, 412, out.WordCount)
	assert.Equal(t, "llm", out.EssaySource)
}

func TestValidateMissingFields(t *testing.T) {
	in := cleanInput()
	in.Fields.Grade = ""
	in.Fields.SchoolName = "  "
	out := Validate(DefaultRules(), in)

	assert.True(t, out.NeedsReview)
	assert.True(t, out.Codes.Contains(model.ReasonMissingGrade))
	assert.True(t, out.Codes.Contains(model.ReasonMissingSchoolName))
	assert.False(t, out.Codes.Contains(model.ReasonMissingStudentName))
}

func TestValidateEssayLength(t *testing.T) {
	in := cleanInput()
	in.Fields.EssayText = ""
	out := Validate(DefaultRules(), in)
	assert.True(t, out.Codes.Contains(model.ReasonEmptyEssay))

	in.Fields.EssayText = essay(30)
	out = Validate(DefaultRules(), in)
	assert.True(t, out.Codes.Contains(model.ReasonShortEssay))
	assert.False(t, out.Codes.Contains(model.ReasonEmptyEssay))

	in.Fields.EssayText = essay(50)
	out = Validate(DefaultRules(), in)
	assert.False(t, out.Codes.Contains(model.ReasonShortEssay))
}

func TestValidateOCRFailedExcludesLowConfidence(t *testing.T) {
	in := cleanInput()
	in.OCRFailed = true
	in.OCRConfidenceAvg = 0
	out := Validate(DefaultRules(), in)

	assert.True(t, out.Codes.Contains(model.ReasonOCRFailed))
	assert.False(t, out.Codes.Contains(model.ReasonLowConfidence))
}

func TestValidateLowConfidenceAndEscalation(t *testing.T) {
	in := cleanInput()
	in.OCRConfidenceAvg = 0.22
	out := Validate(DefaultRules(), in)

	assert.True(t, out.Codes.Contains(model.ReasonLowConfidence))
	assert.True(t, out.Codes.Contains(model.ReasonEscalated))
	assert.False(t, out.Codes.Contains(model.ReasonOCRFailed))

	in.OCRConfidenceAvg = 0.4
	out = Validate(DefaultRules(), in)
	assert.True(t, out.Codes.Contains(model.ReasonLowConfidence))
	assert.False(t, out.Codes.Contains(model.ReasonEscalated))
}

func TestValidateTemplateOnlySuppressesMissing(t *testing.T) {
	in := Input{
		DocClass:         model.DocClassSingleTyped,
		OCRConfidenceAvg: 1.0,
	}
	out := Validate(DefaultRules(), in)

	assert.True(t, out.Codes.Contains(model.ReasonTemplateOnly))
	assert.False(t, out.Codes.Contains(model.ReasonMissingStudentName))
	assert.False(t, out.Codes.Contains(model.ReasonMissingSchoolName))
	assert.False(t, out.Codes.Contains(model.ReasonMissingGrade))
}

func TestValidateCustomRequiredFields(t *testing.T) {
	rules := DefaultRules()
	rules.RequiredFields = map[model.DocClass][]string{
		model.DocClassEssayHeader: {FieldStudent, FieldEssay},
	}
	in := cleanInput()
	in.DocClass = model.DocClassEssayHeader
	in.Fields.SchoolName = ""
	in.Fields.Grade = ""
	out := Validate(rules, in)

	assert.False(t, out.Codes.Contains(model.ReasonMissingSchoolName))
	assert.False(t, out.Codes.Contains(model.ReasonMissingGrade))
	assert.False(t, out.NeedsReview)
}

func TestValidateWordCountSelection(t *testing.T) {
	in := cleanInput()
	in.Fields.EssayText = essay(10)
	in.SegmentedEssay = essay(200)
	out := Validate(DefaultRules(), in)

	assert.Equal(t, 200, out.WordCount)
	assert.Equal(t, "segmented", out.EssaySource)
}

func TestValidateDeterministic(t *testing.T) {
	in := cleanInput()
	in.Fields.Grade = ""
	in.OCRConfidenceAvg = 0.25

	first := Validate(DefaultRules(), in)
	second := Validate(DefaultRules(), in)
	require.Equal(t, first, second)
}

func TestBlocking(t *testing.T) {
	codes := model.ReasonCodes{
		model.ReasonShortEssay,
		model.ReasonMissingGrade,
		model.ReasonLowConfidence,
		model.ReasonMissingStudentName,
	}
	blocking := Blocking(codes)
	assert.Equal(t, "MISSING_GRADE;MISSING_STUDENT_NAME", blocking.String())

	assert.Empty(t, Blocking(model.ReasonCodes{model.ReasonShortEssay}))
}

func TestBlockingForUsesCurrentRules(t *testing.T) {
	rec := &model.SubmissionRecord{
		DocClass: model.DocClassSingleScanned,
		Fields: model.ExtractedFields{
			StudentName: "Jordan Altman",
			SchoolName:  "Lincoln Middle",
			EssayText:   essay(60),
		},
		WordCount: 60,
	}

	// Grade required by default, so its absence blocks.
	blocking := BlockingFor(DefaultRules(), rec)
	assert.Equal(t, "MISSING_GRADE", blocking.String())

	// The same record passes once the current rules drop the grade.
	rules := DefaultRules()
	rules.RequiredFields = map[model.DocClass][]string{
		model.DocClassSingleScanned: {FieldEssay, FieldStudent, FieldSchool},
	}
	assert.Empty(t, BlockingFor(rules, rec))
}

func TestBlockingForTemplateOnlyRecord(t *testing.T) {
	rec := &model.SubmissionRecord{DocClass: model.DocClassSingleTyped}
	assert.Empty(t, BlockingFor(DefaultRules(), rec))
}
