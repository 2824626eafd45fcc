package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemPrompt is the fixed instruction for field extraction. The model is
// told to copy values verbatim; anything it invents is caught by the
// verification pass regardless.
const systemPrompt = `You extract contest submission metadata from OCR text.
Return ONLY a JSON object with exactly these keys:
  student_name, school_name, grade, teacher_name, father_figure_name,
  phone, email, city_or_location, essay_text, doc_type
Rules:
- Copy values verbatim from the input text. Never invent or guess a value.
- Use null for any field not present in the text.
- grade is the student grade level (a number 1-12, "K", or "Pre-K").
- doc_type is your best guess among: SINGLE_TYPED, SINGLE_SCANNED,
  MULTI_PAGE_SINGLE, BULK_SCANNED_BATCH, ESSAY_WITH_HEADER_METADATA.
- No prose, no markdown fences, JSON only.`

// llmResponse mirrors the JSON contract above.
type llmResponse struct {
	StudentName      *string `json:"student_name"`
	SchoolName       *string `json:"school_name"`
	Grade            *string `json:"grade"`
	TeacherName      *string `json:"teacher_name"`
	FatherFigureName *string `json:"father_figure_name"`
	Phone            *string `json:"phone"`
	Email            *string `json:"email"`
	CityOrLocation   *string `json:"city_or_location"`
	EssayText        *string `json:"essay_text"`
	DocType          *string `json:"doc_type"`
}

// BuildPrompt returns the (system, user) pair for one extraction call. The
// pair is what the response cache hashes.
func BuildPrompt(contactBlock string) (string, string) {
	return systemPrompt, contactBlock
}

// parseLLMResponse decodes the model reply, tolerating markdown fences and
// leading prose up to the first brace.
func parseLLMResponse(raw string) (*llmResponse, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 {
		s = s[:j+1]
	}
	var resp llmResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return &resp, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
