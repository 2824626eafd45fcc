package extract

import (
	"regexp"
	"strings"

	"essaypipe/internal/model"
)

// fieldLabels maps record fields to their bilingual form labels. Order
// matters: longer labels first so "father-figure's name" is not eaten by a
// bare "name" match.
var sameLineLabels = []struct {
	field  string
	labels []string
}{
	{"father_figure_name", []string{"father-figure's name", "father figure's name", "father's name", "nombre del padre"}},
	{"student_name", []string{"student's name", "student name", "nombre del estudiante"}},
	{"teacher_name", []string{"teacher's name", "teacher", "maestro"}},
	{"phone", []string{"phone", "teléfono", "telefono"}},
	{"email", []string{"email", "e-mail", "correo"}},
	{"city_or_location", []string{"city", "ciudad", "location"}},
}

var labelValueRe = regexp.MustCompile(`^[\s:_.-]*(.*?)[\s_]*$`)

// TypedExtract pulls fields out of the official typed form by label
// position: the value is the remainder of the label's line, the essay is
// the block after the prompt line, grade and school accept a value on the
// label line or the next one. No model call is involved.
func TypedExtract(text string) model.ExtractedFields {
	var f model.ExtractedFields
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		folded := strings.ToLower(line)

		for _, sl := range sameLineLabels {
			for _, label := range sl.labels {
				idx := strings.Index(folded, label)
				if idx < 0 {
					continue
				}
				value := cleanLabelValue(line[idx+len(label):])
				if value == "" {
					continue
				}
				switch sl.field {
				case "student_name":
					setIfEmpty(&f.StudentName, value)
				case "father_figure_name":
					setIfEmpty(&f.FatherFigureName, value)
				case "teacher_name":
					setIfEmpty(&f.TeacherName, value)
				case "phone":
					setIfEmpty(&f.Phone, value)
				case "email":
					setIfEmpty(&f.Email, value)
				case "city_or_location":
					setIfEmpty(&f.CityOrLocation, value)
				}
			}
		}

		if gradeLabelRe.MatchString(line) && f.Grade == "" {
			f.Grade = gradeFromLabelLine(line, nextLine(lines, i))
		}
		if schoolLabelRe.MatchString(line) && f.SchoolName == "" {
			f.SchoolName = schoolFromLabelLine(line, nextLine(lines, i))
		}
	}

	f.EssayText = essayAfterPrompt(lines)
	return f
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func nextLine(lines []string, i int) string {
	if i+1 < len(lines) {
		return lines[i+1]
	}
	return ""
}

// cleanLabelValue strips the separator junk between a label and its value.
func cleanLabelValue(rest string) string {
	m := labelValueRe.FindStringSubmatch(rest)
	if m == nil {
		return ""
	}
	v := strings.TrimSpace(m[1])
	// A run of underscores is an unfilled blank, not a value.
	if strings.Trim(v, "_ ") == "" {
		return ""
	}
	return v
}

// gradeFromLabelLine accepts a grade on the label line or the line below;
// an unfilled blank stays empty.
func gradeFromLabelLine(line, next string) string {
	loc := gradeLabelRe.FindStringIndex(line)
	if loc != nil {
		for _, tok := range strings.Fields(line[loc[1]:]) {
			if g, ok := ParseGrade(strings.Trim(tok, ":/_.-")); ok {
				return g
			}
		}
	}
	for _, tok := range strings.Fields(next) {
		if g, ok := ParseGrade(strings.Trim(tok, ":/_.-")); ok {
			return g
		}
	}
	return ""
}

func schoolFromLabelLine(line, next string) string {
	// Take the last label occurrence so "School / Escuela: X" yields X.
	locs := schoolLabelRe.FindAllStringIndex(line, -1)
	if len(locs) > 0 {
		rest := line[locs[len(locs)-1][1]:]
		if v := cleanLabelValue(strings.TrimLeft(rest, " /")); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(next); v != "" && !strings.Contains(v, ":") {
		if capitalizedPhraseRe.MatchString(v) {
			return v
		}
	}
	return ""
}

// essayAfterPrompt returns the block after the essay-prompt line, stopping
// at the reaction section.
func essayAfterPrompt(lines []string) string {
	start := -1
	for i, line := range lines {
		folded := strings.ToLower(line)
		if strings.Contains(folded, "what my father") || strings.Contains(folded, "lo que mi padre") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		folded := strings.ToLower(lines[i])
		if strings.Contains(folded, "reaction to this essay") || strings.Contains(folded, "father-figure reaction") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}
