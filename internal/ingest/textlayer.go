package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"essaypipe/internal/model"
)

// PageTexts extracts the embedded text layer of every page, in page order.
// A page without a text layer yields the empty string. The error is only
// non-nil when the file is not a readable PDF at all.
func PageTexts(fileBytes []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	texts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is not fatal; it reads as image-only.
			texts = append(texts, "")
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// ReadTextLayer builds the OCR-shaped result for a native-text PDF: pages
// concatenated in reading order, AcroForm values merged into the page-0 text
// so positional extraction sees label/value pairs. Confidence is 1.0 by
// contract.
func ReadTextLayer(fileBytes []byte, pages model.PageRange) (*model.OcrResult, error) {
	texts, err := PageTexts(fileBytes)
	if err != nil {
		return nil, err
	}
	if pages.End > len(texts) || pages.End <= pages.Start {
		pages = model.PageRange{Start: 0, End: len(texts)}
	}
	texts = texts[pages.Start:pages.End]

	if fields := AcroFormValues(fileBytes); len(fields) > 0 && len(texts) > 0 {
		var b strings.Builder
		b.WriteString(texts[0])
		for _, fv := range fields {
			b.WriteString("\n")
			b.WriteString(fv.Name)
			b.WriteString(": ")
			b.WriteString(fv.Value)
		}
		texts[0] = b.String()
	}

	full := strings.Join(texts, "\n")
	lines := make([]model.OcrLine, 0)
	for _, l := range strings.Split(full, "\n") {
		lines = append(lines, model.OcrLine{Text: l, Confidence: 1.0})
	}
	perPage := make([]float64, len(texts))
	for i := range perPage {
		perPage[i] = 1.0
	}
	return &model.OcrResult{
		FullText:          full,
		Lines:             lines,
		ConfidenceAvg:     1.0,
		OCRFailed:         false,
		PerPageConfidence: perPage,
	}, nil
}
