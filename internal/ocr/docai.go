// Package ocr holds the text-recognition providers behind the abstract
// capability. Every provider reports quality through the same deterministic
// formula and maps vendor failures to ocr_failed instead of errors, so the
// pipeline degrades rather than aborts.
package ocr

import (
	"context"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"go.uber.org/zap"

	"essaypipe/internal/ingest"
	"essaypipe/internal/model"
)

// DocAI recognizes text through a Document AI OCR processor. Provider hint
// "google" selects it.
type DocAI struct {
	client    *documentai.DocumentProcessorClient
	processor string // projects/{p}/locations/{l}/processors/{id}
	log       *zap.Logger
}

func NewDocAI(ctx context.Context, processorName string, log *zap.Logger) (*DocAI, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := documentai.NewDocumentProcessorClient(ctx)
	if err != nil {
		return nil, err
	}
	return &DocAI{client: client, processor: processorName, log: log}, nil
}

func (d *DocAI) Close() error { return d.client.Close() }

func (d *DocAI) OCRImage(ctx context.Context, image []byte) (*model.OcrResult, error) {
	return d.process(ctx, image, sniffImageMIME(image)), nil
}

func (d *DocAI) OCRPDFPages(ctx context.Context, pdf []byte, pages model.PageRange) (*model.OcrResult, error) {
	chunk := pdf
	if pages.End > pages.Start {
		extracted, err := ingest.ExtractPages(pdf, pages)
		if err != nil {
			d.log.Warn("page extraction before ocr failed", zap.Error(err))
			return failed(), nil
		}
		chunk = extracted
	}
	return d.process(ctx, chunk, "application/pdf"), nil
}

func (d *DocAI) process(ctx context.Context, data []byte, mime string) *model.OcrResult {
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mime},
		},
	})
	if err != nil {
		d.log.Warn("document ai call failed", zap.Error(err))
		return failed()
	}
	return FromText(resp.GetDocument().GetText())
}

// FromText builds an OcrResult from recognized text, scoring it with the
// shared quality formula.
func FromText(text string) *model.OcrResult {
	res := &model.OcrResult{
		FullText:      text,
		ConfidenceAvg: ingest.QualityScore(text),
	}
	for _, line := range strings.Split(text, "\n") {
		res.Lines = append(res.Lines, model.OcrLine{
			Text:       line,
			Confidence: ingest.QualityScore(line),
		})
	}
	return res
}

func failed() *model.OcrResult {
	return &model.OcrResult{OCRFailed: true}
}

func sniffImageMIME(data []byte) string {
	switch {
	case len(data) > 3 && data[0] == 0x89 && data[1] == 'P':
		return "image/png"
	case len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) > 3 && (string(data[:2]) == "II" || string(data[:2]) == "MM"):
		return "image/tiff"
	default:
		return "image/png"
	}
}
