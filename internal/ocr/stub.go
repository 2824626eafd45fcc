package ocr

import (
	"context"

	"go.uber.org/zap"

	"essaypipe/internal/model"
)

// Stub recognizes nothing. It exists so the pipeline can run end to end in
// development and so unsupported provider hints have somewhere safe to land:
// every call reports ocr_failed, which routes the record to review.
type Stub struct {
	log *zap.Logger
}

func NewStub(log *zap.Logger) *Stub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stub{log: log}
}

func (s *Stub) OCRImage(ctx context.Context, image []byte) (*model.OcrResult, error) {
	s.log.Debug("stub ocr: no text recognized")
	return failed(), nil
}

func (s *Stub) OCRPDFPages(ctx context.Context, pdf []byte, pages model.PageRange) (*model.OcrResult, error) {
	s.log.Debug("stub ocr: no text recognized")
	return failed(), nil
}

// ForHint picks the provider for an upload's ocr_provider_hint. Unknown
// hints (the retired easyocr provider among them) fall back to the default
// with a warning rather than failing the job.
func ForHint(hint string, google model.OCR, fallback model.OCR, log *zap.Logger) model.OCR {
	if log == nil {
		log = zap.NewNop()
	}
	switch hint {
	case "", "stub":
		return fallback
	case "google":
		if google != nil {
			return google
		}
		log.Warn("google ocr requested but not configured, using default provider")
		return fallback
	default:
		log.Warn("unknown ocr provider hint, using default provider", zap.String("hint", hint))
		return fallback
	}
}
