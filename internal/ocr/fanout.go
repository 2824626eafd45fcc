package ocr

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"essaypipe/internal/model"
)

// PerPage fans one chunk's pages out to the provider concurrently and merges
// the page results back in page order. This is the only intra-job
// concurrency; stages themselves stay sequential. A failed page contributes
// empty text and zero confidence; the merged result is marked failed only
// when every page failed.
func PerPage(ctx context.Context, provider model.OCR, pdf []byte, r model.PageRange, parallelism int) (*model.OcrResult, error) {
	n := r.End - r.Start
	if n <= 1 {
		return provider.OCRPDFPages(ctx, pdf, r)
	}
	if parallelism <= 0 {
		parallelism = 4
	}

	pages := make([]*model.OcrResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := provider.OCRPDFPages(gctx, pdf, model.PageRange{Start: r.Start + i, End: r.Start + i + 1})
			if err != nil {
				return err
			}
			pages[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge(pages), nil
}

func merge(pages []*model.OcrResult) *model.OcrResult {
	out := &model.OcrResult{OCRFailed: true}
	var texts []string
	for _, p := range pages {
		if p == nil || p.OCRFailed {
			out.PerPageConfidence = append(out.PerPageConfidence, 0)
			continue
		}
		out.OCRFailed = false
		texts = append(texts, p.FullText)
		out.Lines = append(out.Lines, p.Lines...)
		out.PerPageConfidence = append(out.PerPageConfidence, p.ConfidenceAvg)
	}
	if out.OCRFailed {
		return out
	}
	merged := FromText(strings.Join(texts, "\n"))
	merged.PerPageConfidence = out.PerPageConfidence
	return merged
}
