package ingest

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcpumodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"essaypipe/internal/model"
)

// Child is one extracted submission of a multi-document upload.
type Child struct {
	ID    string
	Bytes []byte
	Range model.PageRange
}

// PageCount reports the page count of a PDF via pdfcpu, which tolerates more
// malformed files than the text-layer reader.
func PageCount(fileBytes []byte) (int, error) {
	conf := pdfcpumodel.NewDefaultConfiguration()
	n, err := api.PageCount(bytes.NewReader(fileBytes), conf)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}

// Split cuts a multi-submission PDF into per-chunk byte streams with
// deterministic child IDs. Bulk-scanned batches yield one child per page
// named {parent}_pN; multi-entry documents yield one child per chunk range
// named {parent}_eN. Pure over its inputs.
func Split(parentID string, fileBytes []byte, analysis *model.DocumentAnalysis) ([]Child, error) {
	if analysis == nil || len(analysis.ChunkRanges) < 2 {
		return nil, fmt.Errorf("split: analysis has no chunks to split")
	}
	children := make([]Child, 0, len(analysis.ChunkRanges))
	for i, r := range analysis.ChunkRanges {
		if r.End <= r.Start || r.Start < 0 || r.End > analysis.PageCount {
			return nil, fmt.Errorf("split: invalid chunk range [%d,%d)", r.Start, r.End)
		}
		chunk, err := ExtractPages(fileBytes, r)
		if err != nil {
			return nil, model.NewStageError(model.KindAnalysisError, "split", err)
		}

		id := ChildEntryID(parentID, i)
		if analysis.DocClass == model.DocClassBulkScannedBatch {
			id = ChildPageID(parentID, r.Start)
		}
		children = append(children, Child{ID: id, Bytes: chunk, Range: r})
	}
	return children, nil
}

// ExtractPages returns a new PDF holding only the half-open page range.
func ExtractPages(fileBytes []byte, r model.PageRange) ([]byte, error) {
	conf := pdfcpumodel.NewDefaultConfiguration()
	// pdfcpu page selections are 1-based inclusive.
	sel := []string{fmt.Sprintf("%d-%d", r.Start+1, r.End)}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(fileBytes), &out, sel, conf); err != nil {
		return nil, fmt.Errorf("extract pages %v: %w", sel, err)
	}
	return out.Bytes(), nil
}
