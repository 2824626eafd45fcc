package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/model"
)

// buildPDF assembles a minimal valid PDF with one Helvetica text line per
// page, computing xref offsets as it writes. Page texts must not contain
// parentheses or backslashes.
func buildPDF(t *testing.T, pageTexts []string) []byte {
	t.Helper()
	n := len(pageTexts)
	var buf bytes.Buffer
	var offsets []int
	add := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i)
	}
	add("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	add(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n))
	add("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	for i := range pageTexts {
		add(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			4+i, 4+n+i))
	}
	for i, text := range pageTexts {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		add(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			4+n+i, len(content), content))
	}

	xrefOffset := buf.Len()
	size := 4 + 2*n
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f\r\n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		size, xrefOffset)
	return buf.Bytes()
}

func fourPagePDF(t *testing.T) []byte {
	t.Helper()
	return buildPDF(t, []string{
		"Entry one header", "Entry one essay",
		"Entry two header", "Entry two essay",
	})
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(fourPagePDF(t))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSplitMultiEntryChildIDs(t *testing.T) {
	pdfBytes := fourPagePDF(t)
	analysis := &model.DocumentAnalysis{
		PageCount:   4,
		DocClass:    model.DocClassMultiPageSingle,
		ChunkRanges: []model.PageRange{{Start: 0, End: 2}, {Start: 2, End: 4}},
	}

	children, err := Split("par123456789", pdfBytes, analysis)
	require.NoError(t, err)
	require.Len(t, children, 2)

	assert.Equal(t, "par123456789_e0", children[0].ID)
	assert.Equal(t, "par123456789_e1", children[1].ID)
	assert.Equal(t, model.PageRange{Start: 0, End: 2}, children[0].Range)
	assert.Equal(t, model.PageRange{Start: 2, End: 4}, children[1].Range)

	for _, child := range children {
		n, err := PageCount(child.Bytes)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
}

func TestSplitBulkBatchPerPageChildIDs(t *testing.T) {
	pdfBytes := fourPagePDF(t)
	analysis := &model.DocumentAnalysis{
		PageCount: 4,
		DocClass:  model.DocClassBulkScannedBatch,
		ChunkRanges: []model.PageRange{
			{Start: 0, End: 1}, {Start: 1, End: 2}, {Start: 2, End: 3}, {Start: 3, End: 4},
		},
	}

	children, err := Split("par123456789", pdfBytes, analysis)
	require.NoError(t, err)
	require.Len(t, children, 4)

	for i, child := range children {
		assert.Equal(t, fmt.Sprintf("par123456789_p%d", i), child.ID)
		n, err := PageCount(child.Bytes)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestSplitRejectsInvalidRanges(t *testing.T) {
	pdfBytes := fourPagePDF(t)

	_, err := Split("par123456789", pdfBytes, &model.DocumentAnalysis{
		PageCount:   4,
		ChunkRanges: []model.PageRange{{Start: 0, End: 2}, {Start: 2, End: 6}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chunk range")

	_, err = Split("par123456789", pdfBytes, &model.DocumentAnalysis{
		PageCount:   4,
		ChunkRanges: []model.PageRange{{Start: 0, End: 4}},
	})
	require.Error(t, err)

	_, err = Split("par123456789", pdfBytes, nil)
	require.Error(t, err)
}

func TestSplitDeterministic(t *testing.T) {
	pdfBytes := fourPagePDF(t)
	analysis := &model.DocumentAnalysis{
		PageCount:   4,
		DocClass:    model.DocClassMultiPageSingle,
		ChunkRanges: []model.PageRange{{Start: 0, End: 2}, {Start: 2, End: 4}},
	}

	first, err := Split("par123456789", pdfBytes, analysis)
	require.NoError(t, err)
	second, err := Split("par123456789", pdfBytes, analysis)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Range, second[i].Range)
	}
}
