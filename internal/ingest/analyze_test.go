package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/model"
)

func TestHeaderScore(t *testing.T) {
	strip := "Student's Name: ___  Grade/Grado: __  School: __"
	// student's name, grade, grado, school = 4 of 15 labels.
	assert.InDelta(t, 4.0/15.0, HeaderScore(strip), 1e-9)
	assert.Zero(t, HeaderScore("just an essay paragraph"))
}

func TestHeaderScoreTolerantVariants(t *testing.T) {
	assert.Greater(t, HeaderScore("Studnt Nme ... Garde ... Schol"), 0.15)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, model.FormatNativeText, detectFormat([]string{"a", "b"}))
	assert.Equal(t, model.FormatImageOnly, detectFormat([]string{"", ""}))
	assert.Equal(t, model.FormatHybrid, detectFormat([]string{"a", ""}))
}

func TestRangesFromStarts(t *testing.T) {
	ranges := rangesFromStarts([]bool{true, false, true, false, false})
	require.Len(t, ranges, 2)
	assert.Equal(t, model.PageRange{Start: 0, End: 2}, ranges[0])
	assert.Equal(t, model.PageRange{Start: 2, End: 5}, ranges[1])

	single := rangesFromStarts([]bool{true, false, false})
	require.Len(t, single, 1)
	assert.Equal(t, model.PageRange{Start: 0, End: 3}, single[0])
}

func TestRefineStartsDemotesBandlessPages(t *testing.T) {
	// All pages scored as starts but only pages 0 and 2 carry a dark band.
	starts := []bool{true, true, true, true}
	bands := []bool{true, false, true, false}
	scores := []float64{0.3, 0.3, 0.3, 0.3}
	analysis := &model.DocumentAnalysis{}

	refineStarts(starts, scores, bands, 0.2, analysis)

	assert.Equal(t, []bool{true, false, true, false}, starts)
	assert.Contains(t, analysis.Signals, "over_chunking_demoted")
}

func TestRefineStartsPeriodicProbe(t *testing.T) {
	starts := []bool{true, false, false, false, false, false}
	bands := make([]bool, 6)
	scores := []float64{0.3, 0, 0.15, 0, 0.15, 0}
	analysis := &model.DocumentAnalysis{}

	refineStarts(starts, scores, bands, 0.2, analysis)

	assert.True(t, starts[2])
	assert.True(t, starts[4])
	assert.False(t, starts[1])
}

func TestAlternating(t *testing.T) {
	two := func(s int) model.PageRange { return model.PageRange{Start: s, End: s + 2} }
	assert.True(t, alternating([]model.PageRange{two(0), two(2), two(4)}, 6))
	assert.False(t, alternating([]model.PageRange{{Start: 0, End: 3}, {Start: 3, End: 4}}, 4))
	assert.False(t, alternating([]model.PageRange{two(0)}, 2))
}

func TestAnalyzeImageUpload(t *testing.T) {
	a := NewAnalyzer(nil, nil, AnalyzerConfig{}, nil)
	analysis, err := a.Analyze(context.Background(), []byte("not inspected"), "scan.jpg")
	require.NoError(t, err)

	assert.Equal(t, model.FormatImageOnly, analysis.Format)
	assert.Equal(t, model.StructureSingle, analysis.Structure)
	assert.Equal(t, model.DocClassSingleScanned, analysis.DocClass)
	require.Len(t, analysis.ChunkRanges, 1)
	assert.Equal(t, model.PageRange{Start: 0, End: 1}, analysis.ChunkRanges[0])
}

func TestAnalyzeRejectsGarbagePDF(t *testing.T) {
	a := NewAnalyzer(nil, nil, AnalyzerConfig{}, nil)
	_, err := a.Analyze(context.Background(), []byte("not a pdf at all"), "broken.pdf")
	require.Error(t, err)
	assert.Equal(t, model.KindInputError, model.KindOf(err))
}

func TestTopStripText(t *testing.T) {
	text := strings.Join([]string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8"}, "\n")
	strip := topStripText(text)
	assert.Equal(t, "l1\nl2\nl3", strip)
	body := bodyText(text)
	assert.True(t, strings.HasPrefix(body, "l4"))
}
