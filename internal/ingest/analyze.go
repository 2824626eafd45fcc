package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	_ "image/jpeg"

	"go.uber.org/zap"

	"essaypipe/internal/model"
)

// headerLabels is the bilingual label bag scored against the top strip of a
// page. The last three entries absorb the common OCR misreads.
var headerLabels = []string{
	"student's name",
	"nombre del estudiante",
	"grade",
	"grado",
	"school",
	"escuela",
	"teacher",
	"maestro",
	"father",
	"padre",
	"phone",
	"email",
	"studnt",
	"garde",
	"schol",
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true,
	".tiff": true, ".bmp": true, ".webp": true, ".heic": true,
}

const (
	darkLuminance   = 60.0 // 0..255 row mean below this counts as dark
	darkBandMinFrac = 0.02 // band height vs page height
	darkBandTopFrac = 0.15 // a band starting here marks a submission boundary
	headerStripFrac = 0.25
)

// AnalyzerConfig carries the tunable thresholds.
type AnalyzerConfig struct {
	HeaderScoreThreshold      float64 // native_text pages
	HeaderScoreThresholdImage float64 // image_only / hybrid pages
}

// Analyzer classifies an upload and computes its chunk ranges. Rasterizer and
// OCR are optional: without them the analyzer falls back to text-layer
// signals only.
type Analyzer struct {
	raster model.Rasterizer
	ocr    model.OCR
	cfg    AnalyzerConfig
	log    *zap.Logger
}

func NewAnalyzer(raster model.Rasterizer, ocr model.OCR, cfg AnalyzerConfig, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HeaderScoreThreshold == 0 {
		cfg.HeaderScoreThreshold = 0.20
	}
	if cfg.HeaderScoreThresholdImage == 0 {
		cfg.HeaderScoreThresholdImage = 0.15
	}
	return &Analyzer{raster: raster, ocr: ocr, cfg: cfg, log: log}
}

// HeaderScore is the share of bag labels found in the text, case-folded.
func HeaderScore(text string) float64 {
	folded := strings.ToLower(text)
	matched := 0
	for _, label := range headerLabels {
		if strings.Contains(folded, label) {
			matched++
		}
	}
	return float64(matched) / float64(len(headerLabels))
}

// labelCount counts distinct bag labels present in the text.
func labelCount(text string) int {
	folded := strings.ToLower(text)
	n := 0
	for _, label := range headerLabels {
		if strings.Contains(folded, label) {
			n++
		}
	}
	return n
}

// Analyze inspects the file and returns its format, structure, chunk ranges
// and code-decided document class.
func (a *Analyzer) Analyze(ctx context.Context, fileBytes []byte, filename string) (*model.DocumentAnalysis, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if imageExts[ext] {
		return &model.DocumentAnalysis{
			Format:      model.FormatImageOnly,
			Structure:   model.StructureSingle,
			FormLayout:  model.LayoutFreeform,
			PageCount:   1,
			ChunkRanges: []model.PageRange{{Start: 0, End: 1}},
			DocClass:    model.DocClassSingleScanned,
		}, nil
	}

	texts, err := PageTexts(fileBytes)
	if err != nil {
		return nil, model.NewStageError(model.KindInputError, "analyze", err)
	}
	pageCount := len(texts)
	if pageCount == 0 {
		return nil, model.NewStageError(model.KindInputError, "analyze", fmt.Errorf("pdf has no pages"))
	}

	analysis := &model.DocumentAnalysis{PageCount: pageCount}
	analysis.Format = detectFormat(texts)

	threshold := a.cfg.HeaderScoreThreshold
	if analysis.Format != model.FormatNativeText {
		threshold = a.cfg.HeaderScoreThresholdImage
	}

	scores := make([]float64, pageCount)
	topBand := make([]bool, pageCount)
	for i := 0; i < pageCount; i++ {
		pageText := texts[i]
		if pageText == "" {
			strip, band, perr := a.inspectPage(ctx, fileBytes, i)
			if perr != nil {
				analysis.Signals = append(analysis.Signals, fmt.Sprintf("page_%d_raster_failed: %v", i, perr))
			}
			pageText = strip
			topBand[i] = band
		} else {
			pageText = topStripText(pageText)
		}
		scores[i] = HeaderScore(pageText)
	}

	starts := make([]bool, pageCount)
	starts[0] = true
	for i := 1; i < pageCount; i++ {
		starts[i] = scores[i] >= threshold || topBand[i]
	}

	refineStarts(starts, scores, topBand, threshold, analysis)

	analysis.ChunkRanges = rangesFromStarts(starts)
	if len(analysis.ChunkRanges) > 1 {
		analysis.Structure = model.StructureMulti
	} else {
		analysis.Structure = model.StructureSingle
	}

	fullText := strings.Join(texts, "\n")
	analysis.FormLayout = model.LayoutFreeform
	if analysis.Format == model.FormatNativeText && labelCount(fullText) >= 3 {
		analysis.FormLayout = model.LayoutTypedForm
	}

	a.decideClass(analysis, texts, scores, threshold)

	a.log.Debug("document analyzed",
		zap.String("filename", filename),
		zap.Int("pages", pageCount),
		zap.String("format", string(analysis.Format)),
		zap.String("doc_class", string(analysis.DocClass)),
		zap.Int("chunks", len(analysis.ChunkRanges)))
	return analysis, nil
}

func detectFormat(texts []string) model.DocFormat {
	withText, withoutText := 0, 0
	for _, t := range texts {
		if len(strings.TrimSpace(t)) > 0 {
			withText++
		} else {
			withoutText++
		}
	}
	switch {
	case withoutText == 0:
		return model.FormatNativeText
	case withText == 0:
		return model.FormatImageOnly
	default:
		return model.FormatHybrid
	}
}

// refineStarts applies the over-chunking demotion and the periodic probe.
func refineStarts(starts []bool, scores []float64, topBand []bool, threshold float64, analysis *model.DocumentAnalysis) {
	n := len(starts)

	// Every page claiming to be a start with thin dark-band evidence means
	// the header bag is matching continuation pages; demote bandless ones.
	all := true
	bands := 0
	for i := 0; i < n; i++ {
		if !starts[i] {
			all = false
		}
		if topBand[i] {
			bands++
		}
	}
	if all && n > 1 && bands > 0 && bands < n {
		for i := 1; i < n; i++ {
			if !topBand[i] {
				starts[i] = false
			}
		}
		analysis.Signals = append(analysis.Signals, "over_chunking_demoted")
	}

	// One detected start in a long document: the official form runs 2-3
	// pages, so probe a fixed stride for buried headers.
	count := 0
	for i := 0; i < n; i++ {
		if starts[i] {
			count++
		}
	}
	if n >= 6 && count == 1 {
		probed := 0
		for i := 2; i < n; i += 2 {
			if scores[i] >= threshold/2 {
				starts[i] = true
				probed++
			}
		}
		if probed > 0 {
			analysis.Signals = append(analysis.Signals, fmt.Sprintf("periodic_probe_starts=%d", probed))
		}
	}
}

func rangesFromStarts(starts []bool) []model.PageRange {
	var ranges []model.PageRange
	begin := 0
	for i := 1; i < len(starts); i++ {
		if starts[i] {
			ranges = append(ranges, model.PageRange{Start: begin, End: i})
			begin = i
		}
	}
	ranges = append(ranges, model.PageRange{Start: begin, End: len(starts)})
	return ranges
}

func (a *Analyzer) decideClass(analysis *model.DocumentAnalysis, texts []string, scores []float64, threshold float64) {
	multi := analysis.Structure == model.StructureMulti

	switch {
	case analysis.Format == model.FormatImageOnly && multi:
		analysis.DocClass = model.DocClassBulkScannedBatch
		analysis.IsScannedMultiSubmission = true
		// Bulk batches degenerate to one chunk per page.
		ranges := make([]model.PageRange, analysis.PageCount)
		for i := range ranges {
			ranges[i] = model.PageRange{Start: i, End: i + 1}
		}
		analysis.ChunkRanges = ranges
	case multi:
		analysis.DocClass = model.DocClassMultiPageSingle
		if alternating(analysis.ChunkRanges, analysis.PageCount) {
			analysis.IsScannedMultiSubmission = true
			analysis.Signals = append(analysis.Signals, "multi_entry_pattern")
		}
	case analysis.PageCount > 1:
		analysis.DocClass = model.DocClassMultiPageSingle
	case analysis.Format == model.FormatNativeText:
		analysis.DocClass = model.DocClassSingleTyped
	case analysis.Format == model.FormatImageOnly:
		analysis.DocClass = model.DocClassSingleScanned
	default:
		analysis.DocClass = model.DocClassSingleScanned
	}

	// A single page whose header scores but whose body carries no form
	// labels is an essay with a metadata header, not a form.
	if analysis.Structure == model.StructureSingle && analysis.PageCount == 1 &&
		scores[0] >= threshold && labelCount(bodyText(texts[0])) <= 1 &&
		WordCount(bodyText(texts[0])) >= 30 {
		analysis.DocClass = model.DocClassEssayHeader
		analysis.FormLayout = model.LayoutFreeform
	}
}

// alternating reports whether chunk ranges follow the 2-page metadata/essay
// rhythm of multi-entry uploads: at least 4 pages and at least 70% of chunks
// exactly two pages long.
func alternating(ranges []model.PageRange, pageCount int) bool {
	if pageCount < 4 || len(ranges) < 2 {
		return false
	}
	twos := 0
	for _, r := range ranges {
		if r.End-r.Start == 2 {
			twos++
		}
	}
	return float64(twos)/float64(len(ranges)) >= 0.7
}

// topStripText approximates the rendered top strip for a text-layer page:
// the first quarter of its lines, minimum three.
func topStripText(pageText string) string {
	lines := strings.Split(pageText, "\n")
	n := len(lines) / 4
	if n < 3 {
		n = 3
	}
	if n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[:n], "\n")
}

func bodyText(pageText string) string {
	lines := strings.Split(pageText, "\n")
	n := len(lines) / 4
	if n < 3 {
		n = 3
	}
	if n >= len(lines) {
		return ""
	}
	return strings.Join(lines[n:], "\n")
}

// inspectPage rasterizes one page, reads its dark bands, and OCRs the top
// strip for header scoring. Returns the strip text and whether a dark band
// touches the top of the page. Raster or OCR failure degrades to empty
// evidence.
func (a *Analyzer) inspectPage(ctx context.Context, fileBytes []byte, page int) (string, bool, error) {
	if a.raster == nil {
		return "", false, nil
	}
	imgBytes, err := a.raster.RenderPage(ctx, fileBytes, page)
	if err != nil {
		return "", false, err
	}
	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return "", false, fmt.Errorf("decode page render: %w", err)
	}

	band := hasTopDarkBand(img)

	if a.ocr == nil {
		return "", band, nil
	}
	strip, err := encodeTopStrip(img)
	if err != nil {
		return "", band, err
	}
	res, err := a.ocr.OCRImage(ctx, strip)
	if err != nil || res == nil || res.OCRFailed {
		return "", band, nil
	}
	return res.FullText, band, nil
}

// hasTopDarkBand scans row luminance for a contiguous dark run at least 2%
// of the page tall that intersects the top 15%.
func hasTopDarkBand(img image.Image) bool {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h == 0 || w == 0 {
		return false
	}
	minRun := int(float64(h) * darkBandMinFrac)
	if minRun < 1 {
		minRun = 1
	}
	topLimit := int(float64(h) * darkBandTopFrac)

	run, runStart := 0, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		var sum float64
		for x := b.Min.X; x < b.Max.X; x += 4 {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
		mean := sum / float64((w+3)/4)
		if mean < darkLuminance {
			if run == 0 {
				runStart = y - b.Min.Y
			}
			run++
			if run >= minRun && runStart <= topLimit {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func encodeTopStrip(img image.Image) ([]byte, error) {
	b := img.Bounds()
	stripH := int(float64(b.Dy()) * headerStripFrac)
	if stripH < 1 {
		stripH = b.Dy()
	}
	rect := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+stripH)

	var strip image.Image = img
	if si, ok := img.(subImager); ok {
		strip = si.SubImage(rect)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, strip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
