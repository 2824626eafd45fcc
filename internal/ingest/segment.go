package ingest

import (
	"strings"

	"essaypipe/internal/model"
)

// essayAnchors mark the first line of the essay body.
var essayAnchors = []string{
	"what my father",
	"what my father means",
	"lo que mi padre",
	"que significa mi padre",
}

// reactionAnchors mark the end of the essay body.
var reactionAnchors = []string{
	"reaction to this essay",
	"father-figure reaction",
	"reacción a este ensayo",
}

const (
	contactMinLines = 10
	contactMaxFrac  = 0.40
)

// contactProfile gives the fallback contact-block height per document class
// when no essay anchor is found.
var contactProfile = map[model.DocClass]int{
	model.DocClassSingleTyped:      20,
	model.DocClassSingleScanned:    15,
	model.DocClassMultiPageSingle:  20,
	model.DocClassBulkScannedBatch: 15,
	model.DocClassEssayHeader:      8,
}

// Segments is the two-way split of a submission's raw text.
type Segments struct {
	ContactBlock string
	EssayBlock   string
	AnchorFound  bool
}

// Segment splits raw text into the contact block and the essay block. The
// split point is the first essay-prompt anchor; absent one, the class profile
// decides how many leading lines form the contact block.
func Segment(raw string, docClass model.DocClass) Segments {
	lines := strings.Split(raw, "\n")
	total := len(lines)

	anchor := -1
	for i, line := range lines {
		folded := strings.ToLower(line)
		for _, a := range essayAnchors {
			if strings.Contains(folded, a) {
				anchor = i
				break
			}
		}
		if anchor >= 0 {
			break
		}
	}

	if anchor < 0 {
		n := contactProfile[docClass]
		if n == 0 {
			n = contactMinLines
		}
		if n > total {
			n = total
		}
		return Segments{
			ContactBlock: strings.Join(lines[:n], "\n"),
			EssayBlock:   strings.Join(lines[n:], "\n"),
		}
	}

	cut := anchor
	if cut < contactMinLines {
		cut = contactMinLines
	}
	if max := int(float64(total) * contactMaxFrac); cut > max && max >= anchor {
		cut = max
	}
	if cut > total {
		cut = total
	}

	end := total
	for i := anchor + 1; i < total; i++ {
		folded := strings.ToLower(lines[i])
		for _, a := range reactionAnchors {
			if strings.Contains(folded, a) {
				end = i
				break
			}
		}
		if end != total {
			break
		}
	}

	essayStart := cut
	if anchor >= cut {
		essayStart = anchor
	}
	if essayStart > end {
		essayStart = end
	}
	return Segments{
		ContactBlock: strings.Join(lines[:cut], "\n"),
		EssayBlock:   strings.Join(lines[essayStart:end], "\n"),
		AnchorFound:  true,
	}
}
