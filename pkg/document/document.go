// Package document owns ingested screenshots and all per-document mutable
// state: pending selection, analysis result and analyzer context strings.
package document

import (
	"image"

	"github.com/uiscope/uiscope/pkg/types"
)

// Document is one ingested screenshot under analysis. The id is assigned
// once at ingestion and never reused; natural dimensions are known as soon
// as the image decodes.
type Document struct {
	ID     int
	Name   string
	Image  image.Image
	Width  int
	Height int

	// Pending selection scoping the next analysis request. Replaced
	// wholesale on each new drag, nil when cleared.
	Selection *types.Box

	// Result of the last analysis, nil before the first run.
	Result *types.AnalysisResult

	// Free-text context passed to the analyzer.
	CustomRules  string
	ExistingTags string
}

// HasResult reports whether the document already carries an analysis
// result. The selection engine uses this to pick annotate mode.
func (d *Document) HasResult() bool {
	return d.Result != nil
}

// NextItemNo returns the item number a newly committed annotation gets:
// one past the current count, keeping the sequence contiguous from 1.
func (d *Document) NextItemNo() int {
	if d.Result == nil {
		return 1
	}
	return len(d.Result.Annotations) + 1
}
