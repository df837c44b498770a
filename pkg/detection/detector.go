package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/uiscope/uiscope/pkg/client"
	"github.com/uiscope/uiscope/pkg/processing"
	"github.com/uiscope/uiscope/pkg/types"
)

// DefaultPrompt pins the output shape for UI element detection. The model
// must return one events array and one annotations array joined by item_no,
// numbered from 1.
const DefaultPrompt = `You are a UI screenshot analyst. Detect interactive UI elements
(buttons, links, inputs, toggles, menus, tabs) in the image.

Return JSON only:
{
  "events": [
    {"item_no": 1, "category": "string", "action": "string", "label": "string", "description": "string"}
  ],
  "annotations": [
    {"item_no": 1, "label": "string", "bbox": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}, "confidence": 0.0}
  ]
}

HARD RULES
- All bbox coordinates are normalized to [0,1] (NOT pixels).
- item_no starts at 1 and increments by 1; each event pairs with the
  annotation carrying the same item_no.
- Boxes must tightly enclose the visible element.
- If no elements are found, return {"events": [], "annotations": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Request is one analysis call for a single document. Selection, when set,
// restricts detection to that normalized region; returned boxes are mapped
// back into full-image coordinates.
type Request struct {
	Image        image.Image
	Selection    *types.Box
	CustomRules  string
	ExistingTags string
	Language     string
}

// Detector runs UI element detection through a vision client.
type Detector struct {
	client client.VisionClient
	proc   *processing.Processor

	// Settings for the image handed to the model.
	SendFormat  string
	SendSize    int
	SendQuality int
}

// NewDetector creates a detector with default send settings.
func NewDetector(c client.VisionClient, proc *processing.Processor) *Detector {
	return &Detector{
		client:      c,
		proc:        proc,
		SendFormat:  "jpg",
		SendSize:    1536,
		SendQuality: 85,
	}
}

// Analyze runs one detection call and returns the structured result. Per
// the error taxonomy: cancellation and credential errors pass through
// untouched, malformed-but-salvageable responses degrade to empty lists,
// and only a structurally invalid top-level shape is an error.
func (d *Detector) Analyze(ctx context.Context, model string, req Request) (*types.AnalysisResult, error) {
	if req.Image == nil {
		return nil, fmt.Errorf("no image to analyze")
	}

	img := req.Image
	scope := req.Selection
	if scope != nil && scope.Empty() {
		scope = nil
	}
	if scope != nil {
		cropped, err := d.proc.CropToBox(img, *scope)
		if err != nil {
			return nil, fmt.Errorf("selection crop failed: %w", err)
		}
		img = cropped
	}

	imgB64, err := d.proc.PrepareImageForModel(img, d.SendFormat, d.SendSize, d.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	raw, err := d.client.Query(ctx, model, d.buildPrompt(req), imgB64)
	if err != nil {
		return nil, err
	}

	result, err := ParseResult(raw)
	if err != nil {
		return nil, err
	}

	postProcess(result, scope)
	return result, nil
}

// buildPrompt extends the base prompt with per-document context.
func (d *Detector) buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(DefaultPrompt)

	if req.Selection != nil && !req.Selection.Empty() {
		b.WriteString("\n\nThe image is a cropped region of a larger screenshot; analyze everything visible.")
	}
	if rules := strings.TrimSpace(req.CustomRules); rules != "" {
		b.WriteString("\n\nADDITIONAL RULES\n")
		b.WriteString(rules)
	}
	if tags := strings.TrimSpace(req.ExistingTags); tags != "" {
		b.WriteString("\n\nEXISTING TAGS (keep naming consistent with these)\n")
		b.WriteString(tags)
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		b.WriteString("\n\nWrite label and description values in ")
		b.WriteString(lang)
		b.WriteString(".")
	}
	return b.String()
}

// postProcess clamps boxes, maps selection-relative coordinates back to the
// full image, and renumbers item_no into a contiguous sequence from 1.
func postProcess(result *types.AnalysisResult, scope *types.Box) {
	renumber := map[int]int{}
	for i := range result.Annotations {
		a := &result.Annotations[i]
		a.Box = a.Box.Clamp()
		if scope != nil {
			a.Box = types.Box{
				X: scope.X + a.Box.X*scope.W,
				Y: scope.Y + a.Box.Y*scope.H,
				W: a.Box.W * scope.W,
				H: a.Box.H * scope.H,
			}
		}
		if a.ItemNo > 0 {
			renumber[a.ItemNo] = i + 1
		}
		a.ItemNo = i + 1
	}
	for i := range result.Events {
		e := &result.Events[i]
		if n, ok := renumber[e.ItemNo]; ok {
			e.ItemNo = n
		}
	}
}
