package detection

import (
	"context"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/uiscope/uiscope/pkg/processing"
	"github.com/uiscope/uiscope/pkg/types"
)

// fakeClient returns a canned response and records the prompt it was given.
type fakeClient struct {
	response string
	err      error
	prompt   string
}

func (f *fakeClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	return img
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

const validResponse = `{
	"events": [
		{"item_no": 1, "category": "nav", "action": "click", "label": "Home", "description": "top nav link"}
	],
	"annotations": [
		{"item_no": 1, "label": "Home", "bbox": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.1}, "confidence": 0.9}
	]
}`

func TestParseResultValid(t *testing.T) {
	result, err := ParseResult(validResponse)
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	if len(result.Events) != 1 || len(result.Annotations) != 1 {
		t.Fatalf("lengths = %d events, %d annotations", len(result.Events), len(result.Annotations))
	}
	if result.Events[0].Label != "Home" || result.Annotations[0].Box.W != 0.3 {
		t.Errorf("parsed result = %+v", result)
	}
}

func TestParseResultStripsCodeFences(t *testing.T) {
	fenced := "```json\n" + validResponse + "\n```"
	result, err := ParseResult(fenced)
	if err != nil {
		t.Fatalf("ParseResult failed on fenced input: %v", err)
	}
	if len(result.Annotations) != 1 {
		t.Errorf("annotations = %d, want 1", len(result.Annotations))
	}
}

func TestParseResultTrailingCommas(t *testing.T) {
	raw := `{"events": [{"item_no": 1, "category": "a", "action": "b", "label": "c", "description": "d",},], "annotations": [],}`
	result, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult failed on trailing commas: %v", err)
	}
	if len(result.Events) != 1 {
		t.Errorf("events = %d, want 1", len(result.Events))
	}
}

func TestParseResultDefaultsMissingArrays(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		wantEvents      int
		wantAnnotations int
	}{
		{"missing annotations", `{"events": [{"item_no": 1, "category": "a", "action": "b", "label": "c", "description": "d"}]}`, 1, 0},
		{"missing events", `{"annotations": [{"item_no": 1, "label": "x", "bbox": {"x": 0, "y": 0, "w": 0.5, "h": 0.5}}]}`, 0, 1},
		{"both missing", `{}`, 0, 0},
		{"non-array annotations", `{"events": [], "annotations": "oops"}`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResult(tt.raw)
			if err != nil {
				t.Fatalf("ParseResult failed: %v", err)
			}
			if result.Events == nil || result.Annotations == nil {
				t.Fatal("missing arrays must default to empty, not nil")
			}
			if len(result.Events) != tt.wantEvents || len(result.Annotations) != tt.wantAnnotations {
				t.Errorf("lengths = %d events, %d annotations, want %d and %d",
					len(result.Events), len(result.Annotations), tt.wantEvents, tt.wantAnnotations)
			}
		})
	}
}

func TestParseResultRejectsInvalidTopLevel(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain prose", "I could not find any UI elements in this image."},
		{"empty", ""},
		{"array top level", `[1, 2, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResult(tt.raw); err == nil {
				t.Error("expected structurally invalid response to be rejected")
			}
		})
	}
}

func TestAnalyzeRenumbersItems(t *testing.T) {
	// Model numbered items 3 and 7; they must come back as 1 and 2 with
	// events remapped to match.
	fake := &fakeClient{response: `{
		"events": [
			{"item_no": 3, "category": "a", "action": "b", "label": "first", "description": ""},
			{"item_no": 7, "category": "a", "action": "b", "label": "second", "description": ""}
		],
		"annotations": [
			{"item_no": 3, "label": "first", "bbox": {"x": 0.1, "y": 0.1, "w": 0.2, "h": 0.2}},
			{"item_no": 7, "label": "second", "bbox": {"x": 0.5, "y": 0.5, "w": 0.2, "h": 0.2}}
		]
	}`}
	d := NewDetector(fake, processing.NewProcessor())

	result, err := d.Analyze(context.Background(), "test-model", Request{Image: createTestImage(200, 100)})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	for i, a := range result.Annotations {
		if a.ItemNo != i+1 {
			t.Errorf("annotation %d has item_no %d, want %d", i, a.ItemNo, i+1)
		}
	}
	if result.Events[0].ItemNo != 1 || result.Events[1].ItemNo != 2 {
		t.Errorf("event item_nos = %d, %d, want 1, 2", result.Events[0].ItemNo, result.Events[1].ItemNo)
	}
}

func TestAnalyzeMapsSelectionBackToFullImage(t *testing.T) {
	// The model sees only the cropped selection; a box covering the middle
	// of the crop must come back in full-image coordinates.
	fake := &fakeClient{response: `{
		"events": [{"item_no": 1, "category": "a", "action": "b", "label": "x", "description": ""}],
		"annotations": [{"item_no": 1, "label": "x", "bbox": {"x": 0.25, "y": 0.25, "w": 0.5, "h": 0.5}}]
	}`}
	d := NewDetector(fake, processing.NewProcessor())

	sel := &types.Box{X: 0.5, Y: 0.5, W: 0.4, H: 0.4}
	result, err := d.Analyze(context.Background(), "test-model", Request{
		Image:     createTestImage(400, 400),
		Selection: sel,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	got := result.Annotations[0].Box
	want := types.Box{X: 0.6, Y: 0.6, W: 0.2, H: 0.2}
	if !approxEqual(got.X, want.X) || !approxEqual(got.Y, want.Y) || !approxEqual(got.W, want.W) || !approxEqual(got.H, want.H) {
		t.Errorf("mapped box = %+v, want %+v", got, want)
	}
}

func TestAnalyzeClampsBoxes(t *testing.T) {
	fake := &fakeClient{response: `{
		"events": [],
		"annotations": [{"item_no": 1, "label": "x", "bbox": {"x": -0.5, "y": 0.5, "w": 3, "h": 0.2}}]
	}`}
	d := NewDetector(fake, processing.NewProcessor())

	result, err := d.Analyze(context.Background(), "test-model", Request{Image: createTestImage(100, 100)})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	box := result.Annotations[0].Box
	if box.X < 0 || box.W > 1 {
		t.Errorf("box not clamped: %+v", box)
	}
}

func TestBuildPromptCarriesContext(t *testing.T) {
	fake := &fakeClient{response: `{"events": [], "annotations": []}`}
	d := NewDetector(fake, processing.NewProcessor())

	_, err := d.Analyze(context.Background(), "test-model", Request{
		Image:        createTestImage(100, 100),
		CustomRules:  "ignore decorative icons",
		ExistingTags: "login-button, search-field",
		Language:     "German",
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	for _, want := range []string{"ignore decorative icons", "login-button, search-field", "German"} {
		if !strings.Contains(fake.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
